// Package destination abstracts the pluggable backup sinks: a local
// filesystem tree, a remote rsync-over-SSH target, and an S3-compatible
// object store.
package destination

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/edvin/photovault/internal/model"
	"github.com/edvin/photovault/internal/retry"
)

// Object is one stored entry at the destination.
type Object struct {
	Key  string
	Size int64
}

// Destination is the capability set every backup sink implements. Keys are
// storage-root-relative paths using forward slashes.
type Destination interface {
	// TestConnection verifies the destination is reachable and writable
	// enough to start a run. Called once as a pre-flight check.
	TestConnection(ctx context.Context) error
	Upload(ctx context.Context, localPath, key string) error
	// UploadStream writes from a reader, used for content produced
	// in-memory (manifests, summary reports).
	UploadStream(ctx context.Context, key string, r io.Reader, size int64) error
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	// URI renders the externally meaningful address of a key, recorded in
	// backup_runs.manifest_path (e.g. "s3://bucket/manifests/x.json").
	URI(key string) string
}

// Resolve selects and constructs the adapter for the configured
// destination type.
func Resolve(cfg *model.BackupConfiguration, logger zerolog.Logger) (Destination, error) {
	switch cfg.DestinationType {
	case model.DestinationLocal:
		return NewLocal(cfg.LocalPath, logger), nil
	case model.DestinationRsync:
		return NewRsync(RsyncConfig{
			Host:       cfg.RsyncHost,
			User:       cfg.RsyncUser,
			Path:       cfg.RsyncPath,
			Port:       cfg.RsyncPort,
			SSHKeyPath: cfg.RsyncSSHKeyPath,
		}, logger), nil
	case model.DestinationS3:
		return NewS3(S3Config{
			Bucket:      cfg.S3Bucket,
			Region:      cfg.S3Region,
			Endpoint:    cfg.S3Endpoint,
			AccessKey:   cfg.S3AccessKey,
			SecretKey:   cfg.S3SecretKey,
			PathStyle:   cfg.S3PathStyle,
			UseTLS:      cfg.S3UseTLS,
			RetryPolicy: retry.PolicyFromConfig(cfg.S3MaxRetries, cfg.S3RetryDelayMS),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown destination type %q", cfg.DestinationType)
	}
}
