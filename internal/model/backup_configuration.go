package model

import "fmt"

// BackupConfiguration is the typed view of the backup settings rows in
// app_settings. It is resolved once at the start of every run and never
// mutated mid-run.
type BackupConfiguration struct {
	Enabled         bool   `json:"enabled"`
	DestinationType string `json:"destination_type" validate:"oneof=local rsync s3"`
	Schedule        string `json:"schedule"`
	Incremental     bool   `json:"incremental"`
	IncludeArchived bool   `json:"include_archived"`
	IncludeDatabase bool   `json:"include_database"`
	MaxFileSizeMB   int    `json:"max_file_size_mb" validate:"min=0"`
	ManifestFormat  string `json:"manifest_format" validate:"oneof=json yaml"`
	EmailOnFailure  bool   `json:"email_on_failure"`
	RetentionDays   int    `json:"retention_days" validate:"min=0"`

	// Local destination.
	LocalPath string `json:"local_path,omitempty"`

	// Rsync destination.
	RsyncHost       string `json:"rsync_host,omitempty"`
	RsyncUser       string `json:"rsync_user,omitempty"`
	RsyncPath       string `json:"rsync_path,omitempty"`
	RsyncPort       int    `json:"rsync_port,omitempty"`
	RsyncSSHKeyPath string `json:"rsync_ssh_key_path,omitempty"`

	// S3-compatible destination.
	S3Bucket       string `json:"s3_bucket,omitempty"`
	S3Region       string `json:"s3_region,omitempty"`
	S3Endpoint     string `json:"s3_endpoint,omitempty"`
	S3AccessKey    string `json:"s3_access_key,omitempty"`
	S3SecretKey    string `json:"s3_secret_key,omitempty"`
	S3PathStyle    bool   `json:"s3_path_style,omitempty"`
	S3UseTLS       bool   `json:"s3_use_tls,omitempty"`
	S3MaxRetries   int    `json:"s3_max_retries,omitempty" validate:"min=0"`
	S3RetryDelayMS int    `json:"s3_retry_delay_ms,omitempty" validate:"min=0"`
}

const (
	DestinationLocal = "local"
	DestinationRsync = "rsync"
	DestinationS3    = "s3"
)

const (
	ManifestFormatJSON = "json"
	ManifestFormatYAML = "yaml"
)

// ValidateDestination enforces destination-specific required fields up
// front so a misconfigured run fails before a single file is touched.
func (c *BackupConfiguration) ValidateDestination() error {
	switch c.DestinationType {
	case DestinationLocal:
		if c.LocalPath == "" {
			return fmt.Errorf("local backup configuration incomplete: destination path missing")
		}
	case DestinationRsync:
		if c.RsyncHost == "" || c.RsyncUser == "" || c.RsyncPath == "" {
			return fmt.Errorf("rsync backup configuration incomplete: host, user and path are required")
		}
	case DestinationS3:
		if c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3 backup configuration incomplete: bucket, access key and secret key are required")
		}
	}
	return nil
}
