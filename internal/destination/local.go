package destination

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Local copies files under a destination root on the same machine (or a
// mounted network share), preserving relative paths.
type Local struct {
	root   string
	logger zerolog.Logger
}

func NewLocal(root string, logger zerolog.Logger) *Local {
	return &Local{
		root:   root,
		logger: logger.With().Str("component", "local-destination").Logger(),
	}
}

func (d *Local) TestConnection(ctx context.Context) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create destination root %s: %w", d.root, err)
	}
	// Probe writability; a read-only mount should fail the pre-flight,
	// not the first file.
	probe := filepath.Join(d.root, ".backup-write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("destination root %s not writable: %w", d.root, err)
	}
	os.Remove(probe)
	return nil
}

func (d *Local) Upload(ctx context.Context, localPath, key string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if err := d.UploadStream(ctx, key, src, info.Size()); err != nil {
		return err
	}
	return nil
}

func (d *Local) UploadStream(ctx context.Context, key string, r io.Reader, size int64) error {
	dst := d.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	// Write to a temp file in the same directory, then rename, so a
	// crashed copy never leaves a truncated file under the final name.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s into place: %w", key, err)
	}

	d.logger.Debug().Str("key", key).Int64("size", size).Msg("copied file")
	return nil
}

func (d *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(d.keyPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

func (d *Local) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.keyPath(key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

func (d *Local) Delete(ctx context.Context, key string) error {
	if err := os.Remove(d.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (d *Local) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	base := d.keyPath(prefix)

	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return objects, nil
}

func (d *Local) URI(key string) string {
	return d.keyPath(key)
}

func (d *Local) keyPath(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}
