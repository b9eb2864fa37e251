package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/edvin/photovault/internal/model"
)

// Storage tree areas relative to the storage root.
const (
	areaActiveEvents   = "events/active"
	areaArchivedEvents = "events/archived"
	areaThumbnails     = "thumbnails"
	areaUploads        = "uploads"
)

// Candidate is one file the enumerator offers for backup. RelPath uses
// forward slashes and doubles as the destination key and the FileState
// lookup key.
type Candidate struct {
	RelPath  string
	AbsPath  string
	Size     int64
	Checksum string
}

// Enumerator walks the storage tree's logical areas and yields candidate
// files. A fresh walk is performed each run; the sequence is finite and
// not restartable.
type Enumerator struct {
	root   string
	cfg    *model.BackupConfiguration
	logger zerolog.Logger
}

func NewEnumerator(root string, cfg *model.BackupConfiguration, logger zerolog.Logger) *Enumerator {
	return &Enumerator{
		root:   root,
		cfg:    cfg,
		logger: logger.With().Str("component", "enumerator").Logger(),
	}
}

// Walk streams candidates to fn in walk order. Oversized files are skipped
// and logged, never erroring the run. A missing area directory is skipped
// silently (a fresh install has no archives yet).
func (e *Enumerator) Walk(ctx context.Context, fn func(Candidate) error) error {
	areas := []string{areaActiveEvents}
	if e.cfg.IncludeArchived {
		areas = append(areas, areaArchivedEvents)
	}
	areas = append(areas, areaThumbnails, areaUploads)

	maxSize := int64(e.cfg.MaxFileSizeMB) * 1024 * 1024

	for _, area := range areas {
		base := filepath.Join(e.root, filepath.FromSlash(area))
		err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if entry.IsDir() {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				// The file vanished between listing and stat; a live
				// storage tree does that. Skip it.
				e.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable file")
				return nil
			}

			if maxSize > 0 && info.Size() > maxSize {
				e.logger.Info().
					Str("path", path).
					Int64("size", info.Size()).
					Int64("max_size", maxSize).
					Msg("skipping oversized file")
				return nil
			}

			rel, err := filepath.Rel(e.root, path)
			if err != nil {
				return fmt.Errorf("relative path for %s: %w", path, err)
			}

			checksum, err := FileChecksum(path)
			if err != nil {
				e.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable file")
				return nil
			}

			return fn(Candidate{
				RelPath:  filepath.ToSlash(rel),
				AbsPath:  path,
				Size:     info.Size(),
				Checksum: checksum,
			})
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", area, err)
		}
	}

	return nil
}

// FileChecksum returns the hex SHA-256 of the file's content.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
