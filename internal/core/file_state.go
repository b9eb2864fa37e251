package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/photovault/internal/model"
)

type FileStateService struct {
	db DB
}

func NewFileStateService(db DB) *FileStateService {
	return &FileStateService{db: db}
}

// Get returns the recorded state for a relative path, or nil when the path
// has never been backed up.
func (s *FileStateService) Get(ctx context.Context, filePath string) (*model.FileState, error) {
	var fs model.FileState
	err := s.db.QueryRow(ctx,
		`SELECT file_path, checksum, size_bytes, last_backed_up_at
		 FROM backup_file_states WHERE file_path = $1`, filePath,
	).Scan(&fs.FilePath, &fs.Checksum, &fs.SizeBytes, &fs.LastBackedUpAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file state %s: %w", filePath, err)
	}
	return &fs, nil
}

// LoadAll returns every recorded file state keyed by relative path. Loaded
// once per run so the differ never round-trips per candidate file.
func (s *FileStateService) LoadAll(ctx context.Context) (map[string]model.FileState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT file_path, checksum, size_bytes, last_backed_up_at FROM backup_file_states`)
	if err != nil {
		return nil, fmt.Errorf("load file states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]model.FileState)
	for rows.Next() {
		var fs model.FileState
		if err := rows.Scan(&fs.FilePath, &fs.Checksum, &fs.SizeBytes, &fs.LastBackedUpAt); err != nil {
			return nil, fmt.Errorf("scan file state: %w", err)
		}
		states[fs.FilePath] = fs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file states: %w", err)
	}
	return states, nil
}

// Upsert records the state of a successfully uploaded file. The checksum
// always reflects the content most recently shipped to the destination.
func (s *FileStateService) Upsert(ctx context.Context, fs *model.FileState) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_file_states (file_path, checksum, size_bytes, last_backed_up_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (file_path) DO UPDATE
		 SET checksum = EXCLUDED.checksum, size_bytes = EXCLUDED.size_bytes, last_backed_up_at = EXCLUDED.last_backed_up_at`,
		fs.FilePath, fs.Checksum, fs.SizeBytes, fs.LastBackedUpAt,
	)
	if err != nil {
		return fmt.Errorf("upsert file state %s: %w", fs.FilePath, err)
	}
	return nil
}
