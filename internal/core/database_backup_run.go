package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/photovault/internal/model"
)

type DatabaseBackupRunService struct {
	db DB
}

func NewDatabaseBackupRunService(db DB) *DatabaseBackupRunService {
	return &DatabaseBackupRunService{db: db}
}

// Latest returns the newest database snapshot record, or nil when the dump
// job has never run.
func (s *DatabaseBackupRunService) Latest(ctx context.Context) (*model.DatabaseBackupRun, error) {
	var r model.DatabaseBackupRun
	err := s.db.QueryRow(ctx,
		`SELECT id, dump_path, checksum, size_bytes, has_changed, created_at
		 FROM database_backup_runs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.DumpPath, &r.Checksum, &r.SizeBytes, &r.HasChanged, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest database backup run: %w", err)
	}
	return &r, nil
}

// MarkShipped clears the has_changed flag after the dump has been uploaded,
// so an unchanged database is not re-shipped on the next run.
func (s *DatabaseBackupRunService) MarkShipped(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE database_backup_runs SET has_changed = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark database backup run %s shipped: %w", id, err)
	}
	return nil
}
