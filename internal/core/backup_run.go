package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/photovault/internal/model"
)

type BackupRunService struct {
	db DB
}

func NewBackupRunService(db DB) *BackupRunService {
	return &BackupRunService{db: db}
}

func (s *BackupRunService) Create(ctx context.Context, run *model.BackupRun) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_runs (id, type, status, started_at, completed_at, files_backed_up, total_size_bytes, error_message, manifest_path, manifest_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Type, run.Status, run.StartedAt, run.CompletedAt,
		run.FilesBackedUp, run.TotalSizeBytes, run.ErrorMessage,
		run.ManifestPath, run.ManifestID,
	)
	if err != nil {
		return fmt.Errorf("insert backup run: %w", err)
	}
	return nil
}

// Finish writes the single terminal update for a run. Every run row gets
// exactly one of these, whatever the outcome. Type is included because a
// broken incremental chain demotes the run to full mid-flight.
func (s *BackupRunService) Finish(ctx context.Context, run *model.BackupRun) error {
	_, err := s.db.Exec(ctx,
		`UPDATE backup_runs
		 SET type = $1, status = $2, completed_at = $3, files_backed_up = $4, total_size_bytes = $5, error_message = $6, manifest_path = $7, manifest_id = $8
		 WHERE id = $9`,
		run.Type, run.Status, run.CompletedAt, run.FilesBackedUp, run.TotalSizeBytes,
		run.ErrorMessage, run.ManifestPath, run.ManifestID, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish backup run %s: %w", run.ID, err)
	}
	return nil
}

func (s *BackupRunService) GetByID(ctx context.Context, id string) (*model.BackupRun, error) {
	var r model.BackupRun
	err := s.db.QueryRow(ctx,
		`SELECT id, type, status, started_at, completed_at, files_backed_up, total_size_bytes, error_message, manifest_path, manifest_id
		 FROM backup_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Type, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.FilesBackedUp, &r.TotalSizeBytes, &r.ErrorMessage,
		&r.ManifestPath, &r.ManifestID)
	if err != nil {
		return nil, fmt.Errorf("get backup run %s: %w", id, err)
	}
	return &r, nil
}

// ListRecent returns the newest runs first.
func (s *BackupRunService) ListRecent(ctx context.Context, limit int) ([]model.BackupRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, type, status, started_at, completed_at, files_backed_up, total_size_bytes, error_message, manifest_path, manifest_id
		 FROM backup_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backup runs: %w", err)
	}
	defer rows.Close()

	var runs []model.BackupRun
	for rows.Next() {
		var r model.BackupRun
		if err := rows.Scan(&r.ID, &r.Type, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.FilesBackedUp, &r.TotalSizeBytes, &r.ErrorMessage,
			&r.ManifestPath, &r.ManifestID); err != nil {
			return nil, fmt.Errorf("scan backup run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup runs: %w", err)
	}
	return runs, nil
}

// LastWithManifest returns the most recent run that completed and produced
// a manifest, used as the parent of an incremental chain. Returns nil
// without error when no such run exists.
func (s *BackupRunService) LastWithManifest(ctx context.Context) (*model.BackupRun, error) {
	var r model.BackupRun
	err := s.db.QueryRow(ctx,
		`SELECT id, type, status, started_at, completed_at, files_backed_up, total_size_bytes, error_message, manifest_path, manifest_id
		 FROM backup_runs
		 WHERE status IN ($1, $2) AND manifest_id IS NOT NULL
		 ORDER BY started_at DESC LIMIT 1`,
		model.RunStatusCompleted, model.RunStatusCompletedWithErrors,
	).Scan(&r.ID, &r.Type, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.FilesBackedUp, &r.TotalSizeBytes, &r.ErrorMessage,
		&r.ManifestPath, &r.ManifestID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last manifest run: %w", err)
	}
	return &r, nil
}

// CleanupOlderThan deletes run rows whose start time predates the retention
// cutoff and returns how many were removed. Manifests already shipped to the
// destination are untouched.
func (s *BackupRunService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_runs WHERE started_at < $1 AND status != $2`,
		cutoff, model.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("cleanup backup runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
