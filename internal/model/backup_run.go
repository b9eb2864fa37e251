package model

import "time"

type BackupRun struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FilesBackedUp  int        `json:"files_backed_up"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	ManifestPath   *string    `json:"manifest_path,omitempty"`
	ManifestID     *string    `json:"manifest_id,omitempty"`
}

const (
	BackupTypeFull        = "full"
	BackupTypeIncremental = "incremental"
)

const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)
