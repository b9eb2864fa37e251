package model

import "time"

// DatabaseBackupRun records one database snapshot produced by the dump
// job. HasChanged gates whether the dump is shipped with the next backup.
type DatabaseBackupRun struct {
	ID         string    `json:"id"`
	DumpPath   string    `json:"dump_path"`
	Checksum   string    `json:"checksum"`
	SizeBytes  int64     `json:"size_bytes"`
	HasChanged bool      `json:"has_changed"`
	CreatedAt  time.Time `json:"created_at"`
}
