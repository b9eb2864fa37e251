package model

import "time"

// FileState is the per-path checksum ledger row that makes incremental
// diffing possible. FilePath is relative to the storage root and doubles
// as the destination object key.
type FileState struct {
	FilePath       string    `json:"file_path"`
	Checksum       string    `json:"checksum"`
	SizeBytes      int64     `json:"size_bytes"`
	LastBackedUpAt time.Time `json:"last_backed_up_at"`
}
