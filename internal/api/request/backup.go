package request

// ValidateManifest holds the request body for the standalone manifest
// integrity check. Path is a local filesystem path or a destination URI
// (s3://bucket/key, user@host:path).
type ValidateManifest struct {
	ManifestPath string `json:"manifest_path" validate:"required"`
}

// CleanupRuns holds the request body for pruning old backup run records.
// A zero RetentionDays falls back to the configured retention.
type CleanupRuns struct {
	RetentionDays int `json:"retention_days" validate:"omitempty,min=1"`
}
