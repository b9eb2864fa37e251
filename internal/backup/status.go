package backup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edvin/photovault/internal/model"
)

// recentRunsWindow is how many runs the status view reports.
const recentRunsWindow = 10

// Status is the admin-facing view of the backup service. The three cases
// "never ran", "last run failed" and "completed but files were skipped"
// are all distinguishable from LastRun's status and counts.
type Status struct {
	IsRunning        bool              `json:"is_running"`
	IsHealthy        bool              `json:"is_healthy"`
	LastRun          *model.BackupRun  `json:"last_run,omitempty"`
	RecentRuns       []model.BackupRun `json:"recent_runs"`
	NextScheduledRun *time.Time        `json:"next_scheduled_run,omitempty"`
}

// nextRunFunc is supplied by the scheduler when one is attached.
type nextRunFunc func() *time.Time

// AttachScheduler lets the status view report the next scheduled run.
func (o *Orchestrator) AttachScheduler(next nextRunFunc) {
	o.nextRun = next
}

// GetBackupStatus assembles the status view from the run history.
func (o *Orchestrator) GetBackupStatus(ctx context.Context) (*Status, error) {
	runs, err := o.runs.ListRecent(ctx, recentRunsWindow)
	if err != nil {
		return nil, err
	}

	status := &Status{
		IsRunning:  o.IsRunning(),
		IsHealthy:  true,
		RecentRuns: runs,
	}
	if len(runs) > 0 {
		status.LastRun = &runs[0]
		status.IsHealthy = runs[0].Status != model.RunStatusFailed
	}
	if o.nextRun != nil {
		status.NextScheduledRun = o.nextRun()
	}
	return status, nil
}

// GetBackupManifest returns the stored manifest and its rendered summary
// for a finished run.
func (o *Orchestrator) GetBackupManifest(ctx context.Context, runID string) (*Manifest, string, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	if run.ManifestPath == nil {
		return nil, "", fmt.Errorf("run %s has no manifest", runID)
	}

	m, err := o.LoadManifest(ctx, *run.ManifestPath)
	if err != nil {
		return nil, "", err
	}
	return m, GenerateSummaryReport(m), nil
}

// ValidateBackupManifest loads a manifest by path or URI and checks its
// structural completeness.
func (o *Orchestrator) ValidateBackupManifest(ctx context.Context, manifestPath string) (bool, *Manifest) {
	m, err := o.LoadManifest(ctx, manifestPath)
	if err != nil {
		o.logger.Warn().Err(err).Str("path", manifestPath).Msg("manifest load failed")
		return false, nil
	}
	if err := ValidateManifest(m); err != nil {
		o.logger.Warn().Err(err).Str("path", manifestPath).Msg("manifest validation failed")
		return false, m
	}
	return true, m
}

// CleanupOldBackupRuns removes run rows older than the retention window.
// Manifests at the destination are deliberately left in place; they are
// the durable record.
func (o *Orchestrator) CleanupOldBackupRuns(ctx context.Context, retentionDays int) (int64, error) {
	deleted, err := o.runs.CleanupOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		o.logger.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("cleaned up old backup runs")
	}
	return deleted, nil
}

// LoadManifest resolves a manifest path or URI. "s3://bucket/key" URIs go
// through the S3 adapter with the configured credentials; plain paths are
// read from local disk; "user@host:path" URIs go through the rsync
// adapter.
func (o *Orchestrator) LoadManifest(ctx context.Context, manifestPath string) (*Manifest, error) {
	if strings.HasPrefix(manifestPath, "s3://") {
		bucket, key, ok := strings.Cut(strings.TrimPrefix(manifestPath, "s3://"), "/")
		if !ok {
			return nil, fmt.Errorf("malformed s3 manifest URI %q", manifestPath)
		}
		backupCfg, err := o.settings.LoadBackupConfiguration(ctx)
		if err != nil {
			return nil, err
		}
		s3cfg := *backupCfg
		s3cfg.DestinationType = model.DestinationS3
		s3cfg.S3Bucket = bucket
		dest, err := o.resolveDestination(&s3cfg, o.logger)
		if err != nil {
			return nil, err
		}
		rc, err := dest.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return ReadManifest(rc, FormatForPath(key))
	}

	if user, remote, ok := strings.Cut(manifestPath, ":"); ok && strings.Contains(user, "@") {
		backupCfg, err := o.settings.LoadBackupConfiguration(ctx)
		if err != nil {
			return nil, err
		}
		dest, err := o.resolveDestination(backupCfg, o.logger)
		if err != nil {
			return nil, err
		}
		key := strings.TrimPrefix(strings.TrimPrefix(remote, backupCfg.RsyncPath), "/")
		rc, err := dest.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return ReadManifest(rc, FormatForPath(key))
	}

	if _, err := os.Stat(manifestPath); err != nil {
		return nil, fmt.Errorf("manifest %s not found: %w", manifestPath, err)
	}
	return LoadManifestFile(manifestPath)
}
