package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/photovault/internal/config"
	"github.com/edvin/photovault/internal/destination"
	"github.com/edvin/photovault/internal/metrics"
	"github.com/edvin/photovault/internal/model"
	"github.com/edvin/photovault/internal/platform"
	"github.com/edvin/photovault/internal/retry"
)

// ErrAlreadyRunning is returned when RunBackup is called while a run is in
// flight. The caller gets no new BackupRun row.
var ErrAlreadyRunning = errors.New("backup already running")

// uploadWorkers bounds concurrent transfers within a run.
const uploadWorkers = 4

// uploadAttemptTimeout caps a single upload attempt; retries get a fresh
// deadline. The run as a whole has no timeout.
const uploadAttemptTimeout = 5 * time.Minute

// manifestPrefix is the destination key prefix for manifests and summary
// reports.
const manifestPrefix = "manifests"

// RunStore persists backup run rows.
type RunStore interface {
	Create(ctx context.Context, run *model.BackupRun) error
	Finish(ctx context.Context, run *model.BackupRun) error
	GetByID(ctx context.Context, id string) (*model.BackupRun, error)
	ListRecent(ctx context.Context, limit int) ([]model.BackupRun, error)
	LastWithManifest(ctx context.Context) (*model.BackupRun, error)
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// FileStateStore is the per-path checksum ledger.
type FileStateStore interface {
	LoadAll(ctx context.Context) (map[string]model.FileState, error)
	Upsert(ctx context.Context, fs *model.FileState) error
}

// SettingsStore resolves the run configuration.
type SettingsStore interface {
	LoadBackupConfiguration(ctx context.Context) (*model.BackupConfiguration, error)
}

// DatabaseDumpStore exposes the database snapshot bookkeeping.
type DatabaseDumpStore interface {
	Latest(ctx context.Context) (*model.DatabaseBackupRun, error)
	MarkShipped(ctx context.Context, id string) error
}

// AdminDirectory lists recipients for failure notifications.
type AdminDirectory interface {
	ListActiveAdmins(ctx context.Context) ([]model.AdminUser, error)
}

// Orchestrator drives the backup pipeline: configuration, pre-flight,
// enumerate, diff, upload, manifest, bookkeeping. At most one run executes
// at a time per instance.
type Orchestrator struct {
	cfg        *config.Config
	runs       RunStore
	fileStates FileStateStore
	settings   SettingsStore
	dbDumps    DatabaseDumpStore
	admins     AdminDirectory
	notifier   Notifier
	logger     zerolog.Logger
	policy     retry.Policy

	// resolveDestination is swapped out in tests.
	resolveDestination func(*model.BackupConfiguration, zerolog.Logger) (destination.Destination, error)

	mu      sync.Mutex
	running bool

	nextRun nextRunFunc
}

func NewOrchestrator(
	cfg *config.Config,
	runs RunStore,
	fileStates FileStateStore,
	settings SettingsStore,
	dbDumps DatabaseDumpStore,
	admins AdminDirectory,
	notifier Notifier,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:                cfg,
		runs:               runs,
		fileStates:         fileStates,
		settings:           settings,
		dbDumps:            dbDumps,
		admins:             admins,
		notifier:           notifier,
		logger:             logger.With().Str("component", "backup-orchestrator").Logger(),
		policy:             retry.Default,
		resolveDestination: destination.Resolve,
	}
}

// IsRunning reports whether a run is currently in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// tryAcquire flips the single-flight flag. Callers that get false must not
// start a run.
func (o *Orchestrator) tryAcquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// RunBackup executes one backup run synchronously and returns the finished
// run row. Run-level failures are expressed through the row's status, not
// through the returned error; the only error callers see is
// ErrAlreadyRunning.
func (o *Orchestrator) RunBackup(ctx context.Context) (*model.BackupRun, error) {
	if !o.tryAcquire() {
		o.logger.Warn().Msg("backup already running, ignoring trigger")
		return nil, ErrAlreadyRunning
	}
	defer o.release()

	started := time.Now()
	o.logger.Info().Msg("backup run starting")

	backupCfg, err := o.settings.LoadBackupConfiguration(ctx)
	if err != nil {
		return o.recordStartupFailure(ctx, started, nil, &ConfigurationError{Reason: err.Error()})
	}
	if !backupCfg.Enabled {
		// Deliberately quiet: a disabled backup is an admin decision, not
		// an incident worth emailing about.
		return o.recordStartupFailure(ctx, started, nil, &ConfigurationError{Reason: "backup is disabled"})
	}
	if err := backupCfg.ValidateDestination(); err != nil {
		return o.recordStartupFailure(ctx, started, backupCfg, &ConfigurationError{Reason: err.Error()})
	}

	runType := model.BackupTypeFull
	if backupCfg.Incremental {
		runType = model.BackupTypeIncremental
	}

	run := &model.BackupRun{
		ID:        platform.NewID(),
		Type:      runType,
		Status:    model.RunStatusRunning,
		StartedAt: started,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		// Without a run row there is nothing to report against; bail.
		o.logger.Error().Err(err).Msg("failed to create backup run row")
		return nil, fmt.Errorf("create backup run: %w", err)
	}

	dest, err := o.resolveDestination(backupCfg, o.logger)
	if err != nil {
		return o.failRun(ctx, run, backupCfg, &ConfigurationError{Reason: err.Error()}), nil
	}
	if err := dest.TestConnection(ctx); err != nil {
		return o.failRun(ctx, run, backupCfg, &ConnectivityError{Err: err}), nil
	}

	result, err := o.executeRun(ctx, run, backupCfg, dest)
	if err != nil {
		return o.failRun(ctx, run, backupCfg, err), nil
	}

	metrics.ObserveRun(result.Status, time.Since(started), result.FilesBackedUp, result.TotalSizeBytes)
	o.logger.Info().
		Str("run_id", result.ID).
		Str("status", result.Status).
		Int("files_backed_up", result.FilesBackedUp).
		Int64("total_size_bytes", result.TotalSizeBytes).
		Msg("backup run finished")
	return result, nil
}

// uploadOutcome collects per-candidate results across the worker pool.
type uploadOutcome struct {
	uploaded bool
	failed   bool
}

// executeRun performs the enumerate/diff/upload/manifest pipeline. Errors
// it returns are run-level failures; per-file failures are absorbed into
// the run status.
func (o *Orchestrator) executeRun(ctx context.Context, run *model.BackupRun, backupCfg *model.BackupConfiguration, dest destination.Destination) (*model.BackupRun, error) {
	states, err := o.fileStates.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	enumerator := NewEnumerator(o.cfg.StorageRoot, backupCfg, o.logger)
	var candidates []Candidate
	if err := enumerator.Walk(ctx, func(c Candidate) error {
		candidates = append(candidates, c)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("enumerate storage tree: %w", err)
	}

	differ := NewDiffer(backupCfg.Incremental, states)

	// Load the parent manifest before uploading, so a chain break is
	// discovered early. A missing parent demotes the run to full.
	var parent *Manifest
	if backupCfg.Incremental {
		parent = o.loadParentManifest(ctx, dest)
		if parent == nil {
			o.logger.Warn().Msg("no usable parent manifest, falling back to full backup")
			run.Type = model.BackupTypeFull
		}
	}

	outcomes := make([]uploadOutcome, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)

	for i, c := range candidates {
		if parent == nil && backupCfg.Incremental {
			// Chain broken: upload everything regardless of ledger state.
		} else if !differ.ShouldUpload(c) {
			continue
		}
		g.Go(func() error {
			if err := o.uploadFile(gctx, dest, c); err != nil {
				o.logger.Error().Err(err).Str("path", c.RelPath).Msg("file upload failed, skipping")
				outcomes[i].failed = true
				return nil
			}
			outcomes[i].uploaded = true
			if err := o.fileStates.Upsert(gctx, &model.FileState{
				FilePath:       c.RelPath,
				Checksum:       c.Checksum,
				SizeBytes:      c.Size,
				LastBackedUpAt: time.Now(),
			}); err != nil {
				// The upload stood; a ledger miss just means one redundant
				// re-upload next run.
				o.logger.Error().Err(err).Str("path", c.RelPath).Msg("failed to record file state")
			}
			return nil
		})
	}

	// Upload workers never return errors; Wait is the synchronization
	// barrier before manifest assembly.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var manifestFiles []ManifestFile
	var uploadedCount, failedCount int
	var uploadedBytes int64
	for i, c := range candidates {
		switch {
		case outcomes[i].uploaded:
			uploadedCount++
			uploadedBytes += c.Size
			manifestFiles = append(manifestFiles, ManifestFile{Path: c.RelPath, Checksum: c.Checksum, Size: c.Size})
		case outcomes[i].failed:
			failedCount++
			// The destination still holds the prior content, if any.
			if prior, ok := states[c.RelPath]; ok {
				manifestFiles = append(manifestFiles, ManifestFile{Path: c.RelPath, Checksum: prior.Checksum, Size: prior.SizeBytes})
			}
		default:
			// Unchanged: excluded from the upload set but still part of
			// the full directory snapshot.
			manifestFiles = append(manifestFiles, ManifestFile{Path: c.RelPath, Checksum: c.Checksum, Size: c.Size})
		}
	}

	if backupCfg.IncludeDatabase {
		if dbFile, err := o.shipDatabaseDump(ctx, dest); err != nil {
			o.logger.Error().Err(err).Msg("database dump upload failed, skipping")
			failedCount++
		} else if dbFile != nil {
			uploadedCount++
			uploadedBytes += dbFile.Size
			manifestFiles = append(manifestFiles, *dbFile)
		}
	}

	manifestID := platform.NewID()
	manifest := GenerateManifest(manifestID, run.Type, time.Now(), manifestFiles)
	if run.Type == model.BackupTypeIncremental && parent != nil {
		manifest = GenerateIncrementalManifest(manifest, parent)
	}

	manifestURI, err := o.storeManifest(ctx, dest, manifest, backupCfg.ManifestFormat)
	if err != nil {
		return nil, &ManifestError{Err: err}
	}

	now := time.Now()
	run.Status = model.RunStatusCompleted
	if failedCount > 0 {
		run.Status = model.RunStatusCompletedWithErrors
		msg := fmt.Sprintf("%d file(s) failed to upload", failedCount)
		run.ErrorMessage = &msg
	}
	run.CompletedAt = &now
	run.FilesBackedUp = uploadedCount
	run.TotalSizeBytes = uploadedBytes
	run.ManifestPath = &manifestURI
	run.ManifestID = &manifestID

	if err := o.runs.Finish(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// uploadFile pushes one file through the retry policy, each attempt with
// its own deadline.
func (o *Orchestrator) uploadFile(ctx context.Context, dest destination.Destination, c Candidate) error {
	return o.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, uploadAttemptTimeout)
		defer cancel()
		return dest.Upload(attemptCtx, c.AbsPath, c.RelPath)
	})
}

// shipDatabaseDump uploads the latest database snapshot when it has
// changed since the last shipped one. Returns nil without error when there
// is nothing to ship.
func (o *Orchestrator) shipDatabaseDump(ctx context.Context, dest destination.Destination) (*ManifestFile, error) {
	latest, err := o.dbDumps.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil || !latest.HasChanged {
		return nil, nil
	}

	dumpPath := latest.DumpPath
	if dumpPath == "" {
		dumpPath = o.cfg.DatabaseDumpPath
	}
	if dumpPath == "" {
		return nil, nil
	}
	info, err := os.Stat(dumpPath)
	if err != nil {
		return nil, fmt.Errorf("stat database dump %s: %w", dumpPath, err)
	}

	key := path.Join("database", filepath.Base(dumpPath))
	if err := o.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, uploadAttemptTimeout)
		defer cancel()
		return dest.Upload(attemptCtx, dumpPath, key)
	}); err != nil {
		return nil, err
	}

	if err := o.dbDumps.MarkShipped(ctx, latest.ID); err != nil {
		o.logger.Error().Err(err).Str("dump_id", latest.ID).Msg("failed to mark database dump shipped")
	}

	checksum := latest.Checksum
	if checksum == "" {
		if checksum, err = FileChecksum(dumpPath); err != nil {
			return nil, err
		}
	}
	return &ManifestFile{Path: key, Checksum: checksum, Size: info.Size()}, nil
}

// storeManifest ships the manifest and its summary report to the
// destination and returns the manifest's URI.
func (o *Orchestrator) storeManifest(ctx context.Context, dest destination.Destination, m *Manifest, format string) (string, error) {
	data, err := EncodeManifest(m, format)
	if err != nil {
		return "", err
	}

	key := manifestKey(m.Backup.ID, format)
	if err := dest.UploadStream(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("upload manifest: %w", err)
	}

	summary := GenerateSummaryReport(m)
	summaryKey := path.Join(manifestPrefix, fmt.Sprintf("backup-%s-summary.txt", m.Backup.ID))
	if err := dest.UploadStream(ctx, summaryKey, strings.NewReader(summary), int64(len(summary))); err != nil {
		// The manifest itself made it; losing the companion report is not
		// worth failing the run.
		o.logger.Warn().Err(err).Msg("failed to upload summary report")
	}

	return dest.URI(key), nil
}

func manifestKey(manifestID, format string) string {
	ext := "json"
	if format == model.ManifestFormatYAML {
		ext = "yaml"
	}
	return path.Join(manifestPrefix, fmt.Sprintf("backup-%s.%s", manifestID, ext))
}

// loadParentManifest fetches the most recent completed run's manifest from
// the destination. Any failure (no prior run, manifest deleted by
// retention, undecodable) yields nil and the caller falls back to a full
// backup.
func (o *Orchestrator) loadParentManifest(ctx context.Context, dest destination.Destination) *Manifest {
	parentRun, err := o.runs.LastWithManifest(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to look up parent run")
		return nil
	}
	if parentRun == nil || parentRun.ManifestID == nil {
		return nil
	}

	for _, format := range []string{model.ManifestFormatJSON, model.ManifestFormatYAML} {
		key := manifestKey(*parentRun.ManifestID, format)
		rc, err := dest.Download(ctx, key)
		if err != nil {
			continue
		}
		m, err := ReadManifest(rc, format)
		rc.Close()
		if err != nil {
			o.logger.Warn().Err(err).Str("key", key).Msg("parent manifest undecodable")
			return nil
		}
		if err := ValidateManifest(m); err != nil {
			o.logger.Warn().Err(err).Str("key", key).Msg("parent manifest invalid")
			return nil
		}
		return m
	}

	o.logger.Warn().Str("manifest_id", *parentRun.ManifestID).Msg("parent manifest not found at destination")
	return nil
}

// recordStartupFailure persists a failed run row for errors caught before
// the run row would normally exist (configuration problems). backupCfg is
// the parsed configuration when one survived loading, so the failure
// notification can honor the opt-in flag; nil keeps the notification off.
func (o *Orchestrator) recordStartupFailure(ctx context.Context, started time.Time, backupCfg *model.BackupConfiguration, cause error) (*model.BackupRun, error) {
	now := time.Now()
	msg := cause.Error()
	run := &model.BackupRun{
		ID:           platform.NewID(),
		Type:         model.BackupTypeFull,
		Status:       model.RunStatusFailed,
		StartedAt:    started,
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.logger.Error().Err(err).Msg("failed to record startup failure")
	}
	o.logger.Error().Str("error", msg).Msg("backup run failed before starting")
	metrics.ObserveRun(run.Status, time.Since(started), 0, 0)
	o.notifyFailure(ctx, backupCfg, run)
	return run, nil
}

// failRun finalizes a run as failed with the cause preserved verbatim and
// fires the failure notification.
func (o *Orchestrator) failRun(ctx context.Context, run *model.BackupRun, backupCfg *model.BackupConfiguration, cause error) *model.BackupRun {
	now := time.Now()
	msg := cause.Error()
	run.Status = model.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = &msg
	if err := o.runs.Finish(ctx, run); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to finalize failed run")
	}
	o.logger.Error().Str("run_id", run.ID).Str("error", msg).Msg("backup run failed")
	metrics.ObserveRun(run.Status, time.Since(run.StartedAt), 0, 0)
	o.notifyFailure(ctx, backupCfg, run)
	return run
}

// notifyFailure emails every active admin. Best-effort: notification
// errors are logged, never escalated.
func (o *Orchestrator) notifyFailure(ctx context.Context, backupCfg *model.BackupConfiguration, run *model.BackupRun) {
	// Without a loaded configuration the opt-in flag is unknowable; stay
	// quiet rather than spam admins about a disabled backup.
	if backupCfg == nil || !backupCfg.EmailOnFailure {
		return
	}
	if o.notifier == nil {
		return
	}

	admins, err := o.admins.ListActiveAdmins(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list admins for failure notification")
		return
	}
	if len(admins) == 0 {
		return
	}

	emails := make([]string, len(admins))
	for i, a := range admins {
		emails[i] = a.Email
	}

	msg := ""
	if run.ErrorMessage != nil {
		msg = *run.ErrorMessage
	}
	if err := o.notifier.SendFailureNotification(ctx, emails, msg, run.ID); err != nil {
		o.logger.Error().Err(err).Msg("failed to send failure notification")
	}
}
