package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/photovault/internal/model"
)

func TestGetBackupStatusNeverRan(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())

	status, err := f.orchestrator.GetBackupStatus(context.Background())
	require.NoError(t, err)

	assert.False(t, status.IsRunning)
	assert.True(t, status.IsHealthy)
	assert.Nil(t, status.LastRun)
	assert.Empty(t, status.RecentRuns)
}

func TestGetBackupStatusAfterRuns(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()

	old := &model.BackupRun{ID: "r1", Type: model.BackupTypeFull, Status: model.RunStatusCompleted, StartedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, f.runs.Create(ctx, old))
	failed := &model.BackupRun{ID: "r2", Type: model.BackupTypeIncremental, Status: model.RunStatusFailed, StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, f.runs.Create(ctx, failed))

	status, err := f.orchestrator.GetBackupStatus(ctx)
	require.NoError(t, err)

	require.NotNil(t, status.LastRun)
	assert.Equal(t, "r2", status.LastRun.ID)
	assert.False(t, status.IsHealthy, "a failed latest run marks the service unhealthy")
	assert.Len(t, status.RecentRuns, 2)
}

func TestGetBackupStatusReportsNextScheduledRun(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	next := time.Now().Add(time.Hour)
	f.orchestrator.AttachScheduler(func() *time.Time { return &next })

	status, err := f.orchestrator.GetBackupStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.NextScheduledRun)
	assert.Equal(t, next, *status.NextScheduledRun)
}

func TestGetBackupManifest(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()

	m := GenerateManifest("m-1", model.BackupTypeFull, time.Now().UTC().Truncate(time.Second), sampleFiles())
	manifestPath := filepath.Join(t.TempDir(), "backup-m-1.json")
	require.NoError(t, SaveManifest(m, manifestPath, model.ManifestFormatJSON))

	run := &model.BackupRun{
		ID:           "r1",
		Type:         model.BackupTypeFull,
		Status:       model.RunStatusCompleted,
		StartedAt:    time.Now(),
		ManifestPath: &manifestPath,
	}
	require.NoError(t, f.runs.Create(ctx, run))

	got, summary, err := f.orchestrator.GetBackupManifest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.Backup.ID)
	assert.Contains(t, summary, "BACKUP MANIFEST SUMMARY")
}

func TestGetBackupManifestWithoutManifest(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()
	run := &model.BackupRun{ID: "r1", Type: model.BackupTypeFull, Status: model.RunStatusFailed, StartedAt: time.Now()}
	require.NoError(t, f.runs.Create(ctx, run))

	_, _, err := f.orchestrator.GetBackupManifest(ctx, "r1")
	assert.Error(t, err)
}

func TestValidateBackupManifest(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()
	dir := t.TempDir()

	valid := GenerateManifest("m-1", model.BackupTypeFull, time.Now(), sampleFiles())
	validPath := filepath.Join(dir, "valid.json")
	require.NoError(t, SaveManifest(valid, validPath, model.ManifestFormatJSON))

	broken := GenerateManifest("m-2", model.BackupTypeFull, time.Now(), sampleFiles())
	broken.Backup.ID = ""
	brokenPath := filepath.Join(dir, "broken.yaml")
	require.NoError(t, SaveManifest(broken, brokenPath, model.ManifestFormatYAML))

	ok, m := f.orchestrator.ValidateBackupManifest(ctx, validPath)
	assert.True(t, ok)
	require.NotNil(t, m)
	assert.Equal(t, "m-1", m.Backup.ID)

	ok, m = f.orchestrator.ValidateBackupManifest(ctx, brokenPath)
	assert.False(t, ok)
	assert.NotNil(t, m, "structurally incomplete manifests are still returned for inspection")

	ok, m = f.orchestrator.ValidateBackupManifest(ctx, filepath.Join(dir, "missing.json"))
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestValidateBackupManifestFromS3URI(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()

	m := GenerateManifest("m-1", model.BackupTypeFull, time.Now().UTC().Truncate(time.Second), sampleFiles())
	data, err := EncodeManifest(m, model.ManifestFormatJSON)
	require.NoError(t, err)
	key := "manifests/backup-m-1.json"
	f.dest.objects[key] = data

	ok, got := f.orchestrator.ValidateBackupManifest(ctx, "s3://photovault-backups/"+key)
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "m-1", got.Backup.ID)
}

func TestCleanupOldBackupRuns(t *testing.T) {
	f := newOrchestratorFixture(t, testBackupConfiguration())
	ctx := context.Background()

	stale := &model.BackupRun{ID: "old", Type: model.BackupTypeFull, Status: model.RunStatusCompleted, StartedAt: time.Now().AddDate(0, 0, -120)}
	fresh := &model.BackupRun{ID: "new", Type: model.BackupTypeFull, Status: model.RunStatusCompleted, StartedAt: time.Now()}
	require.NoError(t, f.runs.Create(ctx, stale))
	require.NoError(t, f.runs.Create(ctx, fresh))

	deleted, err := f.orchestrator.CleanupOldBackupRuns(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := f.runs.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}
