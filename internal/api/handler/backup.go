package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/photovault/internal/api/request"
	"github.com/edvin/photovault/internal/api/response"
	"github.com/edvin/photovault/internal/backup"
	"github.com/edvin/photovault/internal/model"
)

// BackupEngine is the slice of the orchestrator the HTTP surface needs.
type BackupEngine interface {
	RunBackup(ctx context.Context) (*model.BackupRun, error)
	IsRunning() bool
	GetBackupStatus(ctx context.Context) (*backup.Status, error)
	GetBackupManifest(ctx context.Context, runID string) (*backup.Manifest, string, error)
	ValidateBackupManifest(ctx context.Context, manifestPath string) (bool, *backup.Manifest)
	CleanupOldBackupRuns(ctx context.Context, retentionDays int) (int64, error)
}

// RunDirectory reads backup run rows for the list and detail endpoints.
type RunDirectory interface {
	GetByID(ctx context.Context, id string) (*model.BackupRun, error)
	ListRecent(ctx context.Context, limit int) ([]model.BackupRun, error)
}

type Backup struct {
	engine BackupEngine
	runs   RunDirectory

	// defaultRetentionDays applies when a cleanup request omits its own.
	defaultRetentionDays int
}

func NewBackup(engine BackupEngine, runs RunDirectory, defaultRetentionDays int) *Backup {
	return &Backup{engine: engine, runs: runs, defaultRetentionDays: defaultRetentionDays}
}

// Trigger starts a backup run in the background. The run's progress is
// visible through the status endpoint.
func (h *Backup) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.engine.IsRunning() {
		response.WriteError(w, http.StatusConflict, "backup already running")
		return
	}

	// Detached from the request context: closing the admin's browser tab
	// must not abort a half-finished backup. Failures are recorded on the
	// run row and logged by the orchestrator.
	go func() {
		_, _ = h.engine.RunBackup(context.Background())
	}()

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Backup) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.GetBackupStatus(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, status)
}

func (h *Backup) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := request.ParseLimit(r)

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.BackupRun{}
	}
	response.WriteJSON(w, http.StatusOK, runs)
}

func (h *Backup) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "backup run not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, run)
}

// GetManifest returns the stored manifest document and its rendered
// summary for a finished run.
func (h *Backup) GetManifest(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	manifest, summary, err := h.engine.GetBackupManifest(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.WriteError(w, http.StatusNotFound, "backup run not found")
			return
		}
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"manifest": manifest,
		"summary":  summary,
	})
}

func (h *Backup) Validate(w http.ResponseWriter, r *http.Request) {
	var req request.ValidateManifest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	valid, manifest := h.engine.ValidateBackupManifest(r.Context(), req.ManifestPath)
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":    valid,
		"manifest": manifest,
	})
}

func (h *Backup) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req request.CleanupRuns
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	retentionDays := req.RetentionDays
	if retentionDays == 0 {
		retentionDays = h.defaultRetentionDays
	}

	deleted, err := h.engine.CleanupOldBackupRuns(r.Context(), retentionDays)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"deleted":        deleted,
		"retention_days": retentionDays,
	})
}
