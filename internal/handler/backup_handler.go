// Package handler provides HTTP handlers for the backup service API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agncf/netbackup/internal/backup"
	"github.com/agncf/netbackup/internal/models"
	apierrors "github.com/agncf/netbackup/internal/pkg/errors"
	"github.com/agncf/netbackup/internal/pkg/response"
	"github.com/agncf/netbackup/internal/service"
)

// BackupHandler handles backup job HTTP and WebSocket requests.
type BackupHandler struct {
	backups  service.BackupService
	progress *backup.ProgressHub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(backups service.BackupService, progress *backup.ProgressHub, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{
		backups:  backups,
		progress: progress,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers are not an expected client; operators use CLI tooling.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns a chi router with backup routes.
func (h *BackupHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/jobs", h.StartJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/device/{id}/history", h.DeviceHistory)
	r.Get("/diff/{id}", h.Diff)

	return r
}

// StartJob handles POST /api/backups/jobs
func (h *BackupHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req service.StartJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
			return
		}
	}

	job, err := h.backups.StartJob(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, job)
}

// ListJobs handles GET /api/backups/jobs
func (h *BackupHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.backups.ListJobs(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.BackupJob{}
	}
	response.OK(w, jobs)
}

// GetJob handles GET /api/backups/jobs/{id}
//
// A job that finished in the failed state answers 500 with the job detail
// attached, so an unattended poller treats it as an alarm without parsing
// the body.
func (h *BackupHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	detail, err := h.backups.GetJob(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if detail.Job.State == models.JobStateFailed {
		response.Error(w, apierrors.ErrInternal.
			WithMessage("backup job failed").
			WithDetails(detail))
		return
	}
	response.OK(w, detail)
}

// DeviceHistory handles GET /api/backups/device/{id}/history
func (h *BackupHandler) DeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	results, err := h.backups.DeviceHistory(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if results == nil {
		results = []*models.BackupResult{}
	}
	response.OK(w, results)
}

// Diff handles GET /api/backups/diff/{id}
func (h *BackupHandler) Diff(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	diff, err := h.backups.ResultDiff(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Text(w, http.StatusOK, diff)
}

// WatchJob handles GET /ws/job/{id}: it upgrades to a WebSocket, replays
// the job's progress so far, then streams live events until the job ends.
func (h *BackupHandler) WatchJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	snapshot, events, cancel, ok := h.progress.Subscribe(id)
	if !ok {
		response.Error(w, apierrors.NewNotFoundError("Job stream"))
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Discard client frames but notice the close handshake.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev backup.ProgressEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return false
		}
		return true
	}

	for _, ev := range snapshot {
		if !write(ev) {
			return
		}
	}
	for {
		select {
		case ev, open := <-events:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(time.Second))
				return
			}
			if !write(ev) {
				return
			}
		case <-clientGone:
			return
		}
	}
}
