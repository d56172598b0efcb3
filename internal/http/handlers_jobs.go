// Package httpx provides the JSON admin API over the orchestration operations.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
)

// JobHandlers serves transfer and job routes.
type JobHandlers struct {
	Ops    core.Operations
	Logger *slog.Logger
}

// StartTransfer handles POST /api/transfers.
func (h *JobHandlers) StartTransfer(w http.ResponseWriter, r *http.Request) {
	var req model.TransferRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Ops.StartTransfer(r.Context(), req)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// List handles GET /api/jobs.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Ops.ListJobs(r.Context(), jobFilterFromQuery(r))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.Ops.GetJob(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/jobs/{id}/cancel. A job that already finished is reported
// with cancelled=false rather than an error.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	requested, err := h.Ops.CancelJob(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": requested})
}

// CancelAll handles POST /api/jobs/cancel-all.
func (h *JobHandlers) CancelAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ops.CancelAllJobs(r.Context())
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	id := r.PathValue(key)
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New(key + " is required")})
		return "", false
	}
	return id, true
}
