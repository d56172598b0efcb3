package httpx

import (
	"log/slog"
	"net/http"

	"github.com/dxpops/conductor/internal/core"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// AuditHandlers serves the audit log and rate-limit status.
type AuditHandlers struct {
	Ops    core.Operations
	Logger *slog.Logger
}

// Query handles GET /api/audit.
func (h *AuditHandlers) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		RenderError(w, r, h.Logger, apperrors.Validation(err.Error()))
		return
	}
	page, err := h.Ops.QueryAudit(r.Context(), filter)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// RateLimit handles GET /api/tenants/{ref}/rate-limit. A tenant in backoff is reported
// with throttled=true and a 200, not an error.
func (h *AuditHandlers) RateLimit(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathID(w, r, "ref")
	if !ok {
		return
	}
	status, err := h.Ops.RateLimitStatus(r.Context(), ref)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
