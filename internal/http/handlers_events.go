package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

const (
	defaultPollMax = 100
	maxPollMax     = 1000
	// maxPollWait caps long-polls below typical proxy idle timeouts.
	maxPollWait = 30 * time.Second
)

// EventHandlers serves subscription and webhook routes.
type EventHandlers struct {
	Ops    core.Operations
	Logger *slog.Logger
}

type subscribeBody struct {
	Pattern string `json:"pattern"`
}

type webhookBody struct {
	SubjectID string `json:"subject_id"`
	model.WebhookSpec
}

// Subscribe handles POST /api/subscriptions.
func (h *EventHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	id, err := h.Ops.Subscribe(r.Context(), body.Pattern)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"id": id, "pattern": body.Pattern})
}

// Poll handles GET /api/subscriptions/{id}/events?max=&wait=. With wait it long-polls
// until at least one event is queued.
func (h *EventHandlers) Poll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := min(max(parseIntQuery(r, "max", defaultPollMax), 1), maxPollMax)
	wait, err := parseDurationQuery(r, "wait", 0)
	if err != nil {
		RenderError(w, r, h.Logger, apperrors.ValidationField("wait", err.Error()))
		return
	}
	wait = min(wait, maxPollWait)

	events, err := h.Ops.PollEvents(r.Context(), id, limit, wait)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Unsubscribe handles DELETE /api/subscriptions/{id}.
func (h *EventHandlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Ops.Unsubscribe(r.Context(), id); err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterWebhook handles POST /api/webhooks.
func (h *EventHandlers) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.SubjectID == "" {
		RenderError(w, r, h.Logger, apperrors.ValidationField("subject_id", "subject_id is required"))
		return
	}
	hook, err := h.Ops.RegisterWebhook(r.Context(), body.SubjectID, body.WebhookSpec)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, hook)
}

// Deliveries handles GET /api/webhooks/{id}/deliveries.
func (h *EventHandlers) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.Ops.ListDeliveries(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if records == nil {
		records = []model.DeliveryRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}
