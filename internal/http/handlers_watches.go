package httpx

import (
	"log/slog"
	"net/http"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// WatchHandlers serves deployment watch routes.
type WatchHandlers struct {
	Ops    core.Operations
	Logger *slog.Logger
}

// watchBody is the JSON shape of a watch request; durations are Go duration strings.
type watchBody struct {
	TenantRef    string             `json:"tenant_ref"`
	PollInterval string             `json:"poll_interval,omitempty"`
	MaxDuration  string             `json:"max_duration,omitempty"`
	AutoComplete bool               `json:"auto_complete,omitempty"`
	Webhook      *model.WebhookSpec `json:"webhook,omitempty"`
}

type intervalBody struct {
	Interval string `json:"interval"`
}

// Watch handles POST /api/deployments/{id}/watch.
func (h *WatchHandlers) Watch(w http.ResponseWriter, r *http.Request) {
	deploymentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body watchBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	poll, err := parseDuration("poll_interval", body.PollInterval)
	if err != nil {
		RenderError(w, r, h.Logger, apperrors.ValidationField("poll_interval", err.Error()))
		return
	}
	maxDur, err := parseDuration("max_duration", body.MaxDuration)
	if err != nil {
		RenderError(w, r, h.Logger, apperrors.ValidationField("max_duration", err.Error()))
		return
	}

	watch, err := h.Ops.WatchDeployment(r.Context(), model.WatchRequest{
		TenantRef:    body.TenantRef,
		DeploymentID: deploymentID,
		Options: model.WatchOptions{
			PollInterval: poll,
			MaxDuration:  maxDur,
			AutoComplete: body.AutoComplete,
		},
		Webhook: body.Webhook,
	})
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, watch)
}

// List handles GET /api/watches?all=true.
func (h *WatchHandlers) List(w http.ResponseWriter, r *http.Request) {
	watches, err := h.Ops.ListWatches(r.Context(), parseBoolQuery(r, "all", false))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if watches == nil {
		watches = []model.DeploymentWatch{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"watches": watches})
}

// Get handles GET /api/watches/{id}.
func (h *WatchHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	watch, err := h.Ops.GetWatch(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, watch)
}

// Stop handles DELETE /api/watches/{id}.
func (h *WatchHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	state, err := h.Ops.StopWatch(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stopped": true, "last_state": state})
}

// UpdateInterval handles PUT /api/watches/{id}/interval.
func (h *WatchHandlers) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body intervalBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	interval, err := parseDuration("interval", body.Interval)
	if err != nil || interval == 0 {
		RenderError(w, r, h.Logger, apperrors.ValidationField("interval", "interval must be a positive duration"))
		return
	}
	if err := h.Ops.UpdateWatchInterval(r.Context(), id, interval); err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"interval": interval.String()})
}

// Reset handles POST /api/watches/{id}/reset.
func (h *WatchHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Ops.ResetDeployment(r.Context(), id); err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
