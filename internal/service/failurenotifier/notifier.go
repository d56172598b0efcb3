package failurenotifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Service turns failure events into notifications and fans them out to all sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

var _ core.EventObserver = (*Service)(nil)

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger: logger.With("component", "failure_notifier"),
		sinks:  sinks,
	}
}

// failureEventPayload is the union of fields read from job.failed and deployment.finished.
type failureEventPayload struct {
	Kind       string `json:"kind"`
	Tenant     string `json:"tenant"`
	Error      string `json:"error"`
	ErrorClass string `json:"errorClass"`
	WatchID    string `json:"watchId"`
	FinalState string `json:"finalState"`
	TimedOut   bool   `json:"timedOut"`
	StopReason string `json:"stopReason"`
}

// OnEvent implements core.EventObserver. Only failed jobs and deployments that failed,
// timed out or could not be polled produce a notification.
func (s *Service) OnEvent(ctx context.Context, evt model.Event) {
	payload, ok := s.buildPayload(ctx, evt)
	if !ok {
		return
	}
	s.Notify(ctx, payload)
}

func (s *Service) buildPayload(ctx context.Context, evt model.Event) (notify.FailurePayload, bool) {
	if evt.Type != model.EventJobFailed && evt.Type != model.EventDeploymentFinished {
		return notify.FailurePayload{}, false
	}

	var p failureEventPayload
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			s.logger.WarnContext(ctx, "unreadable failure event payload", "event_type", evt.Type, "error", err)
			return notify.FailurePayload{}, false
		}
	}

	out := notify.FailurePayload{
		SubjectKind: string(evt.SubjectKind),
		SubjectID:   evt.SubjectID,
		Tenant:      p.Tenant,
		Error:       p.Error,
		ErrorClass:  p.ErrorClass,
		Severity:    notify.SeverityCritical,
		OccurredAt:  evt.Timestamp,
	}

	if evt.Type == model.EventJobFailed {
		out.Operation = p.Kind
		out.Outcome = string(model.JobStatusFailed)
		return out, true
	}

	reason := model.StopReason(p.StopReason)
	failed := model.DeploymentState(p.FinalState) == model.DeploymentFailed
	if !failed && !p.TimedOut && reason != model.StopReasonPollErrors && reason != model.StopReasonFatal {
		return notify.FailurePayload{}, false
	}
	out.Operation = "deployment"
	out.Outcome = p.FinalState
	if out.Outcome == "" {
		out.Outcome = p.StopReason
	}
	out.TimedOut = p.TimedOut
	if p.TimedOut && !failed {
		out.Severity = notify.SeverityWarning
	}
	if p.WatchID != "" {
		out.Metadata = map[string]string{"watch_id": p.WatchID, "stop_reason": p.StopReason}
	}
	return out, true
}

// Notify fans the payload out to all sinks and waits for them.
func (s *Service) Notify(ctx context.Context, payload notify.FailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"subject_kind", payload.SubjectKind,
					"subject_id", payload.SubjectID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}
