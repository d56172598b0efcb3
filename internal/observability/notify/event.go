package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// FailurePayload captures the canonical data we emit when a job or deployment watch
// ends badly.
type FailurePayload struct {
	// SubjectKind is "job" or "deployment".
	SubjectKind string
	SubjectID   string
	// Operation is the job kind (transfer, export) or "deployment".
	Operation  string
	Tenant     string
	Outcome    string
	TimedOut   bool
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming failure notifications.
type Sink interface {
	SendFailure(ctx context.Context, payload FailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload FailurePayload) error

// SendFailure implements the Sink interface.
func (f SinkFunc) SendFailure(ctx context.Context, payload FailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
