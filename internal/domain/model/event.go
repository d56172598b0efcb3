package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubjectKind names what an event is about.
type SubjectKind string

const (
	SubjectJob        SubjectKind = "job"
	SubjectDeployment SubjectKind = "deployment"
)

// EventType identifies a state transition.
type EventType string

const (
	EventJobCreated         EventType = "job.created"
	EventJobStarted         EventType = "job.started"
	EventJobProgress        EventType = "job.progress"
	EventJobCancelRequested EventType = "job.cancel_requested"
	EventJobCompleted       EventType = "job.completed"
	EventJobFailed          EventType = "job.failed"
	EventJobCancelled       EventType = "job.cancelled"

	EventDeploymentWatchStarted        EventType = "deployment.watch_started"
	EventDeploymentStateChanged        EventType = "deployment.state_changed"
	EventDeploymentCompletionTriggered EventType = "deployment.completion_triggered"
	EventDeploymentResetRequested      EventType = "deployment.reset_requested"
	EventDeploymentFinished            EventType = "deployment.finished"
)

// IsTerminal reports whether no further events follow for the subject.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventJobCompleted, EventJobFailed, EventJobCancelled, EventDeploymentFinished:
		return true
	}
	return false
}

// Event is an immutable record of a state transition. The JSON encoding is the webhook wire format.
type Event struct {
	ID          string          `json:"-"`
	Type        EventType       `json:"type"`
	SubjectID   string          `json:"subjectId"`
	SubjectKind SubjectKind     `json:"subjectKind"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEvent encodes payload and stamps a fresh event ID.
func NewEvent(typ EventType, kind SubjectKind, subjectID string, ts time.Time, payload any) (Event, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = b
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		SubjectID:   subjectID,
		SubjectKind: kind,
		Timestamp:   ts.UTC(),
		Payload:     raw,
	}, nil
}

// Subject returns the "<kind>:<id>" address used for subscription patterns.
func (e Event) Subject() string {
	return SubjectKey(e.SubjectKind, e.SubjectID)
}

// SubjectKey builds a "<kind>:<id>" address.
func SubjectKey(kind SubjectKind, id string) string {
	return string(kind) + ":" + id
}
