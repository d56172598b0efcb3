package model

import (
	"maps"
	"net/url"
	"strings"
	"time"
)

// WebhookSpec is the caller-supplied part of a webhook registration.
type WebhookSpec struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// EventTypes limits delivery to these types; empty means all.
	EventTypes []EventType `json:"event_types,omitempty"`
	// Filter is a JMESPath expression evaluated against the wire payload; deliveries
	// happen only when it yields a truthy value.
	Filter string `json:"filter,omitempty"`
	// Persistent keeps the webhook after its subject reaches a terminal state.
	Persistent bool `json:"persistent,omitempty"`
}

// Validate checks the URL and filter shape.
func (s *WebhookSpec) Validate() error {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || u.Host == "" {
		return &FieldError{Field: "url", Message: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &FieldError{Field: "url", Message: "scheme must be http or https"}
	}
	return nil
}

// Webhook is a registered HTTP endpoint receiving events for one subject.
type Webhook struct {
	ID          string            `json:"id"`
	SubjectKind SubjectKind       `json:"subject_kind"`
	SubjectID   string            `json:"subject_id"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	EventTypes  []EventType       `json:"event_types,omitempty"`
	Filter      string            `json:"filter,omitempty"`
	Persistent  bool              `json:"persistent"`
	CreatedAt   time.Time         `json:"created_at"`
	Pending     int               `json:"pending"`
	Delivered   int               `json:"delivered"`
	Failed      int               `json:"failed"`
	SubjectDone bool              `json:"subject_done"`
}

// WantsType reports whether the webhook is interested in events of type t.
func (w *Webhook) WantsType(t EventType) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, et := range w.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Clone returns a copy with maps and slices detached.
func (w *Webhook) Clone() Webhook {
	out := *w
	out.Headers = maps.Clone(w.Headers)
	out.EventTypes = append([]EventType(nil), w.EventTypes...)
	return out
}

// DeliveryStatus is the outcome of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord tracks one event delivered (or not) to one webhook.
type DeliveryRecord struct {
	ID             string         `json:"id"`
	WebhookID      string         `json:"webhook_id"`
	EventID        string         `json:"event_id"`
	EventType      EventType      `json:"event_type"`
	SubjectID      string         `json:"subject_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastStatusCode int            `json:"last_status_code,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// DeliveryStats summarises a DeliverPending pass.
type DeliveryStats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// FieldError is a validation failure on a named request field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }
