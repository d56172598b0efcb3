package model

import "time"

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// AuditEntry records one tracked operation. Params are redacted before storage.
type AuditEntry struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	Kind       string         `json:"kind"`
	Tenant     string         `json:"tenant,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Status     AuditStatus    `json:"status"`
	Error      string         `json:"error,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// AuditFilter selects audit entries. Zero values match everything.
type AuditFilter struct {
	From      *time.Time
	To        *time.Time
	Operation string
	Kind      string
	Tenant    string
	Status    AuditStatus
	Offset    int
	Limit     int
}

// Matches reports whether e satisfies the filter (pagination excluded).
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.From != nil && e.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.StartedAt.Before(*f.To) {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Tenant != "" && e.Tenant != f.Tenant {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// AuditPage is one page of query results.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
}
