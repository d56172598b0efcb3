// Package model defines the core data types shared by the orchestration services.
package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// JobKind represents the kind of background operation a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindTransfer copies files from a storage endpoint.
	JobKindTransfer JobKind = "transfer"
	// JobKindExport produces an export (e.g. database backup) and downloads it.
	JobKindExport JobKind = "export"

	// JobStatusQueued indicates a job was created but its worker has not started.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a worker is executing the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job ended with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the worker stopped after a cancellation request.
	JobStatusCancelled JobStatus = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobKind.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := JobKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid job kind: %q", v)
	}
	*k = v
	return nil
}

// Valid returns true if the JobKind is known.
func (k JobKind) Valid() bool {
	return k == JobKindTransfer || k == JobKindExport
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress holds monotonically non-decreasing counters for a job.
type Progress struct {
	ItemsDone  int64 `json:"items_done"`
	ItemsTotal int64 `json:"items_total"`
	BytesDone  int64 `json:"bytes_done"`
	BytesTotal int64 `json:"bytes_total"`
}

// ProgressDelta is an increment reported by a worker. Negative components are ignored.
type ProgressDelta struct {
	Items int64
	Bytes int64
}

// Apply returns p advanced by d. Totals grow when done counters pass them.
func (p Progress) Apply(d ProgressDelta) Progress {
	if d.Items > 0 {
		p.ItemsDone += d.Items
	}
	if d.Bytes > 0 {
		p.BytesDone += d.Bytes
	}
	if p.ItemsTotal < p.ItemsDone {
		p.ItemsTotal = p.ItemsDone
	}
	if p.BytesTotal < p.BytesDone {
		p.BytesTotal = p.BytesDone
	}
	return p
}

// Percent returns completion in [0,100], preferring bytes when totals are known.
func (p Progress) Percent() float64 {
	switch {
	case p.BytesTotal > 0:
		return float64(p.BytesDone) * 100 / float64(p.BytesTotal)
	case p.ItemsTotal > 0:
		return float64(p.ItemsDone) * 100 / float64(p.ItemsTotal)
	default:
		return 0
	}
}

// Job is a background transfer or export tracked by the registry.
type Job struct {
	ID              string            `json:"id"`
	Kind            JobKind           `json:"kind"`
	Status          JobStatus         `json:"status"`
	Tenant          string            `json:"tenant"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Progress        Progress          `json:"progress"`
	CancelRequested bool              `json:"cancel_requested"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	Result          json.RawMessage   `json:"result,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// IsTerminal reports whether the job reached completed, failed or cancelled.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() Job {
	out := *j
	out.Metadata = maps.Clone(j.Metadata)
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Duration returns the run time of the job, or zero if it never started.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.EndedAt != nil {
		end = *j.EndedAt
	}
	return end.Sub(*j.StartedAt)
}

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	Kind     JobKind
	Statuses []JobStatus
	Tenant   string
	// ActiveOnly excludes terminal jobs.
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Matches reports whether j satisfies the filter (pagination is applied by the caller).
func (f JobFilter) Matches(j *Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Tenant != "" && j.Tenant != f.Tenant {
		return false
	}
	if f.ActiveOnly && j.IsTerminal() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// TransferItem is one file or export artifact moved by a transfer job.
type TransferItem struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// TransferRequest describes a transfer or export job to start.
type TransferRequest struct {
	TenantRef   string            `json:"tenant_ref"`
	Kind        JobKind           `json:"kind"`
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Items       []TransferItem    `json:"items"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Webhook     *WebhookSpec      `json:"webhook,omitempty"`
}

// Validate checks the request shape.
func (r *TransferRequest) Validate() error {
	if r.Kind == "" {
		r.Kind = JobKindTransfer
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("items[%d].name is required", i)
		}
		if it.Size < 0 {
			return fmt.Errorf("items[%d].size must be >= 0", i)
		}
	}
	return nil
}

// ChunkRequest is a single call to the remote transfer API.
type ChunkRequest struct {
	JobID       string  `json:"job_id"`
	Kind        JobKind `json:"kind"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Item        string  `json:"item"`
	Offset      int64   `json:"offset"`
	Length      int64   `json:"length"`
}
