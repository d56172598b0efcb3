package core

import (
	"context"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
)

// This file contains the collaborator interfaces (ports) consumed by the orchestration
// services. Services depend on these interfaces, never on concrete adapters.

// RemoteOperationClient performs calls against the remote platform. Every call is gated by
// the tenant's rate limiter before it is made.
//
// Implementations classify failures with the internal/errors taxonomy: ThrottledError for
// 429-style rejections, TransientError for network/5xx failures, PermanentError otherwise.
type RemoteOperationClient interface {
	// PerformTransferChunk moves one chunk and returns the number of bytes written.
	PerformTransferChunk(ctx context.Context, tenant string, req model.ChunkRequest) (int64, error)
	GetDeploymentStatus(ctx context.Context, tenant, deploymentID string) (model.DeploymentState, error)
	StartCompletion(ctx context.Context, tenant, deploymentID string) error
	StartReset(ctx context.Context, tenant, deploymentID string) error
}

// CredentialResolver maps a caller-supplied tenant reference (project, credential alias)
// to the identifier that keys rate limiting and audit records.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantRef string) (string, error)
}

// EventPublisher accepts state-transition events.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.Event)
}

// EventObserver is notified of every published event off the publisher's path.
type EventObserver interface {
	OnEvent(ctx context.Context, evt model.Event)
}

// SubjectPinner reports whether a subject is referenced by an open subscription, which
// prevents its history from being evicted.
type SubjectPinner interface {
	IsPinned(kind model.SubjectKind, id string) bool
}

// Snapshot is a stored, encoded job or watch.
type Snapshot struct {
	ID   string
	Data []byte
}

// SnapshotStore persists job and watch snapshots for history and restart recovery.
type SnapshotStore interface {
	Put(ctx context.Context, kind model.SubjectKind, id string, data []byte) error
	// Get returns errors.ErrCodeNotFound when the snapshot does not exist.
	Get(ctx context.Context, kind model.SubjectKind, id string) ([]byte, error)
	List(ctx context.Context, kind model.SubjectKind) ([]Snapshot, error)
	Delete(ctx context.Context, kind model.SubjectKind, id string) error
}

// AuditStore is the append-only store behind the audit recorder.
type AuditStore interface {
	Append(ctx context.Context, entry model.AuditEntry) error
	// Query returns entries ordered by StartedAt descending.
	Query(ctx context.Context, filter model.AuditFilter) (*model.AuditPage, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookRequest is a single POST attempt.
type WebhookRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte
	EventID string
}

// WebhookResponse captures what the endpoint answered.
type WebhookResponse struct {
	StatusCode int
	// RetryAfter is parsed from the Retry-After header, zero if absent.
	RetryAfter time.Duration
	Body       string
}

// WebhookSender performs one delivery attempt. Network failures are returned as errors;
// any HTTP response, including non-2xx, is returned without error.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}
