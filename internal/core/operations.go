package core

import (
	"context"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
)

// Operations is the fixed set of operations exposed to the tool layer (HTTP API, CLI).
type Operations interface {
	StartTransfer(ctx context.Context, req model.TransferRequest) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	CancelAllJobs(ctx context.Context) (int, error)

	WatchDeployment(ctx context.Context, req model.WatchRequest) (*model.DeploymentWatch, error)
	GetWatch(ctx context.Context, id string) (*model.DeploymentWatch, error)
	ListWatches(ctx context.Context, includeFinished bool) ([]model.DeploymentWatch, error)
	StopWatch(ctx context.Context, id string) (model.DeploymentState, error)
	UpdateWatchInterval(ctx context.Context, id string, interval time.Duration) error
	ResetDeployment(ctx context.Context, id string) error

	Subscribe(ctx context.Context, pattern string) (string, error)
	Unsubscribe(ctx context.Context, id string) error
	PollEvents(ctx context.Context, id string, maxEvents int, wait time.Duration) ([]model.Event, error)
	RegisterWebhook(ctx context.Context, subjectID string, spec model.WebhookSpec) (*model.Webhook, error)
	ListDeliveries(ctx context.Context, webhookID string) ([]model.DeliveryRecord, error)

	QueryAudit(ctx context.Context, filter model.AuditFilter) (*model.AuditPage, error)
	RateLimitStatus(ctx context.Context, tenantRef string) (*model.LimitStatus, error)
}
