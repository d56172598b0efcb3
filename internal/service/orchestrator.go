package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// OrchestratorOptions groups the components behind the operations facade.
type OrchestratorOptions struct {
	Registry   *JobRegistry       // Required
	Monitor    *DeploymentMonitor // Required
	Dispatcher *Dispatcher        // Required
	Gate       *RemoteGate        // Required
	Audit      *AuditRecorder     // Required
	Transfers  *TransferWorker    // Optional: defaults to a worker on Gate without chunking
	Logger     *slog.Logger       // Optional: structured logger
}

// Orchestrator implements core.Operations. Every operation is audited.
type Orchestrator struct {
	registry   *JobRegistry
	monitor    *DeploymentMonitor
	dispatcher *Dispatcher
	gate       *RemoteGate
	audit      *AuditRecorder
	transfers  *TransferWorker
	logger     *slog.Logger
}

var _ core.Operations = (*Orchestrator)(nil)

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("JobRegistry is required")
	case opts.Monitor == nil:
		return nil, errors.New("DeploymentMonitor is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("Dispatcher is required")
	case opts.Gate == nil:
		return nil, errors.New("RemoteGate is required")
	case opts.Audit == nil:
		return nil, errors.New("AuditRecorder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transfers := opts.Transfers
	if transfers == nil {
		transfers = NewTransferWorker(opts.Gate, 0, logger)
	}
	return &Orchestrator{
		registry:   opts.Registry,
		monitor:    opts.Monitor,
		dispatcher: opts.Dispatcher,
		gate:       opts.Gate,
		audit:      opts.Audit,
		transfers:  transfers,
		logger:     logger.With("component", "orchestrator"),
	}, nil
}

// MustNewOrchestrator constructs an Orchestrator and panics on error.
func MustNewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o, err := NewOrchestrator(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return o
}

// StartTransfer creates a transfer or export job and starts its worker. A webhook in the
// request is attached before the job starts, so it receives every event from job.started.
func (o *Orchestrator) StartTransfer(ctx context.Context, req model.TransferRequest) (*model.Job, error) {
	call := AuditCall{Operation: "start_transfer", Kind: "job", Params: map[string]any{
		"tenant_ref":  req.TenantRef,
		"kind":        req.Kind,
		"source":      req.Source,
		"destination": req.Destination,
		"items":       len(req.Items),
		"metadata":    req.Metadata,
	}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (*model.Job, error) {
		if err := req.Validate(); err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		if req.Webhook != nil {
			if err := req.Webhook.Validate(); err != nil {
				return nil, apperrors.Validation("webhook." + err.Error())
			}
		}
		tenant, err := o.gate.ResolveTenant(ctx, req.TenantRef)
		if err != nil {
			return nil, err
		}
		call.Tenant = tenant

		job, err := o.registry.Create(ctx, CreateJobParams{Kind: req.Kind, Tenant: tenant, Metadata: req.Metadata})
		if err != nil {
			return nil, err
		}
		if req.Webhook != nil {
			if _, err := o.dispatcher.RegisterWebhook(ctx, model.SubjectJob, job.ID, *req.Webhook); err != nil {
				o.registry.Fail(ctx, job.ID, err)
				return nil, err
			}
		}
		if err := o.registry.Start(ctx, job.ID, o.transfers.Worker(tenant, req)); err != nil {
			return nil, err
		}
		return o.getJob(job.ID)
	})
}

func (o *Orchestrator) getJob(id string) (*model.Job, error) {
	j, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob returns a job snapshot.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*model.Job, error) {
	call := AuditCall{Operation: "get_job", Kind: "job", Params: map[string]any{"job_id": id}}
	return Wrap(ctx, o.audit, &call, func(context.Context) (*model.Job, error) {
		return o.getJob(id)
	})
}

// ListJobs returns job snapshots matching filter.
func (o *Orchestrator) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	call := AuditCall{Operation: "list_jobs", Kind: "job", Params: map[string]any{
		"kind":        filter.Kind,
		"active_only": filter.ActiveOnly,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	}}
	return Wrap(ctx, o.audit, &call, func(context.Context) ([]model.Job, error) {
		return o.registry.List(filter), nil
	})
}

// CancelJob requests cooperative cancellation.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) (bool, error) {
	call := AuditCall{Operation: "cancel_job", Kind: "job", Params: map[string]any{"job_id": id}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (bool, error) {
		return o.registry.Cancel(ctx, id)
	})
}

// CancelAllJobs requests cancellation of every active job.
func (o *Orchestrator) CancelAllJobs(ctx context.Context) (int, error) {
	call := AuditCall{Operation: "cancel_all_jobs", Kind: "job"}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (int, error) {
		return o.registry.CancelAll(ctx), nil
	})
}

// WatchDeployment starts monitoring a deployment. A webhook in the request is attached to
// the deployment first so that it also receives deployment.watch_started.
func (o *Orchestrator) WatchDeployment(ctx context.Context, req model.WatchRequest) (*model.DeploymentWatch, error) {
	call := AuditCall{Operation: "watch_deployment", Kind: "deployment", Params: map[string]any{
		"tenant_ref":    req.TenantRef,
		"deployment_id": req.DeploymentID,
		"poll_interval": req.Options.PollInterval.String(),
		"max_duration":  req.Options.MaxDuration.String(),
		"auto_complete": req.Options.AutoComplete,
	}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (*model.DeploymentWatch, error) {
		tenant, err := o.gate.ResolveTenant(ctx, req.TenantRef)
		if err != nil {
			return nil, err
		}
		call.Tenant = tenant

		var hookID string
		if req.Webhook != nil && req.DeploymentID != "" {
			hook, err := o.dispatcher.RegisterWebhook(ctx, model.SubjectDeployment, req.DeploymentID, *req.Webhook)
			if err != nil {
				return nil, err
			}
			hookID = hook.ID
		}

		w, err := o.monitor.Watch(ctx, tenant, req.DeploymentID, req.Options)
		if err != nil {
			if hookID != "" {
				_ = o.dispatcher.RemoveWebhook(hookID)
			}
			if errors.Is(err, apperrors.ErrAlreadyWatching) {
				return &w, apperrors.Conflictf("deployment %s is already watched by %s", req.DeploymentID, w.ID)
			}
			return nil, err
		}
		return &w, nil
	})
}

// GetWatch returns a watch snapshot.
func (o *Orchestrator) GetWatch(ctx context.Context, id string) (*model.DeploymentWatch, error) {
	call := AuditCall{Operation: "get_watch", Kind: "deployment", Params: map[string]any{"watch_id": id}}
	return Wrap(ctx, o.audit, &call, func(context.Context) (*model.DeploymentWatch, error) {
		w, err := o.monitor.Get(id)
		if err != nil {
			return nil, err
		}
		return &w, nil
	})
}

// ListWatches returns active watches, and finished ones when requested.
func (o *Orchestrator) ListWatches(ctx context.Context, includeFinished bool) ([]model.DeploymentWatch, error) {
	call := AuditCall{Operation: "list_watches", Kind: "deployment", Params: map[string]any{"include_finished": includeFinished}}
	return Wrap(ctx, o.audit, &call, func(context.Context) ([]model.DeploymentWatch, error) {
		return o.monitor.List(includeFinished), nil
	})
}

// StopWatch stops a watch and returns its final state.
func (o *Orchestrator) StopWatch(ctx context.Context, id string) (model.DeploymentState, error) {
	call := AuditCall{Operation: "stop_watch", Kind: "deployment", Params: map[string]any{"watch_id": id}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (model.DeploymentState, error) {
		return o.monitor.Stop(ctx, id)
	})
}

// UpdateWatchInterval changes a watch's poll interval.
func (o *Orchestrator) UpdateWatchInterval(ctx context.Context, id string, interval time.Duration) error {
	call := AuditCall{Operation: "update_watch_interval", Kind: "deployment", Params: map[string]any{
		"watch_id":      id,
		"poll_interval": interval.String(),
	}}
	return o.audit.Track(ctx, &call, func(ctx context.Context) error {
		_, err := o.monitor.UpdateInterval(ctx, id, interval)
		return err
	})
}

// ResetDeployment asks the remote to reset a watched deployment.
func (o *Orchestrator) ResetDeployment(ctx context.Context, id string) error {
	call := AuditCall{Operation: "reset_deployment", Kind: "deployment", Params: map[string]any{"watch_id": id}}
	return o.audit.Track(ctx, &call, func(ctx context.Context) error {
		return o.monitor.ResetDeployment(ctx, id)
	})
}

// Subscribe registers an in-process subscriber.
func (o *Orchestrator) Subscribe(ctx context.Context, pattern string) (string, error) {
	call := AuditCall{Operation: "subscribe", Kind: "subscription", Params: map[string]any{"pattern": pattern}}
	return Wrap(ctx, o.audit, &call, func(context.Context) (string, error) {
		sub, err := o.dispatcher.Subscribe(pattern)
		if err != nil {
			return "", err
		}
		return sub.ID, nil
	})
}

// Unsubscribe removes a subscriber.
func (o *Orchestrator) Unsubscribe(ctx context.Context, id string) error {
	call := AuditCall{Operation: "unsubscribe", Kind: "subscription", Params: map[string]any{"subscription_id": id}}
	return o.audit.Track(ctx, &call, func(context.Context) error {
		return o.dispatcher.Unsubscribe(id)
	})
}

// PollEvents reads queued events for a subscriber, optionally waiting for the first one.
func (o *Orchestrator) PollEvents(ctx context.Context, id string, maxEvents int, wait time.Duration) ([]model.Event, error) {
	call := AuditCall{Operation: "poll_events", Kind: "subscription", Params: map[string]any{
		"subscription_id": id,
		"max":             maxEvents,
		"wait":            wait.String(),
	}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) ([]model.Event, error) {
		return o.dispatcher.Poll(ctx, id, maxEvents, wait)
	})
}

// RegisterWebhook attaches a webhook to an existing job or deployment. subjectID is either
// a bare ID or qualified as "job:<id>" or "deployment:<id>". A subject that already reached
// a terminal state only accepts persistent webhooks.
func (o *Orchestrator) RegisterWebhook(ctx context.Context, subjectID string, spec model.WebhookSpec) (*model.Webhook, error) {
	call := AuditCall{Operation: "register_webhook", Kind: "webhook", Params: map[string]any{
		"subject_id":  subjectID,
		"url":         spec.URL,
		"headers":     spec.Headers,
		"event_types": len(spec.EventTypes),
		"persistent":  spec.Persistent,
	}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (*model.Webhook, error) {
		subj, err := o.resolveSubject(subjectID)
		if err != nil {
			return nil, err
		}
		if subj.terminal && !spec.Persistent {
			return nil, apperrors.Conflictf("%s %s already finished; only persistent webhooks can be attached", subj.kind, subj.id)
		}
		hook, err := o.dispatcher.RegisterWebhook(ctx, subj.kind, subj.id, spec)
		if err != nil {
			return nil, err
		}
		return &hook, nil
	})
}

type webhookSubject struct {
	kind     model.SubjectKind
	id       string
	terminal bool
}

func (o *Orchestrator) resolveSubject(subjectID string) (webhookSubject, error) {
	subjectID = strings.TrimSpace(subjectID)
	if prefix, id, ok := strings.Cut(subjectID, ":"); ok {
		switch model.SubjectKind(prefix) {
		case model.SubjectJob:
			if subj, found := o.jobSubject(id); found {
				return subj, nil
			}
			return webhookSubject{}, apperrors.NotFoundf("no job %s", id)
		case model.SubjectDeployment:
			if subj, found := o.deploymentSubject(id); found {
				return subj, nil
			}
			return webhookSubject{}, apperrors.NotFoundf("no deployment watch for %s", id)
		}
	}

	job, isJob := o.jobSubject(subjectID)
	dep, isDeployment := o.deploymentSubject(subjectID)
	switch {
	case isJob && isDeployment:
		return webhookSubject{}, apperrors.ValidationField("subject_id",
			fmt.Sprintf("%s names both a job and a deployment; use job:%s or deployment:%s", subjectID, subjectID, subjectID))
	case isJob:
		return job, nil
	case isDeployment:
		return dep, nil
	default:
		return webhookSubject{}, apperrors.NotFoundf("no job or deployment watch for subject %s", subjectID)
	}
}

func (o *Orchestrator) jobSubject(id string) (webhookSubject, bool) {
	j, err := o.registry.Get(id)
	if err != nil {
		return webhookSubject{}, false
	}
	return webhookSubject{kind: model.SubjectJob, id: id, terminal: j.IsTerminal()}, true
}

// deploymentSubject treats a deployment as finished when none of its watches is active.
func (o *Orchestrator) deploymentSubject(id string) (webhookSubject, bool) {
	found, active := false, false
	for _, w := range o.monitor.List(true) {
		if w.DeploymentID != id {
			continue
		}
		found = true
		active = active || w.Active
	}
	if !found {
		return webhookSubject{}, false
	}
	return webhookSubject{kind: model.SubjectDeployment, id: id, terminal: !active}, true
}

// ListDeliveries returns a webhook's delivery records.
func (o *Orchestrator) ListDeliveries(ctx context.Context, webhookID string) ([]model.DeliveryRecord, error) {
	call := AuditCall{Operation: "list_deliveries", Kind: "webhook", Params: map[string]any{"webhook_id": webhookID}}
	return Wrap(ctx, o.audit, &call, func(context.Context) ([]model.DeliveryRecord, error) {
		return o.dispatcher.ListDeliveries(webhookID)
	})
}

// QueryAudit returns a page of audit entries.
func (o *Orchestrator) QueryAudit(ctx context.Context, filter model.AuditFilter) (*model.AuditPage, error) {
	call := AuditCall{Operation: "query_audit", Kind: "audit", Params: map[string]any{
		"operation": filter.Operation,
		"status":    filter.Status,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (*model.AuditPage, error) {
		return o.audit.Query(ctx, filter)
	})
}

// RateLimitStatus reports the limiter state of a tenant. Backoff is surfaced as a status,
// never as an error.
func (o *Orchestrator) RateLimitStatus(ctx context.Context, tenantRef string) (*model.LimitStatus, error) {
	call := AuditCall{Operation: "rate_limit_status", Kind: "ratelimit", Params: map[string]any{"tenant_ref": tenantRef}}
	return Wrap(ctx, o.audit, &call, func(ctx context.Context) (*model.LimitStatus, error) {
		tenant, err := o.gate.ResolveTenant(ctx, tenantRef)
		if err != nil {
			return nil, err
		}
		call.Tenant = tenant
		st := o.gate.Status(tenant)
		return &st, nil
	})
}

// Shutdown stops watches and jobs, then waits for pending audit writes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var errs []error
	if err := o.monitor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	o.dispatcher.Flush()
	o.audit.Flush()
	if len(errs) > 0 {
		return fmt.Errorf("orchestrator shutdown: %w", errors.Join(errs...))
	}
	return nil
}
