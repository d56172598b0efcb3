package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	obserrors "github.com/dxpops/conductor/internal/observability/errors"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// WorkerFunc executes a job. It must poll handle.IsCancelled at safe points and return
// apperrors.ErrCancelled once it stops because of a cancellation request. The returned
// result is JSON-encoded into the job.
type WorkerFunc func(ctx context.Context, handle *JobHandle) (any, error)

// JobRegistryOptions groups dependencies for JobRegistry.
type JobRegistryOptions struct {
	Publisher core.EventPublisher // Optional: receives job events
	Pinner    core.SubjectPinner  // Optional: protects subscribed jobs from eviction
	Store     core.SnapshotStore  // Optional: persists snapshots for history and recovery
	Metrics   metrics.Sink        // Optional: lifecycle metrics
	Logger    *slog.Logger        // Optional: structured logger
	Clock     Clock               // Optional: defaults to system time

	HistoryMaxCount       int
	HistoryTTL            time.Duration
	ProgressEventInterval time.Duration
	StoreTimeout          time.Duration
}

// JobRegistry is the authoritative map of background jobs. All job state changes go
// through it; readers receive copies.
type JobRegistry struct {
	publisher core.EventPublisher
	pinner    core.SubjectPinner
	store     core.SnapshotStore
	metrics   metrics.Sink
	logger    *slog.Logger
	clock     Clock

	historyMax    int
	historyTTL    time.Duration
	progressEvery time.Duration
	storeTimeout  time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	workers    sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	mu            sync.Mutex
	job           model.Job
	lastProgEvent time.Time
}

// CreateJobParams describes a job to allocate.
type CreateJobParams struct {
	Kind     model.JobKind
	Tenant   string
	Metadata map[string]string
	// Totals pre-sizes progress so percentages are meaningful from the start.
	Totals model.Progress
}

// NewJobRegistry constructs a JobRegistry.
func NewJobRegistry(opts JobRegistryOptions) *JobRegistry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryMaxCount <= 0 {
		opts.HistoryMaxCount = 200
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRegistry{
		publisher:     opts.Publisher,
		pinner:        opts.Pinner,
		store:         opts.Store,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "job_registry"),
		clock:         clockOrDefault(opts.Clock),
		historyMax:    opts.HistoryMaxCount,
		historyTTL:    opts.HistoryTTL,
		progressEvery: opts.ProgressEventInterval,
		storeTimeout:  opts.StoreTimeout,
		baseCtx:       ctx,
		cancelBase:    cancel,
		jobs:          make(map[string]*jobEntry),
	}
}

// Create allocates a queued job and returns its snapshot. It never blocks on I/O other
// than the optional snapshot write.
func (r *JobRegistry) Create(ctx context.Context, params CreateJobParams) (model.Job, error) {
	if !params.Kind.Valid() {
		return model.Job{}, apperrors.ValidationField("kind", fmt.Sprintf("invalid job kind %q", params.Kind))
	}
	now := r.clock.Now()
	e := &jobEntry{job: model.Job{
		ID:        newID(),
		Kind:      params.Kind,
		Status:    model.JobStatusQueued,
		Tenant:    params.Tenant,
		Metadata:  maps.Clone(params.Metadata),
		Progress:  model.Progress{ItemsTotal: max(params.Totals.ItemsTotal, 0), BytesTotal: max(params.Totals.BytesTotal, 0)},
		CreatedAt: now,
	}}

	r.mu.Lock()
	r.jobs[e.job.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	r.publishLocked(ctx, e, model.EventJobCreated, map[string]any{"kind": e.job.Kind, "metadata": e.job.Metadata})
	snap := e.job.Clone()
	e.mu.Unlock()

	r.persist(ctx, &snap)
	r.logger.DebugContext(ctx, "job created", "job_id", snap.ID, "kind", snap.Kind, "tenant", snap.Tenant)
	return snap, nil
}

// Start moves a queued job to running and launches worker on its own goroutine.
func (r *JobRegistry) Start(ctx context.Context, id string, worker WorkerFunc) error {
	if worker == nil {
		return errors.New("worker is required")
	}
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.job.Status != model.JobStatusQueued {
		e.mu.Unlock()
		return fmt.Errorf("start job %s (status %s): %w", id, e.job.Status, apperrors.ErrJobNotQueued)
	}
	now := r.clock.Now()
	e.job.Status = model.JobStatusRunning
	e.job.StartedAt = &now
	r.publishLocked(ctx, e, model.EventJobStarted, map[string]any{"kind": e.job.Kind})
	snap := e.job.Clone()
	e.mu.Unlock()

	r.persist(ctx, &snap)
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{Kind: string(snap.Kind), Transition: "start", Result: metrics.ResultSuccess})

	r.workers.Add(1)
	go r.supervise(id, worker)
	return nil
}

// supervise runs worker and guarantees a terminal transition, including when it panics.
func (r *JobRegistry) supervise(id string, worker WorkerFunc) {
	defer r.workers.Done()

	ctx := r.baseCtx
	handle := &JobHandle{registry: r, id: id}

	result, err := func() (result any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.ErrorContext(ctx, "job worker panicked", "job_id", id, "panic", rec, "stack", string(debug.Stack()))
				err = fmt.Errorf("worker panic: %v", rec)
			}
		}()
		return worker(ctx, handle)
	}()

	switch {
	case err == nil:
		r.Complete(ctx, id, result)
	case apperrors.KindOf(err) == apperrors.KindCancelled:
		r.markCancelled(ctx, id)
	default:
		r.Fail(ctx, id, err)
	}
}

// ReportProgress applies delta to the job's counters. It returns false (and changes
// nothing) when the job is terminal or a cancellation was requested.
func (r *JobRegistry) ReportProgress(ctx context.Context, id string, delta model.ProgressDelta) bool {
	e, err := r.entry(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.IsTerminal() || e.job.CancelRequested {
		return false
	}
	e.job.Progress = e.job.Progress.Apply(delta)

	now := r.clock.Now()
	if r.progressEvery == 0 || now.Sub(e.lastProgEvent) >= r.progressEvery {
		e.lastProgEvent = now
		r.publishLocked(ctx, e, model.EventJobProgress, map[string]any{"progress": e.job.Progress})
	}
	return true
}

// SetTotals raises the job's item and byte totals. Totals never drop below done counters.
func (r *JobRegistry) SetTotals(id string, items, bytes int64) {
	e, err := r.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.IsTerminal() {
		return
	}
	e.job.Progress.ItemsTotal = max(items, e.job.Progress.ItemsDone)
	e.job.Progress.BytesTotal = max(bytes, e.job.Progress.BytesDone)
}

// IsCancelled reports whether cancellation was requested for the job.
func (r *JobRegistry) IsCancelled(id string) bool {
	e, err := r.entry(id)
	if err != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.CancelRequested
}

// Cancel requests cooperative cancellation. It returns true when the job exists and is not
// terminal; repeated calls have no further effect. A queued job is cancelled immediately
// because no worker will observe the flag.
func (r *JobRegistry) Cancel(ctx context.Context, id string) (bool, error) {
	e, err := r.entry(id)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.job.IsTerminal() {
		e.mu.Unlock()
		return false, nil
	}
	if e.job.CancelRequested {
		e.mu.Unlock()
		return true, nil
	}
	e.job.CancelRequested = true
	r.publishLocked(ctx, e, model.EventJobCancelRequested, nil)
	queued := e.job.Status == model.JobStatusQueued
	e.mu.Unlock()

	r.logger.InfoContext(ctx, "job cancellation requested", "job_id", id)
	if queued {
		r.markCancelled(ctx, id)
	}
	return true, nil
}

// CancelAll requests cancellation of every non-terminal job and returns how many were affected.
func (r *JobRegistry) CancelAll(ctx context.Context) int {
	count := 0
	for _, id := range r.ids() {
		if ok, _ := r.Cancel(ctx, id); ok {
			count++
		}
	}
	return count
}

// Get returns a snapshot of the job.
func (r *JobRegistry) Get(id string) (model.Job, error) {
	e, err := r.entry(id)
	if err != nil {
		return model.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// List returns snapshots matching filter, newest first. Each job is copied under its own
// lock, so the result is a per-job consistent snapshot rather than a global one.
func (r *JobRegistry) List(filter model.JobFilter) []model.Job {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if filter.Matches(&e.job) {
			out = append(out, e.job.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Offset, filter.Limit)
}

// Complete records a successful terminal transition. Only the first terminal call wins.
func (r *JobRegistry) Complete(ctx context.Context, id string, result any) bool {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return r.Fail(ctx, id, fmt.Errorf("encode job result: %w", err))
		}
		raw = b
	}
	return r.finish(ctx, id, model.JobStatusCompleted, func(j *model.Job) { j.Result = raw }, nil)
}

// Fail records a failed terminal transition. Only the first terminal call wins.
func (r *JobRegistry) Fail(ctx context.Context, id string, cause error) bool {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	extra := map[string]any{"errorClass": obserrors.Classify(cause)}
	return r.finish(ctx, id, model.JobStatusFailed, func(j *model.Job) { j.Error = msg }, extra)
}

func (r *JobRegistry) markCancelled(ctx context.Context, id string) bool {
	return r.finish(ctx, id, model.JobStatusCancelled, func(j *model.Job) { j.CancelRequested = true }, nil)
}

func (r *JobRegistry) finish(
	ctx context.Context,
	id string,
	status model.JobStatus,
	apply func(*model.Job),
	extra map[string]any,
) bool {
	e, err := r.entry(id)
	if err != nil {
		return false
	}

	e.mu.Lock()
	if e.job.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	now := r.clock.Now()
	e.job.Status = status
	e.job.EndedAt = &now
	apply(&e.job)

	payload := map[string]any{"kind": e.job.Kind, "tenant": e.job.Tenant, "progress": e.job.Progress}
	maps.Copy(payload, extra)
	if e.job.Error != "" {
		payload["error"] = e.job.Error
	}
	if e.job.Result != nil {
		payload["result"] = e.job.Result
	}
	r.publishLocked(ctx, e, terminalEventType(status), payload)
	snap := e.job.Clone()
	e.mu.Unlock()

	r.persist(ctx, &snap)
	r.emitTerminal(ctx, &snap)
	r.EvictHistory(ctx)
	return true
}

func (r *JobRegistry) emitTerminal(ctx context.Context, j *model.Job) {
	result := metrics.ResultSuccess
	var err error
	switch j.Status {
	case model.JobStatusFailed:
		result = metrics.ResultError
		err = errors.New(j.Error)
		r.logger.WarnContext(ctx, "job failed", "job_id", j.ID, "kind", j.Kind, "error", j.Error)
	case model.JobStatusCancelled:
		result = metrics.ResultCancelled
		r.logger.InfoContext(ctx, "job cancelled", "job_id", j.ID, "items_done", j.Progress.ItemsDone)
	default:
		r.logger.InfoContext(ctx, "job completed", "job_id", j.ID, "kind", j.Kind, "bytes", j.Progress.BytesDone)
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Kind:       string(j.Kind),
		Transition: string(j.Status),
		Result:     result,
		Duration:   j.Duration(r.clock.Now()),
		Err:        err,
	})
}

func terminalEventType(status model.JobStatus) model.EventType {
	switch status {
	case model.JobStatusFailed:
		return model.EventJobFailed
	case model.JobStatusCancelled:
		return model.EventJobCancelled
	default:
		return model.EventJobCompleted
	}
}

// EvictHistory removes terminal jobs beyond the count or age limits, oldest first, skipping
// jobs pinned by an open subscription. It returns the number of evicted jobs.
func (r *JobRegistry) EvictHistory(ctx context.Context) int {
	now := r.clock.Now()

	type candidate struct {
		id    string
		ended time.Time
	}
	r.mu.RLock()
	var terminal []candidate
	for id, e := range r.jobs {
		e.mu.Lock()
		if e.job.IsTerminal() && e.job.EndedAt != nil {
			terminal = append(terminal, candidate{id: id, ended: *e.job.EndedAt})
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	sort.Slice(terminal, func(i, j int) bool { return terminal[i].ended.Before(terminal[j].ended) })
	overflow := len(terminal) - r.historyMax

	var evicted []string
	for i, c := range terminal {
		if i >= overflow && now.Sub(c.ended) < r.historyTTL {
			continue
		}
		if r.pinner != nil && r.pinner.IsPinned(model.SubjectJob, c.id) {
			continue
		}
		evicted = append(evicted, c.id)
	}
	if len(evicted) == 0 {
		return 0
	}

	r.mu.Lock()
	for _, id := range evicted {
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, id := range evicted {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
			if err := r.store.Delete(sctx, model.SubjectJob, id); err != nil {
				r.logger.WarnContext(ctx, "failed to delete job snapshot", "job_id", id, "error", err)
			}
			cancel()
		}
	}
	r.logger.DebugContext(ctx, "evicted job history", "count", len(evicted))
	return len(evicted)
}

// Recover loads persisted snapshots. Jobs that were not terminal when the process stopped
// are marked failed because their workers are gone.
func (r *JobRegistry) Recover(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	snaps, err := r.store.List(ctx, model.SubjectJob)
	if err != nil {
		return 0, fmt.Errorf("list job snapshots: %w", err)
	}

	recovered := 0
	for _, s := range snaps {
		var j model.Job
		if err := json.Unmarshal(s.Data, &j); err != nil {
			r.logger.WarnContext(ctx, "skipping unreadable job snapshot", "id", s.ID, "error", err)
			continue
		}
		if !j.IsTerminal() {
			now := r.clock.Now()
			j.Status = model.JobStatusFailed
			j.Error = "interrupted by restart"
			j.EndedAt = &now
			r.persist(ctx, &j)
		}

		r.mu.Lock()
		if _, exists := r.jobs[j.ID]; !exists {
			r.jobs[j.ID] = &jobEntry{job: j}
			recovered++
		}
		r.mu.Unlock()
	}
	r.EvictHistory(ctx)
	return recovered, nil
}

// Shutdown cancels every job and waits for workers until ctx is done; then it aborts
// the workers' context so in-flight I/O unwinds.
func (r *JobRegistry) Shutdown(ctx context.Context) error {
	r.CancelAll(ctx)

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelBase()
		return nil
	case <-ctx.Done():
		r.cancelBase()
		<-done
		return fmt.Errorf("job workers did not stop in time: %w", ctx.Err())
	}
}

// ActiveCount returns the number of non-terminal jobs.
func (r *JobRegistry) ActiveCount() int {
	return len(r.List(model.JobFilter{ActiveOnly: true}))
}

func (r *JobRegistry) entry(id string) (*jobEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	return e, nil
}

func (r *JobRegistry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}

// publishLocked emits an event while e.mu is held so events for one job are published in
// the same order as the transitions they describe.
func (r *JobRegistry) publishLocked(ctx context.Context, e *jobEntry, typ model.EventType, payload any) {
	if r.publisher == nil {
		return
	}
	evt, err := model.NewEvent(typ, model.SubjectJob, e.job.ID, r.clock.Now(), payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to build job event", "job_id", e.job.ID, "type", typ, "error", err)
		return
	}
	r.publisher.Publish(ctx, evt)
}

func (r *JobRegistry) persist(ctx context.Context, j *model.Job) {
	if r.store == nil {
		return
	}
	data, err := json.Marshal(j)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode job snapshot", "job_id", j.ID, "error", err)
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	if err := r.store.Put(sctx, model.SubjectJob, j.ID, data); err != nil {
		r.logger.WarnContext(ctx, "failed to persist job snapshot", "job_id", j.ID, "error", err)
	}
}

// JobHandle is a worker's view of its own job.
type JobHandle struct {
	registry *JobRegistry
	id       string
}

// ID returns the job ID.
func (h *JobHandle) ID() string { return h.id }

// ReportProgress forwards to the registry; false means the worker should stop.
func (h *JobHandle) ReportProgress(ctx context.Context, delta model.ProgressDelta) bool {
	return h.registry.ReportProgress(ctx, h.id, delta)
}

// SetTotals raises the job's totals.
func (h *JobHandle) SetTotals(items, bytes int64) { h.registry.SetTotals(h.id, items, bytes) }

// IsCancelled reports whether the job should stop at the next safe point.
func (h *JobHandle) IsCancelled() bool { return h.registry.IsCancelled(h.id) }

// Snapshot returns the current job state.
func (h *JobHandle) Snapshot() (model.Job, error) { return h.registry.Get(h.id) }
