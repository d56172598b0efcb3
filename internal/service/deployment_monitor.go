package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// DeploymentRemote is the subset of RemoteGate the monitor depends on.
type DeploymentRemote interface {
	DeploymentStatus(ctx context.Context, tenant, deploymentID string) (model.DeploymentState, error)
	StartCompletion(ctx context.Context, tenant, deploymentID string) error
	StartReset(ctx context.Context, tenant, deploymentID string) error
}

var _ DeploymentRemote = (*RemoteGate)(nil)

// DeploymentMonitorOptions groups dependencies for DeploymentMonitor.
type DeploymentMonitorOptions struct {
	Remote    DeploymentRemote    // Required: gated remote calls
	Publisher core.EventPublisher // Optional: receives deployment events
	Pinner    core.SubjectPinner  // Optional: protects subscribed watches from eviction
	Store     core.SnapshotStore  // Optional: persists watch snapshots
	Metrics   metrics.Sink        // Optional: metrics sink
	Logger    *slog.Logger        // Optional: structured logger
	Clock     Clock               // Optional: timestamps; timers always use real time

	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
	DefaultMaxDuration  time.Duration
	MaxMaxDuration      time.Duration
	MaxPollFailures     int
	HistoryMaxCount     int
	HistoryTTL          time.Duration
	StoreTimeout        time.Duration
}

// DeploymentMonitor polls remote deployments until they settle. There is at most one
// active watch per deployment ID, each driven by its own goroutine.
type DeploymentMonitor struct {
	remote    DeploymentRemote
	publisher core.EventPublisher
	pinner    core.SubjectPinner
	store     core.SnapshotStore
	metrics   metrics.Sink
	logger    *slog.Logger
	clock     Clock

	defaultInterval time.Duration
	minInterval     time.Duration
	defaultMaxDur   time.Duration
	maxMaxDur       time.Duration
	maxPollFailures int
	historyMax      int
	historyTTL      time.Duration
	storeTimeout    time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	runners    sync.WaitGroup

	mu           sync.Mutex
	active       map[string]*watchRunner // by watch ID
	byDeployment map[string]string       // deployment ID -> active watch ID
	finished     map[string]model.DeploymentWatch
	closed       bool
}

type watchRunner struct {
	mu    sync.Mutex
	watch model.DeploymentWatch

	intervalCh chan time.Duration
	stopOnce   sync.Once
	stopReason model.StopReason
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewDeploymentMonitor constructs a DeploymentMonitor.
func NewDeploymentMonitor(opts DeploymentMonitorOptions) (*DeploymentMonitor, error) {
	if opts.Remote == nil {
		return nil, errors.New("DeploymentRemote is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &DeploymentMonitor{
		remote:          opts.Remote,
		publisher:       opts.Publisher,
		pinner:          opts.Pinner,
		store:           opts.Store,
		metrics:         opts.Metrics,
		logger:          logger.With("component", "deployment_monitor"),
		clock:           clockOrDefault(opts.Clock),
		defaultInterval: defaultDuration(opts.DefaultPollInterval, 30*time.Second),
		minInterval:     defaultDuration(opts.MinPollInterval, 5*time.Second),
		defaultMaxDur:   defaultDuration(opts.DefaultMaxDuration, time.Hour),
		maxMaxDur:       defaultDuration(opts.MaxMaxDuration, 24*time.Hour),
		maxPollFailures: opts.MaxPollFailures,
		historyMax:      opts.HistoryMaxCount,
		historyTTL:      defaultDuration(opts.HistoryTTL, time.Hour),
		storeTimeout:    defaultDuration(opts.StoreTimeout, 5*time.Second),
		active:          make(map[string]*watchRunner),
		byDeployment:    make(map[string]string),
		finished:        make(map[string]model.DeploymentWatch),
	}
	if m.maxPollFailures <= 0 {
		m.maxPollFailures = 10
	}
	if m.historyMax <= 0 {
		m.historyMax = 100
	}
	m.baseCtx, m.cancelBase = context.WithCancel(context.Background())
	return m, nil
}

// MustNewDeploymentMonitor constructs a DeploymentMonitor and panics on error.
func MustNewDeploymentMonitor(opts DeploymentMonitorOptions) *DeploymentMonitor {
	m, err := NewDeploymentMonitor(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return m
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Watch starts monitoring deploymentID for tenant. When the deployment is already watched
// it returns the existing watch together with ErrAlreadyWatching.
func (m *DeploymentMonitor) Watch(
	ctx context.Context,
	tenant, deploymentID string,
	opts model.WatchOptions,
) (model.DeploymentWatch, error) {
	if deploymentID == "" {
		return model.DeploymentWatch{}, apperrors.ValidationField("deployment_id", "deployment ID is required")
	}
	opts = m.normalizeOptions(opts)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.DeploymentWatch{}, apperrors.Conflictf("deployment monitor is shutting down")
	}
	if id, ok := m.byDeployment[deploymentID]; ok {
		existing := m.active[id]
		m.mu.Unlock()
		return existing.snapshot(), apperrors.ErrAlreadyWatching
	}
	runCtx, r := m.newRunner(model.DeploymentWatch{
		ID:           newID(),
		DeploymentID: deploymentID,
		Tenant:       tenant,
		State:        model.DeploymentUnknown,
		PollInterval: opts.PollInterval,
		MaxDuration:  opts.MaxDuration,
		AutoComplete: opts.AutoComplete,
		Active:       true,
		StartedAt:    m.clock.Now(),
	}, opts.MaxDuration)
	m.mu.Unlock()

	r.mu.Lock()
	m.publishLocked(ctx, r, model.EventDeploymentWatchStarted, map[string]any{
		"watchId":      r.watch.ID,
		"pollInterval": r.watch.PollInterval.String(),
		"maxDuration":  r.watch.MaxDuration.String(),
		"autoComplete": r.watch.AutoComplete,
	})
	snap := r.watch.Clone()
	r.mu.Unlock()

	m.persist(ctx, &snap)
	go m.run(runCtx, r)
	m.logger.InfoContext(ctx, "deployment watch started",
		"watch_id", snap.ID, "deployment_id", deploymentID, "poll_interval", snap.PollInterval, "max_duration", snap.MaxDuration)
	return snap, nil
}

func (m *DeploymentMonitor) normalizeOptions(opts model.WatchOptions) model.WatchOptions {
	if opts.PollInterval <= 0 {
		opts.PollInterval = m.defaultInterval
	}
	opts.PollInterval = max(opts.PollInterval, m.minInterval)
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = m.defaultMaxDur
	}
	opts.MaxDuration = min(opts.MaxDuration, m.maxMaxDur)
	return opts
}

// newRunner registers an active watch that expires after remaining. m.mu must be held;
// the caller starts run with the returned context.
func (m *DeploymentMonitor) newRunner(w model.DeploymentWatch, remaining time.Duration) (context.Context, *watchRunner) {
	ctx, cancel := context.WithTimeout(m.baseCtx, remaining)
	r := &watchRunner{
		watch:      w,
		intervalCh: make(chan time.Duration, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.active[w.ID] = r
	m.byDeployment[w.DeploymentID] = w.ID
	m.runners.Add(1)
	return ctx, r
}

// run polls immediately and then on every tick until the watch ends. ctx carries the
// watch deadline so a rate-limit wait never outlives it.
func (m *DeploymentMonitor) run(ctx context.Context, r *watchRunner) {
	defer m.runners.Done()
	defer close(r.done)
	defer r.cancel()

	r.mu.Lock()
	interval := r.watch.PollInterval
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if reason, err := m.poll(ctx, r); reason != "" {
		m.finish(r, reason, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			m.finish(r, m.exitReason(ctx, r), nil)
			return
		case d := <-r.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			if reason, err := m.poll(ctx, r); reason != "" {
				m.finish(r, reason, err)
				return
			}
		}
	}
}

func (m *DeploymentMonitor) exitReason(ctx context.Context, r *watchRunner) model.StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.stopReason != "":
		return r.stopReason
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.StopReasonTimedOut
	default:
		return model.StopReasonShutdown
	}
}

// poll performs one status check and reacts to it. A non-empty reason ends the watch.
func (m *DeploymentMonitor) poll(ctx context.Context, r *watchRunner) (model.StopReason, error) {
	r.mu.Lock()
	tenant, depID := r.watch.Tenant, r.watch.DeploymentID
	r.mu.Unlock()

	state, err := m.remote.DeploymentStatus(ctx, tenant, depID)
	if err != nil {
		if ctx.Err() != nil {
			return m.exitReason(ctx, r), nil
		}
		return m.recordPollFailure(ctx, r, err)
	}
	metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "poll", State: string(state), Result: metrics.ResultSuccess})

	now := m.clock.Now()
	r.mu.Lock()
	r.watch.PollCount++
	r.watch.LastPolledAt = &now
	r.watch.ConsecutiveFailures = 0
	r.watch.LastError = ""
	prev := r.watch.State
	if state != prev {
		r.watch.State = state
		m.publishLocked(ctx, r, model.EventDeploymentStateChanged, map[string]any{
			"watchId": r.watch.ID,
			"from":    prev,
			"to":      state,
		})
	}
	// The flag is set before the call so the action runs at most once even if the
	// call fails or the state is observed again.
	triggerCompletion := r.watch.AutoComplete && !r.watch.CompletionTriggered &&
		state == model.DeploymentAwaitingVerification
	if triggerCompletion {
		r.watch.CompletionTriggered = true
	}
	snap := r.watch.Clone()
	r.mu.Unlock()

	if state != prev {
		m.persist(ctx, &snap)
		m.logger.InfoContext(ctx, "deployment state changed",
			"watch_id", snap.ID, "deployment_id", depID, "from", prev, "to", state)
		metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "transition", State: string(state), Result: metrics.ResultSuccess})
	}
	if triggerCompletion {
		m.triggerCompletion(ctx, r, tenant, depID)
	}
	if state.IsTerminal() {
		return model.StopReasonTerminal, nil
	}
	return "", nil
}

func (m *DeploymentMonitor) recordPollFailure(ctx context.Context, r *watchRunner, err error) (model.StopReason, error) {
	metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "poll", Result: metrics.ResultError, Err: err})

	r.mu.Lock()
	r.watch.ConsecutiveFailures++
	r.watch.LastError = err.Error()
	failures := r.watch.ConsecutiveFailures
	id := r.watch.ID
	r.mu.Unlock()

	if apperrors.KindOf(err) == apperrors.KindFatal {
		m.logger.ErrorContext(ctx, "deployment poll failed permanently", "watch_id", id, "error", err)
		return model.StopReasonFatal, err
	}
	m.logger.WarnContext(ctx, "deployment poll failed", "watch_id", id, "consecutive_failures", failures, "error", err)
	if failures >= m.maxPollFailures {
		return model.StopReasonPollErrors, err
	}
	return "", nil
}

func (m *DeploymentMonitor) triggerCompletion(ctx context.Context, r *watchRunner, tenant, depID string) {
	err := m.remote.StartCompletion(ctx, tenant, depID)

	result := metrics.ResultSuccess
	payload := map[string]any{}
	r.mu.Lock()
	payload["watchId"] = r.watch.ID
	if err != nil {
		result = metrics.ResultError
		payload["error"] = err.Error()
		r.watch.LastError = err.Error()
	}
	m.publishLocked(ctx, r, model.EventDeploymentCompletionTriggered, payload)
	snap := r.watch.Clone()
	r.mu.Unlock()

	m.persist(ctx, &snap)
	metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "auto_complete", State: string(snap.State), Result: result, Err: err})
	if err != nil {
		m.logger.WarnContext(ctx, "automatic completion failed", "watch_id", snap.ID, "deployment_id", depID, "error", err)
		return
	}
	m.logger.InfoContext(ctx, "automatic completion triggered", "watch_id", snap.ID, "deployment_id", depID)
}

// finish removes the watch from the active set and emits the final event.
func (m *DeploymentMonitor) finish(r *watchRunner, reason model.StopReason, cause error) {
	ctx := context.WithoutCancel(m.baseCtx)
	now := m.clock.Now()

	r.mu.Lock()
	r.watch.Active = false
	r.watch.StopReason = reason
	r.watch.TimedOut = reason == model.StopReasonTimedOut
	r.watch.EndedAt = &now
	payload := map[string]any{
		"watchId":    r.watch.ID,
		"tenant":     r.watch.Tenant,
		"finalState": r.watch.State,
		"timedOut":   r.watch.TimedOut,
		"stopReason": reason,
	}
	if cause != nil {
		payload["error"] = cause.Error()
		r.watch.LastError = cause.Error()
	}
	snap := r.watch.Clone()

	m.mu.Lock()
	delete(m.active, snap.ID)
	if m.byDeployment[snap.DeploymentID] == snap.ID {
		delete(m.byDeployment, snap.DeploymentID)
	}
	m.finished[snap.ID] = snap
	m.mu.Unlock()

	m.publishLocked(ctx, r, model.EventDeploymentFinished, payload)
	r.mu.Unlock()

	m.persist(ctx, &snap)
	result := metrics.ResultSuccess
	if snap.State == model.DeploymentFailed || reason == model.StopReasonPollErrors || reason == model.StopReasonFatal {
		result = metrics.ResultError
	}
	metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "finished", State: string(snap.State), Result: result, Err: cause})
	m.logger.InfoContext(ctx, "deployment watch finished",
		"watch_id", snap.ID, "deployment_id", snap.DeploymentID, "state", snap.State, "reason", reason, "polls", snap.PollCount)
	m.EvictHistory(ctx)
}

// Stop ends an active watch and returns the last observed state. Stopping a finished
// watch returns its final state without side effects.
func (m *DeploymentMonitor) Stop(ctx context.Context, watchID string) (model.DeploymentState, error) {
	m.mu.Lock()
	r, ok := m.active[watchID]
	if !ok {
		w, done := m.finished[watchID]
		m.mu.Unlock()
		if !done {
			return model.DeploymentUnknown, apperrors.ErrWatchNotFound
		}
		return w.State, nil
	}
	m.mu.Unlock()

	r.requestStop(model.StopReasonStopped)
	select {
	case <-r.done:
	case <-ctx.Done():
		return model.DeploymentUnknown, fmt.Errorf("stop watch %s: %w", watchID, ctx.Err())
	}
	snap := r.snapshot()
	return snap.State, nil
}

func (r *watchRunner) requestStop(reason model.StopReason) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopReason = reason
		r.mu.Unlock()
		r.cancel()
	})
}

func (r *watchRunner) snapshot() model.DeploymentWatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watch.Clone()
}

// UpdateInterval changes the poll interval of an active watch. The new interval applies
// from the next tick.
func (m *DeploymentMonitor) UpdateInterval(ctx context.Context, watchID string, interval time.Duration) (model.DeploymentWatch, error) {
	if interval < m.minInterval {
		return model.DeploymentWatch{}, apperrors.ValidationField("poll_interval",
			fmt.Sprintf("poll interval must be at least %s", m.minInterval))
	}
	r, err := m.activeRunner(watchID)
	if err != nil {
		return model.DeploymentWatch{}, err
	}

	r.mu.Lock()
	r.watch.PollInterval = interval
	snap := r.watch.Clone()
	r.mu.Unlock()

	select {
	case <-r.intervalCh:
	default:
	}
	r.intervalCh <- interval

	m.persist(ctx, &snap)
	m.logger.InfoContext(ctx, "watch interval updated", "watch_id", watchID, "poll_interval", interval)
	return snap, nil
}

// ResetDeployment asks the remote to reset the watched deployment. The watch keeps
// polling and reports the Resetting state as it is observed.
func (m *DeploymentMonitor) ResetDeployment(ctx context.Context, watchID string) error {
	r, err := m.activeRunner(watchID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	tenant, depID := r.watch.Tenant, r.watch.DeploymentID
	r.mu.Unlock()

	callErr := m.remote.StartReset(ctx, tenant, depID)

	r.mu.Lock()
	payload := map[string]any{"watchId": watchID}
	if callErr != nil {
		payload["error"] = callErr.Error()
	}
	m.publishLocked(ctx, r, model.EventDeploymentResetRequested, payload)
	r.mu.Unlock()

	result := metrics.ResultSuccess
	if callErr != nil {
		result = metrics.ResultError
	}
	metrics.EmitWatch(m.metrics, metrics.WatchMetric{Event: "reset", Result: result, Err: callErr})
	if callErr != nil {
		return fmt.Errorf("reset deployment %s: %w", depID, callErr)
	}
	m.logger.InfoContext(ctx, "deployment reset requested", "watch_id", watchID, "deployment_id", depID)
	return nil
}

func (m *DeploymentMonitor) activeRunner(watchID string) (*watchRunner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.active[watchID]; ok {
		return r, nil
	}
	if _, ok := m.finished[watchID]; ok {
		return nil, apperrors.Conflictf("watch %s is no longer active", watchID)
	}
	return nil, apperrors.ErrWatchNotFound
}

// Get returns a snapshot of an active or finished watch.
func (m *DeploymentMonitor) Get(watchID string) (model.DeploymentWatch, error) {
	m.mu.Lock()
	r, ok := m.active[watchID]
	w, done := m.finished[watchID]
	m.mu.Unlock()
	switch {
	case ok:
		return r.snapshot(), nil
	case done:
		return w.Clone(), nil
	default:
		return model.DeploymentWatch{}, apperrors.ErrWatchNotFound
	}
}

// List returns watch snapshots, newest first.
func (m *DeploymentMonitor) List(includeFinished bool) []model.DeploymentWatch {
	m.mu.Lock()
	runners := make([]*watchRunner, 0, len(m.active))
	for _, r := range m.active {
		runners = append(runners, r)
	}
	var out []model.DeploymentWatch
	if includeFinished {
		for _, w := range m.finished {
			out = append(out, w.Clone())
		}
	}
	m.mu.Unlock()

	for _, r := range runners {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if out == nil {
		out = []model.DeploymentWatch{}
	}
	return out
}

// ActiveCount returns the number of active watches.
func (m *DeploymentMonitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// EvictHistory drops finished watches beyond the count or age limits, oldest first,
// keeping deployments pinned by a subscription.
func (m *DeploymentMonitor) EvictHistory(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.Lock()
	finished := make([]model.DeploymentWatch, 0, len(m.finished))
	for _, w := range m.finished {
		finished = append(finished, w)
	}
	m.mu.Unlock()

	sort.Slice(finished, func(i, j int) bool { return endedAt(finished[i]).Before(endedAt(finished[j])) })
	overflow := len(finished) - m.historyMax

	var evicted []string
	for i, w := range finished {
		if i >= overflow && now.Sub(endedAt(w)) < m.historyTTL {
			continue
		}
		if m.pinner != nil && m.pinner.IsPinned(model.SubjectDeployment, w.DeploymentID) {
			continue
		}
		evicted = append(evicted, w.ID)
	}
	if len(evicted) == 0 {
		return 0
	}

	m.mu.Lock()
	for _, id := range evicted {
		delete(m.finished, id)
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, id := range evicted {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
			if err := m.store.Delete(sctx, model.SubjectDeployment, id); err != nil {
				m.logger.WarnContext(ctx, "failed to delete watch snapshot", "watch_id", id, "error", err)
			}
			cancel()
		}
	}
	return len(evicted)
}

func endedAt(w model.DeploymentWatch) time.Time {
	if w.EndedAt != nil {
		return *w.EndedAt
	}
	return w.StartedAt
}

// Recover reloads persisted watches. Watches that were active and whose deadline has not
// passed resume polling; the rest are recorded as finished.
func (m *DeploymentMonitor) Recover(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	snaps, err := m.store.List(ctx, model.SubjectDeployment)
	if err != nil {
		return 0, fmt.Errorf("list watch snapshots: %w", err)
	}

	now := m.clock.Now()
	resumed := 0
	for _, s := range snaps {
		var w model.DeploymentWatch
		if err := json.Unmarshal(s.Data, &w); err != nil {
			m.logger.WarnContext(ctx, "skipping unreadable watch snapshot", "id", s.ID, "error", err)
			continue
		}

		m.mu.Lock()
		_, busy := m.byDeployment[w.DeploymentID]
		remaining := w.Deadline().Sub(now)
		if w.Active && !busy && !m.closed && remaining > 0 {
			runCtx, r := m.newRunner(w, remaining)
			m.mu.Unlock()
			go m.run(runCtx, r)
			resumed++
			m.logger.InfoContext(ctx, "resumed deployment watch", "watch_id", w.ID, "deployment_id", w.DeploymentID)
			continue
		}
		if w.Active {
			w.Active = false
			w.StopReason = model.StopReasonShutdown
			w.TimedOut = remaining <= 0
			w.EndedAt = &now
			m.persist(ctx, &w)
		}
		m.finished[w.ID] = w
		m.mu.Unlock()
	}
	m.EvictHistory(ctx)
	return resumed, nil
}

// Shutdown stops every watch and waits for the pollers to exit.
func (m *DeploymentMonitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	runners := make([]*watchRunner, 0, len(m.active))
	for _, r := range m.active {
		runners = append(runners, r)
	}
	m.mu.Unlock()
	for _, r := range runners {
		r.requestStop(model.StopReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.runners.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancelBase()
		return nil
	case <-ctx.Done():
		m.cancelBase()
		return fmt.Errorf("deployment watchers did not stop in time: %w", ctx.Err())
	}
}

// publishLocked emits an event for r's deployment; r.mu must be held.
func (m *DeploymentMonitor) publishLocked(ctx context.Context, r *watchRunner, typ model.EventType, payload any) {
	if m.publisher == nil {
		return
	}
	evt, err := model.NewEvent(typ, model.SubjectDeployment, r.watch.DeploymentID, m.clock.Now(), payload)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to build deployment event", "watch_id", r.watch.ID, "type", typ, "error", err)
		return
	}
	m.publisher.Publish(ctx, evt)
}

func (m *DeploymentMonitor) persist(ctx context.Context, w *model.DeploymentWatch) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to encode watch snapshot", "watch_id", w.ID, "error", err)
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()
	if err := m.store.Put(sctx, model.SubjectDeployment, w.ID, data); err != nil {
		m.logger.WarnContext(ctx, "failed to persist watch snapshot", "watch_id", w.ID, "error", err)
	}
}
