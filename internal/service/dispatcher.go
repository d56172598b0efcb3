package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/event"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Hub       *event.Hub           // Required: in-process subscription hub
	Sender    core.WebhookSender   // Required: outbound webhook transport
	Observers []core.EventObserver // Optional: notified asynchronously of every event
	Evaluator JMESPathEvaluator    // Optional: webhook filter evaluation
	Metrics   metrics.Sink         // Optional: metrics sink
	Logger    *slog.Logger         // Optional: structured logger
	Clock     Clock                // Optional: timestamps

	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	QueueSize       int // pending deliveries per webhook
	DeliveryRecords int // retained records per webhook
	// Sleep waits between retries. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher fans events out to in-process subscribers and to registered webhooks.
// Each webhook owns a FIFO drained by at most one goroutine, which keeps per-subject
// order while letting a slow endpoint back off without delaying the others.
type Dispatcher struct {
	hub       *event.Hub
	sender    core.WebhookSender
	observers []core.EventObserver
	evaluator JMESPathEvaluator
	metrics   metrics.Sink
	logger    *slog.Logger
	clock     Clock

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	queueSize   int
	recordLimit int
	sleep       func(ctx context.Context, d time.Duration) error

	wake      chan struct{}
	drainers  sync.WaitGroup
	observing sync.WaitGroup

	mu       sync.Mutex
	webhooks map[string]*webhookState
	// bySubject indexes webhook IDs by model.SubjectKey.
	bySubject map[string][]string
}

type webhookState struct {
	mu       sync.Mutex
	hook     model.Webhook
	queue    []*pendingDelivery
	records  []*model.DeliveryRecord
	draining bool
	expired  bool
	// subjectDone is set once the subject's terminal event was published; a
	// non-persistent webhook expires as soon as its queue is empty.
	subjectDone bool
}

type pendingDelivery struct {
	event    model.Event
	body     []byte
	record   *model.DeliveryRecord
	terminal bool
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Hub == nil {
		return nil, errors.New("event Hub is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("WebhookSender is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		hub:         opts.Hub,
		sender:      opts.Sender,
		observers:   opts.Observers,
		evaluator:   opts.Evaluator,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "dispatcher"),
		clock:       clockOrDefault(opts.Clock),
		maxAttempts: opts.MaxAttempts,
		baseBackoff: defaultDuration(opts.BaseBackoff, 500*time.Millisecond),
		maxBackoff:  defaultDuration(opts.MaxBackoff, 30*time.Second),
		queueSize:   opts.QueueSize,
		recordLimit: opts.DeliveryRecords,
		sleep:       opts.Sleep,
		wake:        make(chan struct{}, 1),
		webhooks:    make(map[string]*webhookState),
		bySubject:   make(map[string][]string),
	}
	if d.evaluator == nil {
		d.evaluator = jmespathLibEvaluator{}
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 5
	}
	if d.queueSize <= 0 {
		d.queueSize = 1000
	}
	if d.recordLimit <= 0 {
		d.recordLimit = 100
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	return d, nil
}

// MustNewDispatcher constructs a Dispatcher and panics on error.
func MustNewDispatcher(opts DispatcherOptions) *Dispatcher {
	d, err := NewDispatcher(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return d
}

// AddObserver registers an observer after construction.
func (d *Dispatcher) AddObserver(o core.EventObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Subscribe registers an in-process subscriber for a subject pattern.
func (d *Dispatcher) Subscribe(pattern string) (event.Subscription, error) {
	return d.hub.Subscribe(pattern)
}

// Unsubscribe removes an in-process subscriber.
func (d *Dispatcher) Unsubscribe(id string) error {
	return d.hub.Unsubscribe(id)
}

// Poll drains up to maxEvents from a subscription; with wait > 0 it blocks until an
// event arrives or wait elapses.
func (d *Dispatcher) Poll(ctx context.Context, id string, maxEvents int, wait time.Duration) ([]model.Event, error) {
	if wait <= 0 {
		return d.hub.Poll(id, maxEvents)
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return d.hub.Wait(wctx, id, maxEvents)
}

// IsPinned reports whether an open subscription names the subject literally.
func (d *Dispatcher) IsPinned(kind model.SubjectKind, id string) bool {
	return d.hub.IsPinned(kind, id)
}

// Publish implements core.EventPublisher. It never blocks on delivery.
func (d *Dispatcher) Publish(ctx context.Context, evt model.Event) {
	d.hub.Publish(evt)

	d.mu.Lock()
	subject := evt.Subject()
	states := make([]*webhookState, 0, len(d.bySubject[subject]))
	for _, id := range d.bySubject[subject] {
		states = append(states, d.webhooks[id])
	}
	observers := d.observers
	d.mu.Unlock()

	enqueued := false
	for _, ws := range states {
		if d.enqueue(ctx, ws, evt) {
			enqueued = true
		}
	}
	if evt.Type.IsTerminal() {
		for _, ws := range states {
			if ws.markSubjectDone() {
				d.expire(ctx, ws)
			}
		}
	}
	if enqueued {
		d.signal()
	}

	for _, o := range observers {
		d.observing.Add(1)
		go func(o core.EventObserver) {
			defer d.observing.Done()
			o.OnEvent(context.WithoutCancel(ctx), evt)
		}(o)
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RegisterWebhook attaches an endpoint to one job or deployment. Events published after
// registration that pass the type selection and filter are delivered.
func (d *Dispatcher) RegisterWebhook(
	ctx context.Context,
	kind model.SubjectKind,
	subjectID string,
	spec model.WebhookSpec,
) (model.Webhook, error) {
	if kind != model.SubjectJob && kind != model.SubjectDeployment {
		return model.Webhook{}, apperrors.ValidationField("subject_kind", fmt.Sprintf("unknown subject kind %q", kind))
	}
	if strings.TrimSpace(subjectID) == "" {
		return model.Webhook{}, apperrors.ValidationField("subject_id", "subject ID is required")
	}
	if err := spec.Validate(); err != nil {
		var fe *model.FieldError
		if errors.As(err, &fe) {
			return model.Webhook{}, apperrors.ValidationField(fe.Field, fe.Message)
		}
		return model.Webhook{}, apperrors.Validation(err.Error())
	}
	if err := d.evaluator.Validate(spec.Filter); err != nil {
		return model.Webhook{}, apperrors.ValidationField("filter", fmt.Sprintf("invalid JMESPath expression: %v", err))
	}

	ws := &webhookState{hook: model.Webhook{
		ID:          newID(),
		SubjectKind: kind,
		SubjectID:   subjectID,
		URL:        strings.TrimSpace(spec.URL),
		Headers:    spec.Headers,
		EventTypes: spec.EventTypes,
		Filter:     spec.Filter,
		Persistent: spec.Persistent,
		CreatedAt:  d.clock.Now(),
	}}
	ws.hook = ws.hook.Clone()

	d.mu.Lock()
	d.webhooks[ws.hook.ID] = ws
	key := model.SubjectKey(kind, subjectID)
	d.bySubject[key] = append(d.bySubject[key], ws.hook.ID)
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "webhook registered", "webhook_id", ws.hook.ID, "subject", key, "persistent", spec.Persistent)
	return ws.snapshot(), nil
}

// GetWebhook describes a webhook, including expired ones that still hold records.
func (d *Dispatcher) GetWebhook(id string) (model.Webhook, error) {
	ws, err := d.webhook(id)
	if err != nil {
		return model.Webhook{}, err
	}
	return ws.snapshot(), nil
}

// ListDeliveries returns the webhook's retained delivery records, newest first.
func (d *Dispatcher) ListDeliveries(webhookID string) ([]model.DeliveryRecord, error) {
	ws, err := d.webhook(webhookID)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]model.DeliveryRecord, 0, len(ws.records))
	for i := len(ws.records) - 1; i >= 0; i-- {
		out = append(out, *ws.records[i])
	}
	return out, nil
}

// RemoveWebhook drops a webhook and its pending deliveries.
func (d *Dispatcher) RemoveWebhook(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.webhooks[id]
	if !ok {
		return apperrors.ErrWebhookNotFound
	}
	delete(d.webhooks, id)
	d.unindexLocked(ws.subjectKey(), id)
	ws.mu.Lock()
	ws.queue = nil
	ws.expired = true
	ws.mu.Unlock()
	return nil
}

func (d *Dispatcher) webhook(id string) (*webhookState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.webhooks[id]
	if !ok {
		return nil, apperrors.ErrWebhookNotFound
	}
	return ws, nil
}

func (d *Dispatcher) unindexLocked(subject, webhookID string) {
	ids := d.bySubject[subject]
	for i, id := range ids {
		if id == webhookID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(d.bySubject, subject)
		return
	}
	d.bySubject[subject] = ids
}

func (d *Dispatcher) enqueue(ctx context.Context, ws *webhookState, evt model.Event) bool {
	ws.mu.Lock()
	hook := ws.hook
	expired := ws.expired
	ws.mu.Unlock()
	if expired || !hook.WantsType(evt.Type) {
		return false
	}

	body, err := json.Marshal(evt)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to encode webhook payload", "event_id", evt.ID, "error", err)
		return false
	}
	if hook.Filter != "" && !d.matchesFilter(ctx, hook, body) {
		return false
	}

	rec := &model.DeliveryRecord{
		ID:        newID(),
		WebhookID: hook.ID,
		EventID:   evt.ID,
		EventType: evt.Type,
		SubjectID: evt.SubjectID,
		Status:    model.DeliveryPending,
		CreatedAt: d.clock.Now(),
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.expired {
		return false
	}
	if len(ws.queue) >= d.queueSize {
		dropped := ws.queue[0]
		ws.queue = ws.queue[1:]
		d.completeLocked(ws, dropped, model.DeliveryFailed, "dropped: delivery queue full")
		d.logger.WarnContext(ctx, "webhook queue full, dropped oldest delivery",
			"webhook_id", hook.ID, "event_id", dropped.event.ID)
	}
	ws.queue = append(ws.queue, &pendingDelivery{event: evt, body: body, record: rec, terminal: evt.Type.IsTerminal()})
	ws.records = append(ws.records, rec)
	if over := len(ws.records) - d.recordLimit; over > 0 {
		ws.records = append(ws.records[:0:0], ws.records[over:]...)
	}
	ws.hook.Pending = len(ws.queue)
	return true
}

func (d *Dispatcher) matchesFilter(ctx context.Context, hook model.Webhook, body []byte) bool {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	res, err := d.evaluator.Evaluate(hook.Filter, doc)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook filter evaluation failed", "webhook_id", hook.ID, "error", err)
		return false
	}
	return truthy(res)
}

// truthy follows JMESPath's notion of truth: false, null and empty values are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// DeliverPending drains every webhook queue synchronously, retrying as configured, and
// reports what happened. Webhooks already being drained in the background are skipped.
func (d *Dispatcher) DeliverPending(ctx context.Context) model.DeliveryStats {
	var stats model.DeliveryStats
	for _, ws := range d.pendingWebhooks() {
		if !ws.claim() {
			continue
		}
		delivered, failed := d.drain(ctx, ws)
		stats.Delivered += delivered
		stats.Failed += failed
	}
	for _, ws := range d.allWebhooks() {
		ws.mu.Lock()
		stats.Remaining += len(ws.queue)
		ws.mu.Unlock()
	}
	return stats
}

// Run drains webhook queues in the background until ctx is done. Each webhook gets its
// own drainer goroutine while it has pending deliveries.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "starting webhook dispatcher")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.drainers.Wait()
			d.logger.InfoContext(ctx, "webhook dispatcher stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}
		for _, ws := range d.pendingWebhooks() {
			if !ws.claim() {
				continue
			}
			d.drainers.Add(1)
			go func(ws *webhookState) {
				defer d.drainers.Done()
				d.drain(ctx, ws)
			}(ws)
		}
	}
}

// Flush waits for in-flight observer callbacks.
func (d *Dispatcher) Flush() {
	d.observing.Wait()
}

func (d *Dispatcher) pendingWebhooks() []*webhookState {
	var out []*webhookState
	for _, ws := range d.allWebhooks() {
		ws.mu.Lock()
		if len(ws.queue) > 0 && !ws.draining {
			out = append(out, ws)
		}
		ws.mu.Unlock()
	}
	return out
}

func (d *Dispatcher) allWebhooks() []*webhookState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*webhookState, 0, len(d.webhooks))
	for _, ws := range d.webhooks {
		out = append(out, ws)
	}
	return out
}

func (ws *webhookState) claim() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.draining || len(ws.queue) == 0 {
		return false
	}
	ws.draining = true
	return true
}

// markSubjectDone records that the subject reached a terminal state and reports whether a
// non-persistent webhook can expire right away. When a drainer still holds deliveries it
// expires the webhook once the queue is empty.
func (ws *webhookState) markSubjectDone() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.subjectDone = true
	ws.hook.SubjectDone = true
	if ws.hook.Persistent || ws.expired {
		return false
	}
	return len(ws.queue) == 0 && !ws.draining
}

func (ws *webhookState) subjectKey() string {
	return model.SubjectKey(ws.hook.SubjectKind, ws.hook.SubjectID)
}

func (ws *webhookState) snapshot() model.Webhook {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.hook.Clone()
}

// drain delivers the head of the queue until it is empty or ctx is done. The caller must
// have claimed ws.
func (d *Dispatcher) drain(ctx context.Context, ws *webhookState) (delivered, failed int) {
	for {
		ws.mu.Lock()
		if len(ws.queue) == 0 || ws.expired {
			// The claim is released under ws.mu so markSubjectDone sees either a
			// drainer or an idle empty queue.
			ws.draining = false
			expire := ws.subjectDone && !ws.expired && !ws.hook.Persistent
			ws.mu.Unlock()
			if expire {
				d.expire(ctx, ws)
			}
			return delivered, failed
		}
		item := ws.queue[0]
		hook := ws.hook.Clone()
		ws.mu.Unlock()

		ok := d.deliver(ctx, ws, hook, item)
		if ctx.Err() != nil && !ok {
			ws.mu.Lock()
			ws.draining = false
			ws.mu.Unlock()
			return delivered, failed
		}

		ws.mu.Lock()
		if len(ws.queue) > 0 && ws.queue[0] == item {
			ws.queue = ws.queue[1:]
		}
		status := model.DeliveryFailed
		if ok {
			status = model.DeliveryDelivered
			delivered++
		} else {
			failed++
		}
		d.completeLocked(ws, item, status, "")
		expire := item.terminal && !ws.hook.Persistent
		ws.mu.Unlock()

		if expire {
			d.expire(ctx, ws)
		}
	}
}

// completeLocked finalizes a record; ws.mu must be held.
func (d *Dispatcher) completeLocked(ws *webhookState, item *pendingDelivery, status model.DeliveryStatus, reason string) {
	now := d.clock.Now()
	item.record.Status = status
	item.record.CompletedAt = &now
	if reason != "" {
		item.record.LastError = reason
	}
	switch status {
	case model.DeliveryDelivered:
		ws.hook.Delivered++
	case model.DeliveryFailed:
		ws.hook.Failed++
	}
	ws.hook.Pending = len(ws.queue)
	if item.terminal {
		ws.subjectDone = true
		ws.hook.SubjectDone = true
	}
}

// expire stops a non-persistent webhook from receiving further events once its subject's
// terminal event was handled. Records stay readable until the reaper prunes them.
func (d *Dispatcher) expire(ctx context.Context, ws *webhookState) {
	ws.mu.Lock()
	if ws.expired {
		ws.mu.Unlock()
		return
	}
	ws.expired = true
	ws.queue = nil
	ws.hook.Pending = 0
	id, subject := ws.hook.ID, ws.subjectKey()
	ws.mu.Unlock()

	d.mu.Lock()
	d.unindexLocked(subject, id)
	d.mu.Unlock()
	d.logger.DebugContext(ctx, "webhook expired after terminal event", "webhook_id", id, "subject", subject)
}

// deliver attempts one delivery with retries and reports whether it succeeded.
func (d *Dispatcher) deliver(ctx context.Context, ws *webhookState, hook model.Webhook, item *pendingDelivery) bool {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := d.sender.Send(ctx, core.WebhookRequest{
			URL:     hook.URL,
			Headers: hook.Headers,
			Body:    item.body,
			EventID: item.event.ID,
		})
		elapsed := time.Since(start)

		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		retry, retryAfter, attemptErr := classifyDelivery(resp, err)

		ws.mu.Lock()
		item.record.Attempts = attempt
		item.record.LastStatusCode = code
		item.record.LastError = ""
		if attemptErr != nil {
			item.record.LastError = attemptErr.Error()
		}
		ws.mu.Unlock()

		result := metrics.ResultSuccess
		if attemptErr != nil {
			result = metrics.ResultError
		}
		metrics.EmitDelivery(d.metrics, metrics.DeliveryMetric{
			Result: result, StatusCode: code, Attempt: attempt, Duration: elapsed, Err: attemptErr,
		})

		if attemptErr == nil {
			d.logger.DebugContext(ctx, "webhook delivered",
				"webhook_id", hook.ID, "event_id", item.event.ID, "attempt", attempt, "status", code)
			return true
		}
		if !retry || attempt == d.maxAttempts {
			d.logger.WarnContext(ctx, "webhook delivery failed",
				"webhook_id", hook.ID, "event_id", item.event.ID, "attempts", attempt, "status", code, "error", attemptErr)
			return false
		}

		wait := max(d.backoff(attempt), min(retryAfter, d.maxBackoff))
		if err := d.sleep(ctx, wait); err != nil {
			return false
		}
	}
	return false
}

// backoff returns base*2^(attempt-1) capped at maxBackoff, plus up to 20% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.baseBackoff
	for i := 1; i < attempt && wait < d.maxBackoff; i++ {
		wait *= 2
	}
	wait = min(wait, d.maxBackoff)
	if jitter := int64(wait / 5); jitter > 0 {
		wait += time.Duration(rand.Int64N(jitter)) // #nosec G404 - jitter does not need crypto randomness
	}
	return wait
}

// classifyDelivery decides whether an attempt succeeded and whether to retry. 4xx
// responses other than 429 are permanent.
func classifyDelivery(resp *core.WebhookResponse, err error) (retry bool, retryAfter time.Duration, attemptErr error) {
	if err != nil {
		return apperrors.KindOf(err) != apperrors.KindFatal, 0, err
	}
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return false, 0, nil
	case code == http.StatusTooManyRequests:
		return true, resp.RetryAfter, fmt.Errorf("endpoint throttled (status %d)", code)
	case code >= 400 && code < 500:
		return false, 0, fmt.Errorf("endpoint rejected delivery (status %d)", code)
	default:
		return true, 0, fmt.Errorf("endpoint returned status %d", code)
	}
}

// PruneDeliveries drops completed records older than maxAge and forgets expired webhooks
// with nothing left to show. It returns the number of records removed.
func (d *Dispatcher) PruneDeliveries(ctx context.Context, maxAge time.Duration) int64 {
	cutoff := d.clock.Now().Add(-maxAge)
	var removed int64
	var forget []string

	for _, ws := range d.allWebhooks() {
		ws.mu.Lock()
		kept := ws.records[:0]
		for _, rec := range ws.records {
			if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		ws.records = kept
		if ws.expired && len(ws.records) == 0 {
			forget = append(forget, ws.hook.ID)
		}
		ws.mu.Unlock()
	}

	if len(forget) > 0 {
		d.mu.Lock()
		for _, id := range forget {
			delete(d.webhooks, id)
		}
		d.mu.Unlock()
	}
	if removed > 0 {
		d.logger.DebugContext(ctx, "pruned delivery records", "count", removed, "webhooks_forgotten", len(forget))
	}
	return removed
}

// ListWebhooks returns all known webhooks ordered by creation time.
func (d *Dispatcher) ListWebhooks() []model.Webhook {
	states := d.allWebhooks()
	out := make([]model.Webhook, 0, len(states))
	for _, ws := range states {
		out = append(out, ws.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
