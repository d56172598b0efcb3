package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	redactedValue     = "***"
)

// AuditRecorderOptions groups dependencies for AuditRecorder.
type AuditRecorderOptions struct {
	Store        core.AuditStore // Required: audit entry store
	Logger       *slog.Logger    // Optional: structured logger
	Metrics      metrics.Sink    // Optional: metrics sink
	Clock        Clock           // Optional: timestamps
	WriteTimeout time.Duration   // Optional: bound on a single store write
}

// AuditRecorder records every tracked operation without sitting on its call path:
// the operation's outcome is returned unchanged and the entry is written in the background.
type AuditRecorder struct {
	store        core.AuditStore
	logger       *slog.Logger
	metrics      metrics.Sink
	clock        Clock
	writeTimeout time.Duration
	writes       sync.WaitGroup
}

// AuditCall describes the operation being tracked.
type AuditCall struct {
	Operation string
	Kind      string
	Tenant    string
	Params    map[string]any
}

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(opts AuditRecorderOptions) (*AuditRecorder, error) {
	if opts.Store == nil {
		return nil, errors.New("AuditStore is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecorder{
		store:        opts.Store,
		logger:       logger.With("component", "audit"),
		metrics:      opts.Metrics,
		clock:        clockOrDefault(opts.Clock),
		writeTimeout: defaultDuration(opts.WriteTimeout, 5*time.Second),
	}, nil
}

// MustNewAuditRecorder constructs an AuditRecorder and panics on error.
func MustNewAuditRecorder(opts AuditRecorderOptions) *AuditRecorder {
	a, err := NewAuditRecorder(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return a
}

// Track runs fn and records its outcome. call is read after fn returns, so fn may fill in
// fields such as Tenant once they are known. A panic in fn is recorded as a failure and
// then re-raised. A nil recorder just runs fn.
func (a *AuditRecorder) Track(ctx context.Context, call *AuditCall, fn func(ctx context.Context) error) (err error) {
	if a == nil {
		return fn(ctx)
	}
	start := a.clock.Now()
	defer func() {
		if rec := recover(); rec != nil {
			a.record(ctx, call, start, fmt.Errorf("panic: %v", rec))
			panic(rec)
		}
		a.record(ctx, call, start, err)
	}()
	return fn(ctx)
}

// Wrap is Track for operations that return a value.
func Wrap[T any](ctx context.Context, a *AuditRecorder, call *AuditCall, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := a.Track(ctx, call, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (a *AuditRecorder) record(ctx context.Context, call *AuditCall, start time.Time, opErr error) {
	entry := model.AuditEntry{
		ID:         newID(),
		Operation:  call.Operation,
		Kind:       call.Kind,
		Tenant:     call.Tenant,
		StartedAt:  start,
		DurationMs: a.clock.Now().Sub(start).Milliseconds(),
		Status:     model.AuditSuccess,
		Params:     RedactParams(call.Params),
	}
	if opErr != nil {
		entry.Status = model.AuditFailure
		entry.Error = opErr.Error()
	}

	a.writes.Add(1)
	go func() {
		defer a.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)
		defer cancel()
		result := metrics.ResultSuccess
		if err := a.store.Append(wctx, entry); err != nil {
			result = metrics.ResultError
			a.logger.ErrorContext(ctx, "failed to write audit entry", "operation", entry.Operation, "error", err)
		}
		if a.metrics != nil {
			a.metrics.Count("audit.write", 1, map[string]string{"result": result, "status": string(entry.Status)})
		}
	}()
}

// Flush blocks until background writes finish.
func (a *AuditRecorder) Flush() {
	if a == nil {
		return
	}
	a.writes.Wait()
}

// Query returns a page of entries, newest first.
func (a *AuditRecorder) Query(ctx context.Context, filter model.AuditFilter) (*model.AuditPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	filter.Limit = min(filter.Limit, maxAuditLimit)
	filter.Offset = max(filter.Offset, 0)
	page, err := a.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	return page, nil
}

// Prune deletes entries older than retention.
func (a *AuditRecorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return a.store.DeleteBefore(ctx, a.clock.Now().Add(-retention))
}

// RedactParams returns a deep copy of params with credential-shaped values masked.
func RedactParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactParams(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return RedactParams(m)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	case string:
		return redactString(t)
	default:
		return v
	}
}

// redactString masks bearer tokens and passwords embedded in URLs.
func redactString(s string) string {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "basic ") {
		return s[:strings.IndexByte(s, ' ')] + " " + redactedValue
	}
	if strings.Contains(s, "://") && strings.Contains(s, "@") {
		if u, err := url.Parse(s); err == nil && u.User != nil {
			return u.Redacted()
		}
	}
	return s
}

// isSensitiveKey checks if a parameter or header key names a credential.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	sensitiveKeys := []string{
		"authorization",
		"api-key",
		"api_key",
		"apikey",
		"token",
		"secret",
		"password",
		"passwd",
		"credential",
		"cookie",
		"session",
		"private-key",
		"private_key",
	}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
