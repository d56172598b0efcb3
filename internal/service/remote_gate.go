package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/domain/ratelimit"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// Remote operation names used in logs and metrics.
const (
	OpTransferChunk    = "transfer_chunk"
	OpDeploymentStatus = "deployment_status"
	OpStartCompletion  = "start_completion"
	OpStartReset       = "start_reset"
)

// throttleRetryFactor bounds how many throttled rejections a single call tolerates,
// relative to its attempt budget.
const throttleRetryFactor = 10

// RemoteGateOptions groups dependencies for RemoteGate.
type RemoteGateOptions struct {
	Client      core.RemoteOperationClient // Required: remote platform client
	Credentials core.CredentialResolver    // Required: tenant reference resolver
	Limiter     *ratelimit.Limiter         // Required: per-tenant limiter
	Metrics     metrics.Sink               // Optional: metrics sink
	Logger      *slog.Logger               // Optional: structured logger

	// MaxAttempts bounds transient retries of one call. Throttled rejections do not count.
	MaxAttempts int
	// MaxWait caps a single limiter wait so that shutdown and config changes are noticed.
	MaxWait time.Duration
	// DefaultRetryAfter is used when a throttled response carries no hint.
	DefaultRetryAfter time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RemoteGate is the single path to the remote platform. Every call is reserved against
// the tenant's limiter, and its outcome is fed back so throttles and failures shape the
// next wait.
type RemoteGate struct {
	client            core.RemoteOperationClient
	credentials       core.CredentialResolver
	limiter           *ratelimit.Limiter
	metrics           metrics.Sink
	logger            *slog.Logger
	maxAttempts       int
	maxWait           time.Duration
	defaultRetryAfter time.Duration
	sleep             func(ctx context.Context, d time.Duration) error
}

// NewRemoteGate constructs a RemoteGate.
func NewRemoteGate(opts RemoteGateOptions) (*RemoteGate, error) {
	if opts.Client == nil {
		return nil, errors.New("RemoteOperationClient is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialResolver is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("Limiter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &RemoteGate{
		client:            opts.Client,
		credentials:       opts.Credentials,
		limiter:           opts.Limiter,
		metrics:           opts.Metrics,
		logger:            logger.With("component", "remote_gate"),
		maxAttempts:       opts.MaxAttempts,
		maxWait:           opts.MaxWait,
		defaultRetryAfter: opts.DefaultRetryAfter,
		sleep:             opts.Sleep,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 5
	}
	if g.defaultRetryAfter <= 0 {
		g.defaultRetryAfter = 5 * time.Second
	}
	if g.sleep == nil {
		g.sleep = sleepContext
	}
	return g, nil
}

// MustNewRemoteGate constructs a RemoteGate and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewRemoteGate(opts RemoteGateOptions) *RemoteGate {
	g, err := NewRemoteGate(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return g
}

// ResolveTenant maps a caller-supplied tenant reference to the identifier that keys
// limiter and audit state.
func (g *RemoteGate) ResolveTenant(ctx context.Context, ref string) (string, error) {
	tenant, err := g.credentials.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve tenant %q: %w", ref, err)
	}
	return tenant, nil
}

// Status returns the tenant's limiter state for display.
func (g *RemoteGate) Status(tenant string) model.LimitStatus {
	return g.limiter.Status(tenant)
}

// TransferChunk moves one chunk, retrying transient failures.
func (g *RemoteGate) TransferChunk(ctx context.Context, tenant string, req model.ChunkRequest) (int64, error) {
	var written int64
	err := g.call(ctx, tenant, OpTransferChunk, g.maxAttempts, func(ctx context.Context) error {
		n, err := g.client.PerformTransferChunk(ctx, tenant, req)
		written = n
		return err
	})
	return written, err
}

// DeploymentStatus polls once. Failures are returned to the monitor, which counts them
// across ticks instead of retrying inline.
func (g *RemoteGate) DeploymentStatus(ctx context.Context, tenant, deploymentID string) (model.DeploymentState, error) {
	var state model.DeploymentState
	err := g.call(ctx, tenant, OpDeploymentStatus, 1, func(ctx context.Context) error {
		s, err := g.client.GetDeploymentStatus(ctx, tenant, deploymentID)
		state = s
		return err
	})
	return state, err
}

// StartCompletion asks the remote to finish a deployment awaiting verification.
func (g *RemoteGate) StartCompletion(ctx context.Context, tenant, deploymentID string) error {
	return g.call(ctx, tenant, OpStartCompletion, g.maxAttempts, func(ctx context.Context) error {
		return g.client.StartCompletion(ctx, tenant, deploymentID)
	})
}

// StartReset asks the remote to reset a deployment.
func (g *RemoteGate) StartReset(ctx context.Context, tenant, deploymentID string) error {
	return g.call(ctx, tenant, OpStartReset, g.maxAttempts, func(ctx context.Context) error {
		return g.client.StartReset(ctx, tenant, deploymentID)
	})
}

func (g *RemoteGate) call(ctx context.Context, tenant, op string, attempts int, fn func(context.Context) error) error {
	var (
		attempt   int
		throttles int
		waited    time.Duration
	)
	for {
		res := g.limiter.CheckAndReserve(tenant)
		if !res.Allowed {
			wait := res.Wait
			if g.maxWait > 0 && wait > g.maxWait {
				wait = g.maxWait
			}
			g.logger.DebugContext(ctx, "rate limited, waiting", "tenant", tenant, "op", op, "wait", wait)
			if err := g.sleep(ctx, wait); err != nil {
				metrics.EmitRemoteCall(g.metrics, op, metrics.ResultCancelled, waited, err)
				return fmt.Errorf("%s: waiting for rate limit: %w", op, err)
			}
			waited += wait
			continue
		}

		attempt++
		err := fn(ctx)
		switch apperrors.KindOf(err) {
		case apperrors.KindNone:
			g.limiter.RecordOutcome(tenant, res, true, 0)
			metrics.EmitRemoteCall(g.metrics, op, metrics.ResultSuccess, waited, nil)
			return nil

		case apperrors.KindThrottled:
			retryAfter, _ := apperrors.RetryAfter(err)
			if retryAfter <= 0 {
				retryAfter = g.defaultRetryAfter
			}
			g.limiter.RecordOutcome(tenant, res, false, retryAfter)
			metrics.EmitRemoteCall(g.metrics, op, "throttled", waited, err)
			attempt--
			throttles++
			if throttles >= attempts*throttleRetryFactor {
				return fmt.Errorf("%s: throttled %d times: %w", op, throttles, err)
			}
			g.logger.InfoContext(ctx, "remote throttled call", "tenant", tenant, "op", op, "retry_after", retryAfter)

		case apperrors.KindCancelled, apperrors.KindFatal:
			g.limiter.Release(tenant, res)
			metrics.EmitRemoteCall(g.metrics, op, metrics.ResultError, waited, err)
			return fmt.Errorf("%s: %w", op, err)

		default:
			g.limiter.RecordOutcome(tenant, res, false, 0)
			metrics.EmitRemoteCall(g.metrics, op, metrics.ResultError, waited, err)
			if attempt >= attempts {
				return fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, err)
			}
			g.logger.WarnContext(ctx, "transient remote failure, retrying",
				"tenant", tenant, "op", op, "attempt", attempt, "error", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
