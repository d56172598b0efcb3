package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dxpops/conductor/config"
	obserrors "github.com/dxpops/conductor/internal/observability/errors"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// HistoryEvicter drops retained terminal jobs or watches.
type HistoryEvicter interface {
	EvictHistory(ctx context.Context) int
}

// AuditPruner deletes audit entries older than a retention window.
type AuditPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// DeliveryPruner drops completed webhook delivery records.
type DeliveryPruner interface {
	PruneDeliveries(ctx context.Context, maxAge time.Duration) int64
}

// IdlePruner forgets idle per-tenant limiter state.
type IdlePruner interface {
	PruneIdle() int
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Jobs           HistoryEvicter      // Optional: job history
	Watches        HistoryEvicter      // Optional: deployment watch history
	Audit          AuditPruner         // Optional: audit trail
	Deliveries     DeliveryPruner      // Optional: webhook delivery records
	Limiter        IdlePruner          // Optional: rate limiter tenants
	Config         config.ReaperConfig // Required: reaper configuration
	AuditRetention time.Duration       // Required when Audit is set
	Logger         *slog.Logger        // Optional: structured logger
	Metrics        metrics.Sink        // Optional: metrics sink
}

// ReaperService performs periodic maintenance of in-memory and persisted state.
//
// This service manages:
// - Evicting job and watch history beyond the retention limits.
// - Deleting audit entries older than the retention window.
// - Pruning completed webhook delivery records.
// - Forgetting idle rate limiter tenants.
type ReaperService struct {
	jobs           HistoryEvicter
	watches        HistoryEvicter
	audit          AuditPruner
	deliveries     DeliveryPruner
	limiter        IdlePruner
	config         config.ReaperConfig
	auditRetention time.Duration
	logger         *slog.Logger
	metrics        metrics.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	if opts.Audit != nil && opts.AuditRetention <= 0 {
		return nil, errors.New("audit retention must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"delivery_record_max_age", opts.Config.DeliveryRecordMaxAge,
			"audit_retention", opts.AuditRetention,
		)
	}

	return &ReaperService{
		jobs:           opts.Jobs,
		watches:        opts.Watches,
		audit:          opts.Audit,
		deliveries:     opts.Deliveries,
		limiter:        opts.Limiter,
		config:         opts.Config,
		auditRetention: opts.AuditRetention,
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// runCleanup performs all cleanup operations.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.evictJobHistory,
			label:     "evict job history",
			count:     &metricsData.JobsCount,
			metricErr: &metricsData.JobsErr,
		},
		{
			fn:        s.evictWatchHistory,
			label:     "evict watch history",
			count:     &metricsData.WatchesCount,
			metricErr: &metricsData.WatchesErr,
		},
		{
			fn:        s.pruneAudit,
			label:     "prune audit entries",
			count:     &metricsData.AuditCount,
			metricErr: &metricsData.AuditErr,
		},
		{
			fn:        s.pruneDeliveries,
			label:     "prune delivery records",
			count:     &metricsData.DeliveriesCount,
			metricErr: &metricsData.DeliveriesErr,
		},
		{
			fn:        s.pruneIdleTenants,
			label:     "prune idle tenants",
			count:     &metricsData.TenantsCount,
			metricErr: &metricsData.TenantsErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

// RunOnce performs a single cleanup pass (used by the admin CLI).
func (s *ReaperService) RunOnce(ctx context.Context) error {
	return s.runCleanup(ctx)
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

func (s *ReaperService) evictJobHistory(ctx context.Context) (int64, error) {
	if s.jobs == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := int64(s.jobs.EvictHistory(ctx))
	s.logCount(ctx, "evicted job history", count)
	return count, nil
}

func (s *ReaperService) evictWatchHistory(ctx context.Context) (int64, error) {
	if s.watches == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := int64(s.watches.EvictHistory(ctx))
	s.logCount(ctx, "evicted watch history", count)
	return count, nil
}

// pruneAudit deletes audit entries older than the retention window.
func (s *ReaperService) pruneAudit(ctx context.Context) (int64, error) {
	if s.audit == nil {
		return 0, nil
	}
	count, err := s.audit.Prune(ctx, s.auditRetention)
	if err != nil {
		return count, err
	}
	s.logCount(ctx, "pruned audit entries", count)
	return count, nil
}

func (s *ReaperService) pruneDeliveries(ctx context.Context) (int64, error) {
	if s.deliveries == nil || s.config.DeliveryRecordMaxAge <= 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := s.deliveries.PruneDeliveries(ctx, s.config.DeliveryRecordMaxAge)
	s.logCount(ctx, "pruned delivery records", count)
	return count, nil
}

func (s *ReaperService) pruneIdleTenants(ctx context.Context) (int64, error) {
	if s.limiter == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(s.limiter.PruneIdle()), nil
}

func (s *ReaperService) logCount(ctx context.Context, msg string, count int64) {
	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, msg, "count", count)
	}
}

type cleanupMetrics struct {
	JobsCount       int64
	JobsErr         error
	WatchesCount    int64
	WatchesErr      error
	AuditCount      int64
	AuditErr        error
	DeliveriesCount int64
	DeliveriesErr   error
	TenantsCount    int64
	TenantsErr      error
	Elapsed         time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.JobsCount + m.WatchesCount + m.AuditCount + m.DeliveriesCount + m.TenantsCount
	firstErr := firstError(m.JobsErr, m.WatchesErr, m.AuditErr, m.DeliveriesErr, m.TenantsErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result":      result,
		"error_class": "none",
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("evict_jobs", m.JobsCount, m.JobsErr)
	s.emitCleanupOperationMetric("evict_watches", m.WatchesCount, m.WatchesErr)
	s.emitCleanupOperationMetric("prune_audit", m.AuditCount, m.AuditErr)
	s.emitCleanupOperationMetric("prune_deliveries", m.DeliveriesCount, m.DeliveriesErr)
	s.emitCleanupOperationMetric("prune_tenants", m.TenantsCount, m.TenantsErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation":   operation,
		"result":      result,
		"error_class": "none",
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("reaper.items_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
