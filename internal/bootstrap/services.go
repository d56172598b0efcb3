package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dxpops/conductor/config"
	"github.com/dxpops/conductor/internal/adapters/credentials"
	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/event"
	"github.com/dxpops/conductor/internal/domain/ratelimit"
	"github.com/dxpops/conductor/internal/observability/metrics"
	"github.com/dxpops/conductor/internal/observability/notify/pagerduty"
	"github.com/dxpops/conductor/internal/observability/notify/slack"
	"github.com/dxpops/conductor/internal/observability/prom"
	"github.com/dxpops/conductor/internal/service"
	"github.com/dxpops/conductor/internal/service/failurenotifier"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Orchestrator *service.Orchestrator
	Registry     *service.JobRegistry
	Monitor      *service.DeploymentMonitor
	Dispatcher   *service.Dispatcher
	Reaper       *service.ReaperService
	Limiter      *ratelimit.Limiter
	Credentials  *credentials.Caching

	Observability ObservabilityContainer

	closers []io.Closer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// Metrics is never nil; it discards observations when metrics are disabled.
	Metrics         metrics.Sink
	Prom            *prom.Sink
	FailureNotifier *failurenotifier.Service
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{Metrics: metrics.Noop{}}
	if cfg.Metrics.Enabled {
		out.Prom = prom.NewSink(cfg.Metrics.Namespace)
		out.Metrics = out.Prom
		obsLogger.Info("prometheus metrics enabled", "namespace", cfg.Metrics.Namespace)
	}

	out.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Notifications)
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger,
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:       cfg.Slack.WebhookURL,
			Channel:          cfg.Slack.Channel,
			Username:         cfg.Slack.Username,
			Timeout:          cfg.Timeout,
			RetryLimit:       cfg.RetryLimit,
			ConsoleURLPrefix: cfg.Slack.ConsoleURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger,
		Sinks:  sinks,
	})
}

// NewServices builds every component from configuration. Call Close on the result to
// release storage handles.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, cfg.Observability)
	c := &ServiceContainer{Observability: obs}

	storeDeps := StoreDeps{DB: deps.DB, RedisClient: deps.RedisClient, Logger: logger}
	snapshots, closer, err := buildSnapshotStore(cfg.Snapshot, storeDeps)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	auditStore, err := buildAuditStore(cfg.Audit, storeDeps)
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}
	remoteClient, err := buildRemoteClient(cfg.Remote, logger)
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}

	c.Credentials = buildCredentials(cfg.Credentials, logger)
	c.Limiter = ratelimit.New(ratelimit.Limits{
		MaxPerMinute: cfg.RateLimit.MaxPerMinute,
		MaxPerHour:   cfg.RateLimit.MaxPerHour,
		BackoffBase:  cfg.RateLimit.BackoffBase,
		BackoffCap:   cfg.RateLimit.BackoffCap,
	}, nil)

	var observers []core.EventObserver
	if obs.FailureNotifier.Enabled() {
		observers = append(observers, obs.FailureNotifier)
	}
	c.Dispatcher = service.MustNewDispatcher(service.DispatcherOptions{
		Hub:             event.NewHub(cfg.Events.QueueSize),
		Observers:       observers,
		Sender:          buildWebhookSender(cfg.Webhooks, logger),
		Metrics:         obs.Metrics,
		Logger:          logger,
		MaxAttempts:     cfg.Webhooks.MaxAttempts,
		BaseBackoff:     cfg.Webhooks.BaseBackoff,
		MaxBackoff:      cfg.Webhooks.MaxBackoff,
		QueueSize:       cfg.Webhooks.QueueSize,
		DeliveryRecords: cfg.Webhooks.DeliveryRecords,
	})

	gate := service.MustNewRemoteGate(service.RemoteGateOptions{
		Client:            remoteClient,
		Credentials:       c.Credentials,
		Limiter:           c.Limiter,
		Metrics:           obs.Metrics,
		Logger:            logger,
		MaxAttempts:       cfg.Jobs.MaxAttempts,
		MaxWait:           cfg.RateLimit.MaxWait,
		DefaultRetryAfter: cfg.Remote.DefaultRetryAfter,
	})

	c.Registry = service.NewJobRegistry(service.JobRegistryOptions{
		Publisher:             c.Dispatcher,
		Pinner:                c.Dispatcher,
		Store:                 snapshots,
		Metrics:               obs.Metrics,
		Logger:                logger,
		HistoryMaxCount:       cfg.Jobs.HistoryMaxCount,
		HistoryTTL:            cfg.Jobs.HistoryTTL,
		ProgressEventInterval: cfg.Jobs.ProgressEventInterval,
	})

	c.Monitor = service.MustNewDeploymentMonitor(service.DeploymentMonitorOptions{
		Remote:              gate,
		Publisher:           c.Dispatcher,
		Pinner:              c.Dispatcher,
		Store:               snapshots,
		Metrics:             obs.Metrics,
		Logger:              logger,
		DefaultPollInterval: cfg.Monitor.DefaultPollInterval,
		MinPollInterval:     cfg.Monitor.MinPollInterval,
		DefaultMaxDuration:  cfg.Monitor.DefaultMaxDuration,
		MaxMaxDuration:      cfg.Monitor.MaxMaxDuration,
		MaxPollFailures:     cfg.Monitor.MaxPollFailures,
		HistoryMaxCount:     cfg.Monitor.HistoryMaxCount,
		HistoryTTL:          cfg.Jobs.HistoryTTL,
	})

	audit := service.MustNewAuditRecorder(service.AuditRecorderOptions{
		Store:        auditStore,
		Logger:       logger,
		Metrics:      obs.Metrics,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})

	c.Orchestrator = service.MustNewOrchestrator(service.OrchestratorOptions{
		Registry:   c.Registry,
		Monitor:    c.Monitor,
		Dispatcher: c.Dispatcher,
		Gate:       gate,
		Audit:      audit,
		Transfers:  service.NewTransferWorker(gate, cfg.Jobs.ChunkSize, logger),
		Logger:     logger,
	})

	c.Reaper = service.MustNewReaperService(service.ReaperServiceOptions{
		Jobs:           c.Registry,
		Watches:        c.Monitor,
		Audit:          audit,
		Deliveries:     c.Dispatcher,
		Limiter:        c.Limiter,
		Config:         cfg.Reaper,
		AuditRetention: cfg.Audit.Retention,
		Logger:         logger,
		Metrics:        obs.Metrics,
	})

	return c, nil
}

// Recover reloads non-terminal jobs and watches from the snapshot store.
func (c *ServiceContainer) Recover(ctx context.Context, logger *slog.Logger) error {
	var jobs, watches int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.Registry.Recover(gctx)
		if err != nil {
			return fmt.Errorf("recover jobs: %w", err)
		}
		jobs = n
		return nil
	})
	g.Go(func() error {
		n, err := c.Monitor.Recover(gctx)
		if err != nil {
			return fmt.Errorf("recover watches: %w", err)
		}
		watches = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if logger != nil && jobs+watches > 0 {
		logger.InfoContext(ctx, "recovered state from snapshots", "jobs", jobs, "watches", watches)
	}
	return nil
}

// Close releases storage handles owned by the container.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
