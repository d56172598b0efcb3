package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dxpops/conductor/config"
	"github.com/dxpops/conductor/internal/adapters/credentials"
	"github.com/dxpops/conductor/internal/adapters/pebblestore"
	"github.com/dxpops/conductor/internal/adapters/redisstore"
	"github.com/dxpops/conductor/internal/adapters/remote"
	"github.com/dxpops/conductor/internal/adapters/webhook"
	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/data"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
)

// StoreDeps groups the connections storage backends may need.
type StoreDeps struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildSnapshotStore returns the configured snapshot backend. The closer is nil when the
// backend owns no resources.
//
//nolint:ireturn // the backend is chosen at runtime.
func buildSnapshotStore(cfg config.SnapshotConfig, deps StoreDeps) (core.SnapshotStore, io.Closer, error) {
	switch cfg.Backend {
	case config.SnapshotBackendRedis:
		if deps.RedisClient == nil {
			return nil, nil, errors.New("redis snapshot backend requires a redis connection")
		}
		return redisstore.New(deps.RedisClient, cfg.KeyPrefix, cfg.TTL), nil, nil
	case config.SnapshotBackendPebble:
		store, err := pebblestore.Open(cfg.PebbleDir, deps.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot store: %w", err)
		}
		return store, store, nil
	default:
		return data.NewMemorySnapshotStore(), nil, nil
	}
}

// buildAuditStore returns the configured audit backend.
//
//nolint:ireturn // the backend is chosen at runtime.
func buildAuditStore(cfg config.AuditConfig, deps StoreDeps) (core.AuditStore, error) {
	if cfg.Backend == config.AuditBackendPostgres {
		if deps.DB == nil {
			return nil, errors.New("postgres audit backend requires a database connection")
		}
		return data.NewAuditRepo(deps.DB, 0), nil
	}
	return data.NewMemoryAuditStore(cfg.MaxEntries), nil
}

// buildCredentials wraps the static tenant map with a TTL cache. The caller starts and stops it.
func buildCredentials(cfg config.CredentialsConfig, logger *slog.Logger) *credentials.Caching {
	return credentials.NewCaching(credentials.NewStatic(cfg.Tenants, cfg.Strict), cfg.CacheTTL, logger)
}

// buildRemoteClient creates the remote platform HTTP client.
func buildRemoteClient(cfg config.RemoteConfig, logger *slog.Logger) (*remote.Client, error) {
	client, err := remote.NewClient(remote.ClientOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		DefaultRetryAfter: cfg.DefaultRetryAfter,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}
	return client, nil
}

// buildWebhookSender creates the outbound webhook transport.
func buildWebhookSender(cfg config.WebhookConfig, logger *slog.Logger) *webhook.Sender {
	opts := webhook.SenderOptions{
		Timeout:      cfg.Timeout,
		MaxPerSecond: cfg.MaxPerSecond,
		AllowPrivate: cfg.AllowPrivate,
		Logger:       logger,
	}
	if cfg.OAuth2.Enabled() {
		opts.OAuth2 = &clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		if logger != nil {
			logger.Info("webhook oauth2 enabled", "token_url", cfg.OAuth2.TokenURL)
		}
	}
	return webhook.NewSender(opts)
}
