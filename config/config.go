package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - orchestration.go: rate limiting, jobs, deployment watches, events, webhooks
//   - storage.go: audit and snapshot backends
//   - remote.go: remote platform client and credential resolution
//   - database.go: Postgres and Redis connections
//   - http.go: HTTP server configuration
//   - services.go: service modes and reaper
type AppConfig struct {
	// IsDev relaxes some guardrails (e.g. allows an empty admin token).
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Jobs      JobsConfig      `envPrefix:"JOBS_"`
	Monitor   MonitorConfig   `envPrefix:"MONITOR_"`
	Events    EventsConfig    `envPrefix:"EVENTS_"`
	Webhooks  WebhookConfig   `envPrefix:"WEBHOOK_"`

	Audit    AuditConfig    `envPrefix:"AUDIT_"`
	Snapshot SnapshotConfig `envPrefix:"SNAPSHOT_"`

	Remote      RemoteConfig      `envPrefix:"REMOTE_"`
	Credentials CredentialsConfig `envPrefix:"CREDENTIALS_"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,reaper,webhooks"`

	// Reaper configuration
	Reaper ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.RateLimit.Sanitize()
	c.Jobs.Sanitize()
	c.Monitor.Sanitize()
	c.Events.Sanitize()
	c.Webhooks.Sanitize()
	c.Audit.Sanitize()
	c.Snapshot.Sanitize()
	c.Remote.Sanitize()
	c.Credentials.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsEnabled reports whether the given service mode is enabled.
func (c *AppConfig) IsEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// NeedsPostgres reports whether any configured backend requires a Postgres connection.
func (c *AppConfig) NeedsPostgres() bool {
	return c.Audit.Backend == AuditBackendPostgres
}

// NeedsRedis reports whether any configured backend requires a Redis connection.
func (c *AppConfig) NeedsRedis() bool {
	return c.Snapshot.Backend == SnapshotBackendRedis
}
