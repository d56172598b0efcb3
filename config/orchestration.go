package config

import (
	"strings"
	"time"
)

// RateLimitConfig controls the per-tenant sliding-window limiter applied to remote calls.
type RateLimitConfig struct {
	MaxPerMinute int           `env:"MAX_PER_MINUTE" envDefault:"60"`
	MaxPerHour   int           `env:"MAX_PER_HOUR"   envDefault:"1000"`
	BackoffBase  time.Duration `env:"BACKOFF_BASE"   envDefault:"1s"`
	// BackoffCap bounds the exponent in base * 2^min(failures, cap).
	BackoffCap int `env:"BACKOFF_CAP" envDefault:"6"`
	// MaxWait bounds a single limiter sleep so callers re-check cancellation.
	MaxWait time.Duration `env:"MAX_WAIT" envDefault:"30s"`
}

// Sanitize applies guardrails to rate limit configuration values.
func (c *RateLimitConfig) Sanitize() {
	if c.MaxPerMinute < 1 {
		c.MaxPerMinute = 1
	}
	if c.MaxPerHour < c.MaxPerMinute {
		c.MaxPerHour = c.MaxPerMinute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap < 0 {
		c.BackoffCap = 0
	}
	if c.BackoffCap > 16 {
		c.BackoffCap = 16
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
}

// JobsConfig controls the job registry and transfer workers.
type JobsConfig struct {
	// HistoryMaxCount is the number of terminal jobs kept queryable.
	HistoryMaxCount int `env:"HISTORY_MAX_COUNT" envDefault:"200"`
	// HistoryTTL is how long a terminal job stays queryable.
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"1h"`
	// ChunkSize is the number of bytes requested per transfer chunk call.
	ChunkSize int64 `env:"CHUNK_SIZE" envDefault:"8388608"`
	// MaxAttempts bounds retries of transient remote errors per call.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"5"`
	// ProgressEventInterval throttles job.progress events per job.
	ProgressEventInterval time.Duration `env:"PROGRESS_EVENT_INTERVAL" envDefault:"1s"`
	// ShutdownGrace is how long shutdown waits for cancelled workers to exit.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

// Sanitize applies guardrails to job configuration values.
func (c *JobsConfig) Sanitize() {
	if c.HistoryMaxCount < 1 {
		c.HistoryMaxCount = 1
	}
	if c.HistoryTTL < time.Minute {
		c.HistoryTTL = time.Minute
	}
	if c.ChunkSize < 1024 {
		c.ChunkSize = 1024
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.ProgressEventInterval < 0 {
		c.ProgressEventInterval = 0
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// MonitorConfig controls deployment watches.
type MonitorConfig struct {
	DefaultPollInterval time.Duration `env:"DEFAULT_POLL_INTERVAL" envDefault:"30s"`
	MinPollInterval     time.Duration `env:"MIN_POLL_INTERVAL"     envDefault:"5s"`
	DefaultMaxDuration  time.Duration `env:"DEFAULT_MAX_DURATION"  envDefault:"60m"`
	MaxMaxDuration      time.Duration `env:"MAX_MAX_DURATION"      envDefault:"24h"`
	// MaxPollFailures ends a watch after this many consecutive failed polls.
	MaxPollFailures int `env:"MAX_POLL_FAILURES" envDefault:"10"`
	// HistoryMaxCount is the number of finished watches kept queryable.
	HistoryMaxCount int `env:"HISTORY_MAX_COUNT" envDefault:"100"`
}

// Sanitize applies guardrails to monitor configuration values.
func (c *MonitorConfig) Sanitize() {
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = time.Second
	}
	if c.DefaultPollInterval < c.MinPollInterval {
		c.DefaultPollInterval = c.MinPollInterval
	}
	if c.DefaultMaxDuration <= 0 {
		c.DefaultMaxDuration = 60 * time.Minute
	}
	if c.MaxMaxDuration < c.DefaultMaxDuration {
		c.MaxMaxDuration = c.DefaultMaxDuration
	}
	if c.MaxPollFailures < 1 {
		c.MaxPollFailures = 1
	}
	if c.HistoryMaxCount < 1 {
		c.HistoryMaxCount = 1
	}
}

// EventsConfig controls in-process subscriptions.
type EventsConfig struct {
	// QueueSize is the per-subscriber buffer; the oldest event is dropped on overflow.
	QueueSize int `env:"QUEUE_SIZE" envDefault:"256"`
}

// Sanitize applies guardrails to event configuration values.
func (c *EventsConfig) Sanitize() {
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
}

// WebhookConfig controls outbound webhook delivery.
type WebhookConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseBackoff time.Duration `env:"BASE_BACKOFF" envDefault:"500ms"`
	MaxBackoff  time.Duration `env:"MAX_BACKOFF"  envDefault:"30s"`
	// Timeout is the per-attempt response timeout.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	// QueueSize bounds pending deliveries per webhook.
	QueueSize int `env:"QUEUE_SIZE" envDefault:"1000"`
	// MaxPerSecond paces outbound POSTs across all webhooks.
	MaxPerSecond float64 `env:"MAX_PER_SECOND" envDefault:"20"`
	// DeliveryRecords is the number of delivery records kept per webhook.
	DeliveryRecords int `env:"DELIVERY_RECORDS" envDefault:"100"`
	// AllowPrivate permits webhook URLs on loopback/private hosts.
	AllowPrivate bool `env:"ALLOW_PRIVATE" envDefault:"false"`

	OAuth2 WebhookOAuth2Config `envPrefix:"OAUTH2_"`
}

// WebhookOAuth2Config enables client-credentials bearer tokens on webhook POSTs.
type WebhookOAuth2Config struct {
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"`
}

// Enabled reports whether all client credential fields are present.
func (c WebhookOAuth2Config) Enabled() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Sanitize applies guardrails to webhook configuration values.
func (c *WebhookConfig) Sanitize() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	if c.MaxPerSecond <= 0 {
		c.MaxPerSecond = 20
	}
	if c.DeliveryRecords < 1 {
		c.DeliveryRecords = 1
	}
	c.OAuth2.TokenURL = strings.TrimSpace(c.OAuth2.TokenURL)
}
