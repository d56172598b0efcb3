package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{name: "single", input: "http", expected: map[ServiceMode]bool{ServiceModeHTTP: true}},
		{
			name:  "all with spaces",
			input: " http , reaper ,webhooks",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:     true,
				ServiceModeReaper:   true,
				ServiceModeWebhooks: true,
			},
		},
		{name: "duplicates", input: "reaper,reaper", expected: map[ServiceMode]bool{ServiceModeReaper: true}},
		{name: "empty", input: "", expectError: true},
		{name: "only commas", input: ",,", expectError: true},
		{name: "unknown", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	t.Setenv("SERVICES", "http")
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 60, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, 1000, cfg.RateLimit.MaxPerHour)
	assert.Equal(t, 5, cfg.Webhooks.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhooks.BaseBackoff)
	assert.Equal(t, AuditBackendMemory, cfg.Audit.Backend)
	assert.Equal(t, SnapshotBackendMemory, cfg.Snapshot.Backend)
	assert.True(t, cfg.IsEnabled(ServiceModeHTTP))
	assert.False(t, cfg.IsEnabled(ServiceModeReaper))
	assert.False(t, cfg.NeedsPostgres())
	assert.False(t, cfg.NeedsRedis())
}

func TestAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX_PER_MINUTE", "2")
	t.Setenv("RATE_LIMIT_MAX_PER_HOUR", "1")
	t.Setenv("AUDIT_BACKEND", "Postgres")
	t.Setenv("SNAPSHOT_BACKEND", "redis")
	t.Setenv("CREDENTIALS_TENANTS", "proj-a:tenant-1, proj-b : tenant-2")
	t.Setenv("WEBHOOK_OAUTH2_TOKEN_URL", "https://idp.example.com/token")
	t.Setenv("WEBHOOK_OAUTH2_CLIENT_ID", "id")
	t.Setenv("WEBHOOK_OAUTH2_CLIENT_SECRET", "secret")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, 2, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, 2, cfg.RateLimit.MaxPerHour, "hour ceiling never below minute ceiling")
	assert.True(t, cfg.NeedsPostgres())
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, "tenant-1", cfg.Credentials.Tenants["proj-a"])
	assert.Equal(t, "tenant-2", cfg.Credentials.Tenants["proj-b"])
	assert.True(t, cfg.Webhooks.OAuth2.Enabled())
}

func TestSanitize_Clamps(t *testing.T) {
	t.Run("monitor", func(t *testing.T) {
		c := MonitorConfig{DefaultPollInterval: time.Millisecond, MinPollInterval: 2 * time.Second}
		c.Sanitize()
		assert.Equal(t, 2*time.Second, c.DefaultPollInterval)
		assert.Equal(t, 60*time.Minute, c.DefaultMaxDuration)
		assert.Equal(t, 1, c.MaxPollFailures)
	})

	t.Run("webhooks", func(t *testing.T) {
		c := WebhookConfig{BaseBackoff: time.Second, MaxBackoff: time.Millisecond}
		c.Sanitize()
		assert.Equal(t, 1, c.MaxAttempts)
		assert.Equal(t, time.Second, c.MaxBackoff)
		assert.False(t, c.OAuth2.Enabled())
	})

	t.Run("notifications disabled turns off sinks", func(t *testing.T) {
		c := ObservabilityNotificationsConfig{
			Slack: SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.test"},
		}
		c.Sanitize()
		assert.False(t, c.Slack.Enabled)
		assert.Equal(t, "conductor", c.Slack.Username)
	})

	t.Run("notifications drop sinks without targets", func(t *testing.T) {
		c := ObservabilityNotificationsConfig{
			Enabled:   true,
			Slack:     SlackNotificationConfig{Enabled: true},
			PagerDuty: PagerDutyNotificationConfig{Enabled: true, RoutingKey: "rk"},
		}
		c.Sanitize()
		assert.False(t, c.Slack.Enabled)
		assert.True(t, c.PagerDuty.Enabled)
	})
}
