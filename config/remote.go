package config

import (
	"strings"
	"time"
)

// RemoteConfig points the HTTP RemoteOperationClient at the deployment/transfer API.
type RemoteConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:9090"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"30s"`
	// DefaultRetryAfter is used when a 429 response carries no Retry-After header.
	DefaultRetryAfter time.Duration `env:"DEFAULT_RETRY_AFTER" envDefault:"5s"`
}

// Sanitize applies guardrails to remote client configuration values.
func (c *RemoteConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = 5 * time.Second
	}
}

// CredentialsConfig controls tenant resolution.
type CredentialsConfig struct {
	// Tenants maps tenant references to tenant IDs, e.g. "proj-a:tenant-1,proj-b:tenant-2".
	// Unmapped references resolve to themselves unless Strict is set.
	Tenants  map[string]string `env:"TENANTS" envKeyValSeparator:":"`
	Strict   bool              `env:"STRICT"    envDefault:"false"`
	CacheTTL time.Duration     `env:"CACHE_TTL" envDefault:"5m"`
}

// Sanitize applies guardrails to credential configuration values.
func (c *CredentialsConfig) Sanitize() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	cleaned := make(map[string]string, len(c.Tenants))
	for k, v := range c.Tenants {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			cleaned[k] = v
		}
	}
	c.Tenants = cleaned
}
