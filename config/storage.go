package config

import (
	"strings"
	"time"
)

// AuditBackend selects where audit entries are stored.
type AuditBackend string

const (
	AuditBackendMemory   AuditBackend = "memory"
	AuditBackendPostgres AuditBackend = "postgres"
)

// AuditConfig controls the audit recorder.
type AuditConfig struct {
	Backend AuditBackend `env:"BACKEND" envDefault:"memory"`
	// Retention is how long entries are kept before the reaper prunes them.
	Retention time.Duration `env:"RETENTION" envDefault:"720h"`
	// MaxEntries caps the in-memory backend.
	MaxEntries int `env:"MAX_ENTRIES" envDefault:"10000"`
	// WriteTimeout bounds a single background write.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to audit configuration values.
func (c *AuditConfig) Sanitize() {
	switch AuditBackend(strings.ToLower(strings.TrimSpace(string(c.Backend)))) {
	case AuditBackendPostgres:
		c.Backend = AuditBackendPostgres
	default:
		c.Backend = AuditBackendMemory
	}
	if c.Retention < time.Hour {
		c.Retention = time.Hour
	}
	if c.MaxEntries < 100 {
		c.MaxEntries = 100
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// SnapshotBackend selects where job and watch snapshots are persisted.
type SnapshotBackend string

const (
	SnapshotBackendMemory SnapshotBackend = "memory"
	SnapshotBackendRedis  SnapshotBackend = "redis"
	SnapshotBackendPebble SnapshotBackend = "pebble"
)

// SnapshotConfig controls restart-recovery persistence.
type SnapshotConfig struct {
	Backend   SnapshotBackend `env:"BACKEND"    envDefault:"memory"`
	PebbleDir string          `env:"PEBBLE_DIR" envDefault:"./data/snapshots"`
	KeyPrefix string          `env:"KEY_PREFIX" envDefault:"conductor:snapshot:"`
	// TTL expires Redis snapshots; zero keeps them until evicted.
	TTL time.Duration `env:"TTL" envDefault:"168h"`
}

// Sanitize applies guardrails to snapshot configuration values.
func (c *SnapshotConfig) Sanitize() {
	switch SnapshotBackend(strings.ToLower(strings.TrimSpace(string(c.Backend)))) {
	case SnapshotBackendRedis:
		c.Backend = SnapshotBackendRedis
	case SnapshotBackendPebble:
		c.Backend = SnapshotBackendPebble
	default:
		c.Backend = SnapshotBackendMemory
	}
	if c.PebbleDir = strings.TrimSpace(c.PebbleDir); c.PebbleDir == "" {
		c.PebbleDir = "./data/snapshots"
	}
	if c.KeyPrefix = strings.TrimSpace(c.KeyPrefix); c.KeyPrefix == "" {
		c.KeyPrefix = "conductor:snapshot:"
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
}
