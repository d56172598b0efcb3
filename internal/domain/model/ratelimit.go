package model

import "time"

// LimitStatus is the user-visible view of a tenant's limiter state. Backoff is reported
// as a status, never as an error.
type LimitStatus struct {
	Tenant              string     `json:"tenant"`
	Throttled           bool       `json:"throttled"`
	RetryAfterMs        int64      `json:"retry_after_ms"`
	RequestsLastMinute  int        `json:"requests_last_minute"`
	RequestsLastHour    int        `json:"requests_last_hour"`
	MaxPerMinute        int        `json:"max_per_minute"`
	MaxPerHour          int        `json:"max_per_hour"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	BackoffUntil        *time.Time `json:"backoff_until,omitempty"`
	ThrottledUntil      *time.Time `json:"throttled_until,omitempty"`
}
