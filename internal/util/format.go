package util //nolint:revive // package name util hosts small helpers shared by adapters and the CLI

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FormatDuration formats a duration for display, truncated to milliseconds.
// Returns "—" for zero or negative durations.
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "—"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}

// ParseRetryAfter interprets a Retry-After header given either as delay-seconds or an
// HTTP date. It returns zero when the header is absent, malformed or already in the past.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
