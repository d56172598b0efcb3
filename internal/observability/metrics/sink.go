package metrics

import "time"

// Sink describes the minimal interface required to emit metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) Count(string, int64, map[string]string)           {}
func (Noop) Gauge(string, float64, map[string]string)         {}
func (Noop) Timing(string, time.Duration, map[string]string) {}

var _ Sink = Noop{}
