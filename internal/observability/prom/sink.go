// Package prom adapts the metrics.Sink interface onto a Prometheus registry.
package prom

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink lazily registers one vector per metric name. The label set is fixed by the first
// observation; later observations are projected onto it (missing labels become "").
type Sink struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*labeled[*prometheus.CounterVec]
	gauges     map[string]*labeled[*prometheus.GaugeVec]
	histograms map[string]*labeled[*prometheus.HistogramVec]
}

type labeled[V any] struct {
	vec    V
	labels []string
}

var _ metrics.Sink = (*Sink)(nil)

// NewSink creates a sink with its own registry, pre-populated with Go runtime and process collectors.
func NewSink(namespace string) *Sink {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Sink{
		namespace:  namespace,
		registry:   reg,
		counters:   make(map[string]*labeled[*prometheus.CounterVec]),
		gauges:     make(map[string]*labeled[*prometheus.GaugeVec]),
		histograms: make(map[string]*labeled[*prometheus.HistogramVec]),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Count adds value to the counter <name>_total.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      metricName(name) + "_total",
			Help:      "Count of " + name,
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			return
		}
		c = &labeled[*prometheus.CounterVec]{vec: vec, labels: labels}
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.vec.With(project(c.labels, tags)).Add(float64(value))
}

// Gauge sets the gauge <name>.
func (s *Sink) Gauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	g, ok := s.gauges[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      metricName(name),
			Help:      "Current value of " + name,
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			return
		}
		g = &labeled[*prometheus.GaugeVec]{vec: vec, labels: labels}
		s.gauges[name] = g
	}
	s.mu.Unlock()
	g.vec.With(project(g.labels, tags)).Set(value)
}

// Timing observes value in seconds on the histogram <name>_seconds.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	s.mu.Lock()
	h, ok := s.histograms[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      metricName(name) + "_seconds",
			Help:      "Duration of " + name,
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			return
		}
		h = &labeled[*prometheus.HistogramVec]{vec: vec, labels: labels}
		s.histograms[name] = h
	}
	s.mu.Unlock()
	h.vec.With(project(h.labels, tags)).Observe(value.Seconds())
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func labelNames(tags map[string]string) []string {
	out := make([]string, 0, len(tags))
	for k := range tags {
		out = append(out, metricName(k))
	}
	sort.Strings(out)
	return out
}

func project(labels []string, tags map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		out[l] = ""
	}
	for k, v := range tags {
		if _, ok := out[metricName(k)]; ok {
			out[metricName(k)] = v
		}
	}
	return out
}
