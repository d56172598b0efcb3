package metrics

import (
	"maps"
	"time"

	obserrors "github.com/dxpops/conductor/internal/observability/errors"
)

// Result constants for metric tagging.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCancelled = "cancelled"
	ResultNoop      = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// WatchMetric captures a deployment watch event.
type WatchMetric struct {
	Event  string
	State  string
	Result string
	Err    error
}

// EmitWatch emits deployment watch counters (polls, transitions, completions).
func EmitWatch(sink Sink, in WatchMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"event": in.Event, "state": in.State, "result": in.Result}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count("deployment.watch", 1, tags)
}

// DeliveryMetric captures one webhook delivery attempt.
type DeliveryMetric struct {
	Result     string
	StatusCode int
	Attempt    int
	Duration   time.Duration
	Err        error
}

// EmitDelivery emits webhook delivery attempt metrics.
func EmitDelivery(sink Sink, in DeliveryMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result, "status_class": statusClass(in.StatusCode)}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count("webhook.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("webhook.duration", in.Duration, CloneTags(tags))
	}
}

// EmitRemoteCall emits the outcome of one gated remote call.
func EmitRemoteCall(sink Sink, op, result string, wait time.Duration, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"op": op, "result": result}
	addErrorClass(tags, result, err)
	sink.Count("remote.call", 1, tags)
	if wait > 0 {
		sink.Timing("ratelimit.wait", wait, map[string]string{"op": op})
	}
}

// addErrorClass always sets error_class so every observation of a metric carries the
// same label set.
func addErrorClass(tags map[string]string, result string, err error) {
	tags["error_class"] = "none"
	if err != nil && result == ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "none"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code == 429:
		return "429"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
