package model

import (
	"fmt"
	"strings"
	"time"
)

// DeploymentState mirrors the remote platform's deployment status.
type DeploymentState string

const (
	DeploymentInProgress           DeploymentState = "InProgress"
	DeploymentAwaitingVerification DeploymentState = "AwaitingVerification"
	DeploymentCompleting           DeploymentState = "Completing"
	DeploymentSucceeded            DeploymentState = "Succeeded"
	DeploymentFailed               DeploymentState = "Failed"
	DeploymentResetting            DeploymentState = "Resetting"
	// DeploymentUnknown is the state of a watch that has not completed a poll yet.
	DeploymentUnknown DeploymentState = ""
)

var deploymentStates = []DeploymentState{
	DeploymentInProgress,
	DeploymentAwaitingVerification,
	DeploymentCompleting,
	DeploymentSucceeded,
	DeploymentFailed,
	DeploymentResetting,
}

// ParseDeploymentState matches s case-insensitively against known states.
func ParseDeploymentState(s string) (DeploymentState, error) {
	s = strings.TrimSpace(s)
	for _, st := range deploymentStates {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return DeploymentUnknown, fmt.Errorf("unknown deployment state %q", s)
}

// IsTerminal reports whether the remote deployment can no longer change.
func (s DeploymentState) IsTerminal() bool {
	return s == DeploymentSucceeded || s == DeploymentFailed
}

// StopReason explains why a watch left the active set.
type StopReason string

const (
	StopReasonTerminal   StopReason = "terminal"
	StopReasonStopped    StopReason = "stopped"
	StopReasonTimedOut   StopReason = "timed_out"
	StopReasonPollErrors StopReason = "poll_errors"
	StopReasonFatal      StopReason = "fatal_error"
	StopReasonShutdown   StopReason = "shutdown"
)

// WatchOptions configures a deployment watch.
type WatchOptions struct {
	PollInterval time.Duration `json:"poll_interval"`
	MaxDuration  time.Duration `json:"max_duration"`
	AutoComplete bool          `json:"auto_complete"`
}

// WatchRequest starts monitoring a deployment.
type WatchRequest struct {
	TenantRef    string       `json:"tenant_ref"`
	DeploymentID string       `json:"deployment_id"`
	Options      WatchOptions `json:"options"`
	Webhook      *WebhookSpec `json:"webhook,omitempty"`
}

// DeploymentWatch is a snapshot of one deployment watch.
type DeploymentWatch struct {
	ID                  string          `json:"id"`
	DeploymentID        string          `json:"deployment_id"`
	Tenant              string          `json:"tenant"`
	State               DeploymentState `json:"state"`
	PollInterval        time.Duration   `json:"poll_interval"`
	MaxDuration         time.Duration   `json:"max_duration"`
	AutoComplete        bool            `json:"auto_complete"`
	CompletionTriggered bool            `json:"completion_triggered"`
	Active              bool            `json:"active"`
	TimedOut            bool            `json:"timed_out"`
	StopReason          StopReason      `json:"stop_reason,omitempty"`
	PollCount           int             `json:"poll_count"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastError           string          `json:"last_error,omitempty"`
	StartedAt           time.Time       `json:"started_at"`
	LastPolledAt        *time.Time      `json:"last_polled_at,omitempty"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
}

// Deadline returns when the watch is force-stopped.
func (w *DeploymentWatch) Deadline() time.Time {
	return w.StartedAt.Add(w.MaxDuration)
}

// Clone returns a copy with pointer fields detached.
func (w *DeploymentWatch) Clone() DeploymentWatch {
	out := *w
	if w.LastPolledAt != nil {
		t := *w.LastPolledAt
		out.LastPolledAt = &t
	}
	if w.EndedAt != nil {
		t := *w.EndedAt
		out.EndedAt = &t
	}
	return out
}
