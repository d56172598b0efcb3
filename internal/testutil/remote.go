package testutil

import (
	"context"
	"sync"

	"github.com/dxpops/conductor/internal/domain/model"
)

// ScriptedRemote is a RemoteOperationClient whose deployment states follow a script.
// Once a deployment's script is exhausted the last state repeats.
type ScriptedRemote struct {
	mu          sync.Mutex
	states      map[string][]model.DeploymentState
	statusErrs  map[string][]error
	polls       map[string]int
	completions map[string]int
	resets      map[string]int
	chunks      []model.ChunkRequest

	// ChunkFunc, when set, decides the outcome of PerformTransferChunk. The default writes
	// the whole requested length.
	ChunkFunc func(ctx context.Context, req model.ChunkRequest) (int64, error)
	// OnCompletion runs inside StartCompletion, e.g. to advance the script.
	OnCompletion func(deploymentID string) error
}

// NewScriptedRemote creates an empty script.
func NewScriptedRemote() *ScriptedRemote {
	return &ScriptedRemote{
		states:      make(map[string][]model.DeploymentState),
		statusErrs:  make(map[string][]error),
		polls:       make(map[string]int),
		completions: make(map[string]int),
		resets:      make(map[string]int),
	}
}

// Script sets the states returned by successive GetDeploymentStatus calls.
func (r *ScriptedRemote) Script(deploymentID string, states ...model.DeploymentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[deploymentID] = append([]model.DeploymentState(nil), states...)
}

// FailNextPolls makes the next GetDeploymentStatus calls return errs in order.
func (r *ScriptedRemote) FailNextPolls(deploymentID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusErrs[deploymentID] = append(r.statusErrs[deploymentID], errs...)
}

// PerformTransferChunk records the request and delegates to ChunkFunc.
func (r *ScriptedRemote) PerformTransferChunk(ctx context.Context, _ string, req model.ChunkRequest) (int64, error) {
	r.mu.Lock()
	r.chunks = append(r.chunks, req)
	fn := r.ChunkFunc
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return req.Length, nil
}

// GetDeploymentStatus returns the next scripted state.
func (r *ScriptedRemote) GetDeploymentStatus(_ context.Context, _ string, deploymentID string) (model.DeploymentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[deploymentID]++
	if errs := r.statusErrs[deploymentID]; len(errs) > 0 {
		r.statusErrs[deploymentID] = errs[1:]
		return model.DeploymentUnknown, errs[0]
	}
	script := r.states[deploymentID]
	switch len(script) {
	case 0:
		return model.DeploymentInProgress, nil
	case 1:
		return script[0], nil
	default:
		r.states[deploymentID] = script[1:]
		return script[0], nil
	}
}

// StartCompletion counts the call and runs OnCompletion.
func (r *ScriptedRemote) StartCompletion(_ context.Context, _ string, deploymentID string) error {
	r.mu.Lock()
	r.completions[deploymentID]++
	fn := r.OnCompletion
	r.mu.Unlock()
	if fn != nil {
		return fn(deploymentID)
	}
	return nil
}

// StartReset counts the call.
func (r *ScriptedRemote) StartReset(_ context.Context, _ string, deploymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets[deploymentID]++
	return nil
}

// Polls returns how many status calls were made for deploymentID.
func (r *ScriptedRemote) Polls(deploymentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[deploymentID]
}

// Completions returns how many completion calls were made for deploymentID.
func (r *ScriptedRemote) Completions(deploymentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions[deploymentID]
}

// Resets returns how many reset calls were made for deploymentID.
func (r *ScriptedRemote) Resets(deploymentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets[deploymentID]
}

// Chunks returns a copy of every chunk request seen.
func (r *ScriptedRemote) Chunks() []model.ChunkRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChunkRequest(nil), r.chunks...)
}
