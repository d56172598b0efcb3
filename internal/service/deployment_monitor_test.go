package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/domain/ratelimit"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/mocks"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testPoll = 10 * time.Millisecond

func newTestGate(t *testing.T, remote *testutil.ScriptedRemote) *RemoteGate {
	t.Helper()
	ctrl := gomock.NewController(t)
	return MustNewRemoteGate(RemoteGateOptions{
		Client:      remote,
		Credentials: mocks.NewMockCredentialResolver(ctrl),
		Limiter: ratelimit.New(ratelimit.Limits{
			MaxPerMinute: 100000,
			MaxPerHour:   100000,
			BackoffBase:  time.Millisecond,
			BackoffCap:   2,
		}, nil),
		MaxAttempts: 1,
	})
}

func newTestMonitor(t *testing.T, remote *testutil.ScriptedRemote, opts DeploymentMonitorOptions) (*DeploymentMonitor, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	opts.Remote = newTestGate(t, remote)
	opts.Publisher = pub
	if opts.MinPollInterval == 0 {
		opts.MinPollInterval = testPoll
	}
	if opts.DefaultPollInterval == 0 {
		opts.DefaultPollInterval = testPoll
	}
	m := MustNewDeploymentMonitor(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, pub
}

func waitForWatch(t *testing.T, m *DeploymentMonitor, id string) model.DeploymentWatch {
	t.Helper()
	var w model.DeploymentWatch
	require.Eventually(t, func() bool {
		got, err := m.Get(id)
		if err != nil {
			return false
		}
		w = got
		return !got.Active
	}, 3*time.Second, 5*time.Millisecond, "watch %s did not finish", id)
	return w
}

func TestNewDeploymentMonitor(t *testing.T) {
	_, err := NewDeploymentMonitor(DeploymentMonitorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DeploymentRemote is required")
}

func TestDeploymentMonitor_AutoComplete(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.Script("dep-1",
		model.DeploymentInProgress,
		model.DeploymentAwaitingVerification,
		model.DeploymentAwaitingVerification,
		model.DeploymentCompleting,
		model.DeploymentSucceeded,
	)
	m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{AutoComplete: true})
	require.NoError(t, err)
	assert.True(t, w.Active)

	final := waitForWatch(t, m, w.ID)

	assert.Equal(t, model.DeploymentSucceeded, final.State)
	assert.Equal(t, model.StopReasonTerminal, final.StopReason)
	assert.True(t, final.CompletionTriggered)
	assert.False(t, final.TimedOut)
	assert.Equal(t, 5, final.PollCount)
	assert.Equal(t, 1, remote.Completions("dep-1"))

	types := pub.Types("dep-1")
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventDeploymentWatchStarted, types[0])
	assert.Equal(t, model.EventDeploymentFinished, types[len(types)-1])
	assert.Equal(t, 1, pub.Count("dep-1", model.EventDeploymentCompletionTriggered))
	assert.Equal(t, 4, pub.Count("dep-1", model.EventDeploymentStateChanged))

	evt, ok := pub.Last("dep-1", model.EventDeploymentFinished)
	require.True(t, ok)
	payload := decodePayload(t, evt)
	assert.Equal(t, w.ID, payload["watchId"])
	assert.Equal(t, string(model.DeploymentSucceeded), payload["finalState"])
	assert.Equal(t, false, payload["timedOut"])
}

func TestDeploymentMonitor_CompletionFailureIsNotRetried(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.Script("dep-1", model.DeploymentAwaitingVerification)
	remote.OnCompletion = func(string) error { return apperrors.Permanent(errors.New("409 invalid state")) }
	m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{AutoComplete: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := m.Get(w.ID)
		return got.PollCount >= 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, remote.Completions("dep-1"))
	evt, ok := pub.Last("dep-1", model.EventDeploymentCompletionTriggered)
	require.True(t, ok)
	assert.Contains(t, decodePayload(t, evt)["error"], "409 invalid state")
}

func TestDeploymentMonitor_Timeout(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.Script("dep-1", model.DeploymentInProgress)
	m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{MaxDuration: 60 * time.Millisecond})
	require.NoError(t, err)

	final := waitForWatch(t, m, w.ID)

	assert.True(t, final.TimedOut)
	assert.Equal(t, model.StopReasonTimedOut, final.StopReason)
	assert.Equal(t, model.DeploymentInProgress, final.State)
	assert.GreaterOrEqual(t, final.PollCount, 1)

	evt, ok := pub.Last("dep-1", model.EventDeploymentFinished)
	require.True(t, ok)
	payload := decodePayload(t, evt)
	assert.Equal(t, true, payload["timedOut"])
	assert.Equal(t, string(model.StopReasonTimedOut), payload["stopReason"])
}

func TestDeploymentMonitor_Watch(t *testing.T) {
	t.Run("one active watch per deployment", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{})

		first, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
		require.NoError(t, err)

		second, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
		require.ErrorIs(t, err, apperrors.ErrAlreadyWatching)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, m.ActiveCount())
	})

	t.Run("options are clamped", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{
			MinPollInterval: 20 * time.Millisecond,
			MaxMaxDuration:  time.Hour,
		})

		w, err := m.Watch(context.Background(), "tenant-a", "dep-2", model.WatchOptions{
			PollInterval: time.Millisecond,
			MaxDuration:  48 * time.Hour,
		})
		require.NoError(t, err)
		assert.Equal(t, 20*time.Millisecond, w.PollInterval)
		assert.Equal(t, time.Hour, w.MaxDuration)
	})

	t.Run("requires deployment id", func(t *testing.T) {
		m, _ := newTestMonitor(t, testutil.NewScriptedRemote(), DeploymentMonitorOptions{})

		_, err := m.Watch(context.Background(), "tenant-a", "", model.WatchOptions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("a finished deployment can be watched again", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		remote.Script("dep-3", model.DeploymentSucceeded)
		m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{})

		first, err := m.Watch(context.Background(), "tenant-a", "dep-3", model.WatchOptions{})
		require.NoError(t, err)
		waitForWatch(t, m, first.ID)

		second, err := m.Watch(context.Background(), "tenant-a", "dep-3", model.WatchOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestDeploymentMonitor_Stop(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.Script("dep-1", model.DeploymentAwaitingVerification)
	m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return remote.Polls("dep-1") >= 1 }, time.Second, time.Millisecond)

	state, err := m.Stop(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentAwaitingVerification, state)

	got, err := m.Get(w.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, model.StopReasonStopped, got.StopReason)
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 1, pub.Count("dep-1", model.EventDeploymentFinished))

	state, err = m.Stop(context.Background(), w.ID)
	require.NoError(t, err, "stopping a finished watch is not an error")
	assert.Equal(t, model.DeploymentAwaitingVerification, state)
	assert.Equal(t, 1, pub.Count("dep-1", model.EventDeploymentFinished))

	_, err = m.Stop(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrWatchNotFound)
}

func TestDeploymentMonitor_UpdateInterval(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{PollInterval: time.Hour})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return remote.Polls("dep-1") == 1 }, time.Second, time.Millisecond)

	_, err = m.UpdateInterval(context.Background(), w.ID, time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	updated, err := m.UpdateInterval(context.Background(), w.ID, testPoll)
	require.NoError(t, err)
	assert.Equal(t, testPoll, updated.PollInterval)

	require.Eventually(t, func() bool { return remote.Polls("dep-1") >= 3 }, time.Second, time.Millisecond,
		"the new interval applies without waiting for the old tick")

	_, err = m.Stop(context.Background(), w.ID)
	require.NoError(t, err)
	_, err = m.UpdateInterval(context.Background(), w.ID, testPoll)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestDeploymentMonitor_PollFailures(t *testing.T) {
	t.Run("consecutive failures end the watch", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		boom := apperrors.Transient(errors.New("503 unavailable"))
		remote.FailNextPolls("dep-1", boom, boom, boom)
		m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{MaxPollFailures: 3})

		w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
		require.NoError(t, err)

		final := waitForWatch(t, m, w.ID)
		assert.Equal(t, model.StopReasonPollErrors, final.StopReason)
		assert.Equal(t, 3, final.ConsecutiveFailures)
		assert.Contains(t, final.LastError, "503 unavailable")
	})

	t.Run("a success resets the failure count", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		boom := apperrors.Transient(errors.New("503 unavailable"))
		remote.FailNextPolls("dep-1", boom, boom)
		remote.Script("dep-1", model.DeploymentInProgress, model.DeploymentSucceeded)
		m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{MaxPollFailures: 3})

		w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
		require.NoError(t, err)

		final := waitForWatch(t, m, w.ID)
		assert.Equal(t, model.StopReasonTerminal, final.StopReason)
		assert.Zero(t, final.ConsecutiveFailures)
		assert.Empty(t, final.LastError)
	})

	t.Run("fatal error ends the watch immediately", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		remote.FailNextPolls("dep-1", apperrors.Permanent(errors.New("404 deployment not found")))
		m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{MaxPollFailures: 10})

		w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
		require.NoError(t, err)

		final := waitForWatch(t, m, w.ID)
		assert.Equal(t, model.StopReasonFatal, final.StopReason)
		assert.Equal(t, 1, remote.Polls("dep-1"))

		evt, ok := pub.Last("dep-1", model.EventDeploymentFinished)
		require.True(t, ok)
		assert.Contains(t, decodePayload(t, evt)["error"], "404 deployment not found")
	})
}

func TestDeploymentMonitor_ResetDeployment(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	m, pub := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
	require.NoError(t, err)

	require.NoError(t, m.ResetDeployment(context.Background(), w.ID))
	assert.Equal(t, 1, remote.Resets("dep-1"))
	assert.Equal(t, 1, pub.Count("dep-1", model.EventDeploymentResetRequested))

	err = m.ResetDeployment(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrWatchNotFound)
}

func TestDeploymentMonitor_List(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.Script("dep-done", model.DeploymentFailed)
	m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	done, err := m.Watch(context.Background(), "tenant-a", "dep-done", model.WatchOptions{})
	require.NoError(t, err)
	waitForWatch(t, m, done.ID)
	_, err = m.Watch(context.Background(), "tenant-a", "dep-live", model.WatchOptions{})
	require.NoError(t, err)

	assert.Len(t, m.List(false), 1)
	assert.Len(t, m.List(true), 2)
}

func TestDeploymentMonitor_Recover(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now().UTC())
	store := newMapSnapshotStore()

	put := func(w model.DeploymentWatch) {
		raw, err := json.Marshal(w)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), model.SubjectDeployment, w.ID, raw))
	}
	put(model.DeploymentWatch{
		ID: "w-live", DeploymentID: "dep-live", Tenant: "tenant-a", Active: true,
		PollInterval: testPoll, MaxDuration: time.Hour, StartedAt: clock.Now().Add(-time.Minute),
	})
	put(model.DeploymentWatch{
		ID: "w-expired", DeploymentID: "dep-expired", Tenant: "tenant-a", Active: true,
		PollInterval: testPoll, MaxDuration: time.Minute, StartedAt: clock.Now().Add(-time.Hour),
	})

	remote := testutil.NewScriptedRemote()
	m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{Store: store, Clock: clock})

	resumed, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	require.Eventually(t, func() bool { return remote.Polls("dep-live") >= 1 }, time.Second, time.Millisecond)
	live, err := m.Get("w-live")
	require.NoError(t, err)
	assert.True(t, live.Active)

	expired, err := m.Get("w-expired")
	require.NoError(t, err)
	assert.False(t, expired.Active)
	assert.True(t, expired.TimedOut)
	assert.Equal(t, model.StopReasonShutdown, expired.StopReason)
	assert.Zero(t, remote.Polls("dep-expired"))
}

func TestDeploymentMonitor_Shutdown(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	m, _ := newTestMonitor(t, remote, DeploymentMonitorOptions{})

	w, err := m.Watch(context.Background(), "tenant-a", "dep-1", model.WatchOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	got, err := m.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StopReasonShutdown, got.StopReason)

	_, err = m.Watch(context.Background(), "tenant-a", "dep-2", model.WatchOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}
