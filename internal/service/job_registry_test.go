package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, opts JobRegistryOptions) (*JobRegistry, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	if opts.Publisher == nil {
		opts.Publisher = pub
	}
	reg := NewJobRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg, pub
}

func createTransfer(t *testing.T, reg *JobRegistry) model.Job {
	t.Helper()
	job, err := reg.Create(context.Background(), CreateJobParams{Kind: model.JobKindTransfer, Tenant: "tenant-a"})
	require.NoError(t, err)
	return job
}

func TestJobRegistry_Create(t *testing.T) {
	t.Run("creates queued job and emits created event", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})

		job, err := reg.Create(context.Background(), CreateJobParams{
			Kind:     model.JobKindExport,
			Tenant:   "tenant-a",
			Metadata: map[string]string{"source": "db"},
			Totals:   model.Progress{ItemsTotal: 3, BytesTotal: -5},
		})

		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Equal(t, int64(3), job.Progress.ItemsTotal)
		assert.Equal(t, int64(0), job.Progress.BytesTotal)
		assert.Equal(t, []model.EventType{model.EventJobCreated}, pub.Types(job.ID))
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})

		_, err := reg.Create(context.Background(), CreateJobParams{Kind: "bogus"})

		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("snapshots are copies", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})
		job, err := reg.Create(context.Background(), CreateJobParams{
			Kind:     model.JobKindTransfer,
			Metadata: map[string]string{"k": "v"},
		})
		require.NoError(t, err)

		job.Metadata["k"] = "mutated"

		got, err := reg.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, "v", got.Metadata["k"])
	})
}

func TestJobRegistry_CancelMidTransfer(t *testing.T) {
	reg, pub := newTestRegistry(t, JobRegistryOptions{})
	job := createTransfer(t, reg)

	reached := make(chan struct{})
	resume := make(chan struct{})
	worker := func(ctx context.Context, h *JobHandle) (any, error) {
		h.SetTotals(100, 0)
		for i := range 100 {
			if h.IsCancelled() {
				return nil, apperrors.ErrCancelled
			}
			if !h.ReportProgress(ctx, model.ProgressDelta{Items: 1}) {
				return nil, apperrors.ErrCancelled
			}
			if i == 49 {
				close(reached)
				<-resume
			}
		}
		return map[string]int{"items": 100}, nil
	}

	require.NoError(t, reg.Start(context.Background(), job.ID, worker))
	<-reached

	ok, err := reg.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	close(resume)

	final := waitForJob(t, reg, job.ID)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	assert.Equal(t, int64(50), final.Progress.ItemsDone)
	assert.Equal(t, int64(100), final.Progress.ItemsTotal)
	assert.True(t, final.CancelRequested)
	assert.NotNil(t, final.EndedAt)

	types := pub.Types(job.ID)
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventJobCreated, types[0])
	assert.Equal(t, model.EventJobStarted, types[1])
	assert.Equal(t, model.EventJobCancelled, types[len(types)-1])
	assert.Equal(t, 1, pub.Count(job.ID, model.EventJobCancelRequested))
	assert.Equal(t, 50, pub.Count(job.ID, model.EventJobProgress))
}

func TestJobRegistry_Cancel(t *testing.T) {
	t.Run("queued job is cancelled immediately", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		ok, err := reg.Cancel(context.Background(), job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := reg.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Equal(t, []model.EventType{
			model.EventJobCreated,
			model.EventJobCancelRequested,
			model.EventJobCancelled,
		}, pub.Types(job.ID))

		err = reg.Start(context.Background(), job.ID, func(context.Context, *JobHandle) (any, error) { return nil, nil })
		require.ErrorIs(t, err, apperrors.ErrJobNotQueued)
	})

	t.Run("repeated cancel has no further effect", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		release := make(chan struct{})
		require.NoError(t, reg.Start(context.Background(), job.ID, func(context.Context, *JobHandle) (any, error) {
			<-release
			return nil, apperrors.ErrCancelled
		}))

		for range 3 {
			ok, err := reg.Cancel(context.Background(), job.ID)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.Equal(t, 1, pub.Count(job.ID, model.EventJobCancelRequested))
		assert.True(t, reg.IsCancelled(job.ID))

		close(release)
		final := waitForJob(t, reg, job.ID)
		assert.Equal(t, model.JobStatusCancelled, final.Status)

		ok, err := reg.Cancel(context.Background(), job.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown job", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})

		ok, err := reg.Cancel(context.Background(), "missing")

		assert.False(t, ok)
		require.ErrorIs(t, err, apperrors.ErrJobNotFound)
	})

	t.Run("cancel all affects only active jobs", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})
		a := createTransfer(t, reg)
		createTransfer(t, reg)
		require.True(t, reg.Complete(context.Background(), a.ID, nil))

		assert.Equal(t, 1, reg.CancelAll(context.Background()))
		assert.Equal(t, 0, reg.ActiveCount())
	})
}

func TestJobRegistry_TerminalTransitions(t *testing.T) {
	t.Run("first terminal call wins", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		assert.True(t, reg.Complete(context.Background(), job.ID, map[string]int{"items": 1}))
		assert.False(t, reg.Fail(context.Background(), job.ID, errors.New("late failure")))
		assert.False(t, reg.Complete(context.Background(), job.ID, nil))

		got, err := reg.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Empty(t, got.Error)
		assert.JSONEq(t, `{"items":1}`, string(got.Result))
		assert.Equal(t, 1, pub.Count(job.ID, model.EventJobCompleted))
		assert.Equal(t, 0, pub.Count(job.ID, model.EventJobFailed))
	})

	t.Run("failure payload carries error details", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		require.True(t, reg.Fail(context.Background(), job.ID, context.DeadlineExceeded))

		evt, ok := pub.Last(job.ID, model.EventJobFailed)
		require.True(t, ok)
		payload := decodePayload(t, evt)
		assert.Equal(t, "tenant-a", payload["tenant"])
		assert.Equal(t, "transfer", payload["kind"])
		assert.Equal(t, context.DeadlineExceeded.Error(), payload["error"])
		assert.Equal(t, "timeout", payload["errorClass"])
	})

	t.Run("worker panic fails the job", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		require.NoError(t, reg.Start(context.Background(), job.ID, func(context.Context, *JobHandle) (any, error) {
			panic("boom")
		}))

		final := waitForJob(t, reg, job.ID)
		assert.Equal(t, model.JobStatusFailed, final.Status)
		assert.Contains(t, final.Error, "worker panic: boom")
	})

	t.Run("worker result is stored", func(t *testing.T) {
		reg, pub := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		require.NoError(t, reg.Start(context.Background(), job.ID, func(ctx context.Context, h *JobHandle) (any, error) {
			h.ReportProgress(ctx, model.ProgressDelta{Items: 1, Bytes: 10})
			return TransferResult{Items: 1, Bytes: 10}, nil
		}))

		final := waitForJob(t, reg, job.ID)
		assert.Equal(t, model.JobStatusCompleted, final.Status)
		var res TransferResult
		require.NoError(t, json.Unmarshal(final.Result, &res))
		assert.Equal(t, int64(10), res.Bytes)
		assert.Equal(t, []model.EventType{
			model.EventJobCreated,
			model.EventJobStarted,
			model.EventJobProgress,
			model.EventJobCompleted,
		}, pub.Types(job.ID))
	})
}

func TestJobRegistry_ReportProgress(t *testing.T) {
	t.Run("counters never decrease", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)

		assert.True(t, reg.ReportProgress(context.Background(), job.ID, model.ProgressDelta{Items: 2, Bytes: 100}))
		assert.True(t, reg.ReportProgress(context.Background(), job.ID, model.ProgressDelta{Items: -1, Bytes: -50}))

		got, err := reg.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Progress.ItemsDone)
		assert.Equal(t, int64(100), got.Progress.BytesDone)
		assert.GreaterOrEqual(t, got.Progress.ItemsTotal, got.Progress.ItemsDone)
	})

	t.Run("rejected after terminal", func(t *testing.T) {
		reg, _ := newTestRegistry(t, JobRegistryOptions{})
		job := createTransfer(t, reg)
		require.True(t, reg.Complete(context.Background(), job.ID, nil))

		assert.False(t, reg.ReportProgress(context.Background(), job.ID, model.ProgressDelta{Items: 1}))
	})

	t.Run("progress events are throttled", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		reg, pub := newTestRegistry(t, JobRegistryOptions{Clock: clock, ProgressEventInterval: time.Second})
		job := createTransfer(t, reg)

		for range 5 {
			reg.ReportProgress(context.Background(), job.ID, model.ProgressDelta{Items: 1})
		}
		assert.Equal(t, 1, pub.Count(job.ID, model.EventJobProgress))

		clock.Advance(time.Second)
		reg.ReportProgress(context.Background(), job.ID, model.ProgressDelta{Items: 1})
		assert.Equal(t, 2, pub.Count(job.ID, model.EventJobProgress))

		got, err := reg.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), got.Progress.ItemsDone)
	})
}

func TestJobRegistry_List(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	reg, _ := newTestRegistry(t, JobRegistryOptions{Clock: clock})

	var ids []string
	for range 3 {
		ids = append(ids, createTransfer(t, reg).ID)
		clock.Advance(time.Second)
	}
	require.True(t, reg.Complete(context.Background(), ids[0], nil))

	all := reg.List(model.JobFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	active := reg.List(model.JobFilter{ActiveOnly: true})
	assert.Len(t, active, 2)

	page := reg.List(model.JobFilter{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	assert.Empty(t, reg.List(model.JobFilter{Tenant: "other"}))
}

func TestJobRegistry_EvictHistory(t *testing.T) {
	t.Run("evicts oldest beyond count and skips pinned", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		store := newMapSnapshotStore()
		pinned := staticPinner{}
		reg, _ := newTestRegistry(t, JobRegistryOptions{
			Clock:           clock,
			Store:           store,
			Pinner:          pinned,
			HistoryMaxCount: 2,
		})

		var ids []string
		for range 4 {
			ids = append(ids, createTransfer(t, reg).ID)
		}
		pinned[model.SubjectKey(model.SubjectJob, ids[0])] = true

		for _, id := range ids {
			require.True(t, reg.Complete(context.Background(), id, nil))
			clock.Advance(time.Second)
		}

		_, err := reg.Get(ids[0])
		require.NoError(t, err, "pinned job must survive eviction")
		_, err = reg.Get(ids[1])
		require.ErrorIs(t, err, apperrors.ErrJobNotFound)
		assert.False(t, store.Has(model.SubjectJob, ids[1]))
		for _, id := range ids[2:] {
			_, err = reg.Get(id)
			require.NoError(t, err)
		}
	})

	t.Run("evicts entries older than ttl", func(t *testing.T) {
		clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		reg, _ := newTestRegistry(t, JobRegistryOptions{Clock: clock, HistoryTTL: time.Hour})
		done := createTransfer(t, reg)
		active := createTransfer(t, reg)
		require.True(t, reg.Complete(context.Background(), done.ID, nil))

		clock.Advance(2 * time.Hour)

		assert.Equal(t, 1, reg.EvictHistory(context.Background()))
		_, err := reg.Get(active.ID)
		require.NoError(t, err)
	})
}

func TestJobRegistry_Recover(t *testing.T) {
	store := newMapSnapshotStore()
	clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	first, _ := newTestRegistry(t, JobRegistryOptions{Store: store, Clock: clock})
	running := createTransfer(t, first)
	finished := createTransfer(t, first)
	require.True(t, first.ReportProgress(context.Background(), running.ID, model.ProgressDelta{Items: 1}))
	require.True(t, first.Complete(context.Background(), finished.ID, nil))

	// Simulate the running snapshot having been persisted mid-flight.
	running.Status = model.JobStatusRunning
	raw, err := json.Marshal(running)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), model.SubjectJob, running.ID, raw))

	second, _ := newTestRegistry(t, JobRegistryOptions{Store: store, Clock: clock})
	n, err := second.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := second.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	got, err = second.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestJobRegistry_Shutdown(t *testing.T) {
	reg := NewJobRegistry(JobRegistryOptions{})
	job := createTransfer(t, reg)

	started := make(chan struct{})
	require.NoError(t, reg.Start(context.Background(), job.ID, func(ctx context.Context, h *JobHandle) (any, error) {
		close(started)
		for !h.IsCancelled() {
			time.Sleep(time.Millisecond)
		}
		return nil, apperrors.ErrCancelled
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
}
