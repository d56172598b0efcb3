package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTransfer(t *testing.T, remote *testutil.ScriptedRemote, chunkSize int64, req model.TransferRequest) (*JobRegistry, model.Job) {
	t.Helper()
	reg, _ := newTestRegistry(t, JobRegistryOptions{})
	worker := NewTransferWorker(newTestGate(t, remote), chunkSize, nil)

	job := createTransfer(t, reg)
	require.NoError(t, reg.Start(context.Background(), job.ID, worker.Worker("tenant-a", req)))
	return reg, waitForJob(t, reg, job.ID)
}

func TestTransferWorker_Chunks(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	req := model.TransferRequest{
		Kind:        model.JobKindTransfer,
		Source:      "s3://in",
		Destination: "s3://out",
		Items:       []model.TransferItem{{Name: "a.bin", Size: 250}, {Name: "empty", Size: 0}, {Name: "b.bin", Size: 100}},
	}

	_, job := runTransfer(t, remote, 100, req)

	require.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(3), job.Progress.ItemsDone)
	assert.Equal(t, int64(3), job.Progress.ItemsTotal)
	assert.Equal(t, int64(350), job.Progress.BytesDone)
	assert.Equal(t, int64(350), job.Progress.BytesTotal)

	var result TransferResult
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, TransferResult{Items: 3, Bytes: 350}, result)

	chunks := remote.Chunks()
	require.Len(t, chunks, 5)
	assert.Equal(t, []int64{0, 100, 200}, []int64{chunks[0].Offset, chunks[1].Offset, chunks[2].Offset})
	assert.Equal(t, int64(50), chunks[2].Length)
	assert.Equal(t, "empty", chunks[3].Item)
	assert.Equal(t, job.ID, chunks[0].JobID)
	assert.Equal(t, "s3://out", chunks[0].Destination)
}

func TestTransferWorker_PartialWrites(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	remote.ChunkFunc = func(_ context.Context, req model.ChunkRequest) (int64, error) {
		return min(req.Length, 30), nil
	}

	_, job := runTransfer(t, remote, 0, model.TransferRequest{
		Source: "s3://in",
		Items:  []model.TransferItem{{Name: "a.bin", Size: 100}},
	})

	require.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Len(t, remote.Chunks(), 4)
	assert.Equal(t, int64(100), job.Progress.BytesDone)
}

func TestTransferWorker_Failures(t *testing.T) {
	t.Run("remote error fails the job", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		remote.ChunkFunc = func(_ context.Context, req model.ChunkRequest) (int64, error) {
			if req.Item == "b.bin" {
				return 0, apperrors.Permanent(errors.New("destination not writable"))
			}
			return req.Length, nil
		}

		_, job := runTransfer(t, remote, 0, model.TransferRequest{
			Source: "s3://in",
			Items:  []model.TransferItem{{Name: "a.bin", Size: 10}, {Name: "b.bin", Size: 10}},
		})

		require.Equal(t, model.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, "transfer b.bin at offset 0")
		assert.Contains(t, job.Error, "destination not writable")
		assert.Equal(t, int64(1), job.Progress.ItemsDone)
	})

	t.Run("zero-byte writes fail", func(t *testing.T) {
		remote := testutil.NewScriptedRemote()
		remote.ChunkFunc = func(context.Context, model.ChunkRequest) (int64, error) { return 0, nil }

		_, job := runTransfer(t, remote, 0, model.TransferRequest{
			Source: "s3://in",
			Items:  []model.TransferItem{{Name: "a.bin", Size: 10}},
		})

		require.Equal(t, model.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, "remote wrote no bytes")
	})
}

func TestTransferWorker_Cancellation(t *testing.T) {
	remote := testutil.NewScriptedRemote()
	reg, _ := newTestRegistry(t, JobRegistryOptions{})
	job := createTransfer(t, reg)

	var calls atomic.Int32
	remote.ChunkFunc = func(ctx context.Context, req model.ChunkRequest) (int64, error) {
		if calls.Add(1) == 3 {
			_, err := reg.Cancel(ctx, req.JobID)
			require.NoError(t, err)
		}
		return req.Length, nil
	}
	worker := NewTransferWorker(newTestGate(t, remote), 10, nil)
	req := model.TransferRequest{Source: "s3://in", Items: []model.TransferItem{{Name: "a.bin", Size: 100}}}

	require.NoError(t, reg.Start(context.Background(), job.ID, worker.Worker("tenant-a", req)))
	got := waitForJob(t, reg, job.ID)

	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, int64(20), got.Progress.BytesDone, "bytes of the chunk in flight at cancellation are not counted")
	assert.Len(t, remote.Chunks(), 3)
}
