package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// TransferResult is stored as the result of a completed transfer or export job.
type TransferResult struct {
	Items int64 `json:"items"`
	Bytes int64 `json:"bytes"`
}

// TransferWorker moves transfer items through the remote gate in fixed-size chunks.
type TransferWorker struct {
	gate      *RemoteGate
	chunkSize int64
	logger    *slog.Logger
}

// NewTransferWorker constructs a TransferWorker. chunkSize <= 0 sends each item whole.
func NewTransferWorker(gate *RemoteGate, chunkSize int64, logger *slog.Logger) *TransferWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferWorker{gate: gate, chunkSize: chunkSize, logger: logger.With("component", "transfer_worker")}
}

// Worker returns the WorkerFunc for one request. The tenant must already be resolved.
func (w *TransferWorker) Worker(tenant string, req model.TransferRequest) WorkerFunc {
	return func(ctx context.Context, h *JobHandle) (any, error) {
		var totalBytes int64
		for _, it := range req.Items {
			totalBytes += it.Size
		}
		h.SetTotals(int64(len(req.Items)), totalBytes)

		var result TransferResult
		for _, it := range req.Items {
			n, err := w.transferItem(ctx, h, tenant, req, it)
			result.Bytes += n
			if err != nil {
				return nil, err
			}
			if !h.ReportProgress(ctx, model.ProgressDelta{Items: 1}) {
				return nil, apperrors.ErrCancelled
			}
			result.Items++
		}
		return result, nil
	}
}

func (w *TransferWorker) transferItem(
	ctx context.Context,
	h *JobHandle,
	tenant string,
	req model.TransferRequest,
	it model.TransferItem,
) (int64, error) {
	var offset int64
	for {
		if h.IsCancelled() {
			return offset, apperrors.ErrCancelled
		}
		length := it.Size - offset
		if w.chunkSize > 0 && length > w.chunkSize {
			length = w.chunkSize
		}

		written, err := w.gate.TransferChunk(ctx, tenant, model.ChunkRequest{
			JobID:       h.ID(),
			Kind:        req.Kind,
			Source:      req.Source,
			Destination: req.Destination,
			Item:        it.Name,
			Offset:      offset,
			Length:      length,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) && h.IsCancelled() {
				return offset, apperrors.ErrCancelled
			}
			return offset, fmt.Errorf("transfer %s at offset %d: %w", it.Name, offset, err)
		}
		if written <= 0 && length > 0 {
			return offset, fmt.Errorf("transfer %s at offset %d: remote wrote no bytes", it.Name, offset)
		}

		offset += written
		if !h.ReportProgress(ctx, model.ProgressDelta{Bytes: written}) {
			return offset, apperrors.ErrCancelled
		}
		if offset >= it.Size {
			w.logger.DebugContext(ctx, "item transferred", "job_id", h.ID(), "item", it.Name, "bytes", offset)
			return offset, nil
		}
	}
}
