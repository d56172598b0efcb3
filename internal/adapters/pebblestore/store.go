// Package pebblestore persists job and watch snapshots in an embedded Pebble database.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// Store is a file-backed SnapshotStore. Keys are "<kind>/<id>".
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

var _ core.SnapshotStore = (*Store)(nil)

// Open opens or creates the database in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("pebble directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	logger.With("component", "pebblestore").Info("snapshot store opened", "dir", dir)
	return &Store{db: db, logger: logger.With("component", "pebblestore")}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(kind model.SubjectKind, id string) []byte {
	return []byte(string(kind) + "/" + id)
}

// prefixBounds returns the [lower, upper) range covering every key of kind.
func prefixBounds(kind model.SubjectKind) (lower, upper []byte) {
	lower = []byte(string(kind) + "/")
	upper = append([]byte(string(kind)), '/'+1)
	return lower, upper
}

func (s *Store) Put(ctx context.Context, kind model.SubjectKind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("snapshot ID cannot be empty")
	}
	if err := s.db.Set(key(kind, id), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble put snapshot: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind model.SubjectKind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, closer, err := s.db.Get(key(kind, id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, apperrors.NotFoundf("%s snapshot %s not found", kind, id)
		}
		return nil, fmt.Errorf("pebble get snapshot: %w", err)
	}
	out := append([]byte(nil), val...)
	if err := closer.Close(); err != nil {
		s.logger.WarnContext(ctx, "failed to release pebble value", "error", err)
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, kind model.SubjectKind) (out []core.Snapshot, err error) {
	lower, upper := prefixBounds(kind)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iterate snapshots: %w", err)
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close pebble iterator: %w", cerr))
		}
	}()

	out = []core.Snapshot{}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, core.Snapshot{
			ID:   string(iter.Key()[len(lower):]),
			Data: append([]byte(nil), iter.Value()...),
		})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, kind model.SubjectKind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete(key(kind, id), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete snapshot: %w", err)
	}
	return nil
}
