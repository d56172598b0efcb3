package data

import (
	"context"
	"sort"
	"sync"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
)

// MemorySnapshotStore keeps snapshots in process. History survives eviction from the
// registries but not a restart.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	data map[model.SubjectKind]map[string][]byte
}

var _ core.SnapshotStore = (*MemorySnapshotStore)(nil)

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[model.SubjectKind]map[string][]byte)}
}

func (s *MemorySnapshotStore) Put(_ context.Context, kind model.SubjectKind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.data[kind]
	if m == nil {
		m = make(map[string][]byte)
		s.data[kind] = m
	}
	m[id] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, kind model.SubjectKind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[kind][id]
	if !ok {
		return nil, apperrors.NotFoundf("%s snapshot %s not found", kind, id)
	}
	return append([]byte(nil), b...), nil
}

func (s *MemorySnapshotStore) List(_ context.Context, kind model.SubjectKind) ([]core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Snapshot, 0, len(s.data[kind]))
	for id, b := range s.data[kind] {
		out = append(out, core.Snapshot{ID: id, Data: append([]byte(nil), b...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, kind model.SubjectKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[kind], id)
	return nil
}
