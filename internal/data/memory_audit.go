package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
)

// MemoryAuditStore keeps audit entries in process, dropping the oldest beyond maxEntries.
type MemoryAuditStore struct {
	mu         sync.RWMutex
	entries    []model.AuditEntry // ordered by StartedAt ascending
	maxEntries int
}

var _ core.AuditStore = (*MemoryAuditStore)(nil)

// NewMemoryAuditStore creates a store; maxEntries <= 0 means unbounded.
func NewMemoryAuditStore(maxEntries int) *MemoryAuditStore {
	return &MemoryAuditStore{maxEntries: maxEntries}
}

func (s *MemoryAuditStore) Append(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].StartedAt.After(e.StartedAt) })
	s.entries = append(s.entries, model.AuditEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		over := len(s.entries) - s.maxEntries
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, f model.AuditFilter) (*model.AuditPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := &model.AuditPage{Entries: []model.AuditEntry{}}
	skipped := 0
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := &s.entries[i]
		if !f.Matches(e) {
			continue
		}
		page.Total++
		if skipped < f.Offset {
			skipped++
			continue
		}
		if f.Limit > 0 && len(page.Entries) >= f.Limit {
			page.HasMore = true
			continue
		}
		page.Entries = append(page.Entries, *e)
	}
	return page, nil
}

func (s *MemoryAuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].StartedAt.Before(cutoff) })
	if i == 0 {
		return 0, nil
	}
	s.entries = append(s.entries[:0:0], s.entries[i:]...)
	return int64(i), nil
}

// Len reports the number of retained entries.
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
