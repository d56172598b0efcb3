package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Events() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

func (p *recordingPublisher) Types(subjectID string) []model.EventType {
	var out []model.EventType
	for _, evt := range p.Events() {
		if evt.SubjectID == subjectID {
			out = append(out, evt.Type)
		}
	}
	return out
}

func (p *recordingPublisher) Last(subjectID string, typ model.EventType) (model.Event, bool) {
	events := p.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].SubjectID == subjectID && events[i].Type == typ {
			return events[i], true
		}
	}
	return model.Event{}, false
}

func (p *recordingPublisher) Count(subjectID string, typ model.EventType) int {
	n := 0
	for _, t := range p.Types(subjectID) {
		if t == typ {
			n++
		}
	}
	return n
}

type staticPinner map[string]bool

func (s staticPinner) IsPinned(kind model.SubjectKind, id string) bool {
	return s[model.SubjectKey(kind, id)]
}

// mapSnapshotStore is a SnapshotStore over a map.
type mapSnapshotStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapSnapshotStore() *mapSnapshotStore {
	return &mapSnapshotStore{data: make(map[string][]byte)}
}

func (s *mapSnapshotStore) Put(_ context.Context, kind model.SubjectKind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[model.SubjectKey(kind, id)] = append([]byte(nil), data...)
	return nil
}

func (s *mapSnapshotStore) Get(_ context.Context, kind model.SubjectKind, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[model.SubjectKey(kind, id)]
	if !ok {
		return nil, apperrors.NotFoundf("snapshot %s not found", id)
	}
	return b, nil
}

func (s *mapSnapshotStore) List(_ context.Context, kind model.SubjectKind) ([]core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := string(kind) + ":"
	var out []core.Snapshot
	for k, v := range s.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, core.Snapshot{ID: k[len(prefix):], Data: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mapSnapshotStore) Delete(_ context.Context, kind model.SubjectKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, model.SubjectKey(kind, id))
	return nil
}

func (s *mapSnapshotStore) Has(kind model.SubjectKind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[model.SubjectKey(kind, id)]
	return ok
}

func decodePayload(t *testing.T, evt model.Event) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &out))
	return out
}

func waitForJob(t *testing.T, reg *JobRegistry, id string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		j, err := reg.Get(id)
		if err != nil {
			return false
		}
		job = j
		return j.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond, "job %s did not reach a terminal state", id)
	return job
}
