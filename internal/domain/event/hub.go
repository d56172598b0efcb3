// Package event implements the in-process subscription hub: subscribers register a subject
// pattern and read matching events from a bounded queue.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// DefaultQueueSize is used when NewHub receives a non-positive size.
const DefaultQueueSize = 256

// Subscription describes a registered subscriber.
type Subscription struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	CreatedAt time.Time `json:"created_at"`
	Queued    int       `json:"queued"`
	Dropped   uint64    `json:"dropped"`
}

// Hub fans published events out to subscriber queues. Publish never blocks on a subscriber:
// a full queue drops its oldest event.
type Hub struct {
	queueSize int

	// publishMu serializes fan-out so every subscriber sees the same publish order.
	publishMu sync.Mutex

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	id        string
	pattern   string
	literal   bool
	matcher   glob.Glob
	createdAt time.Time

	mu      sync.Mutex
	ring    []model.Event
	head    int
	count   int
	dropped uint64
	signal  chan struct{}
	closed  bool
}

// NewHub creates a hub whose subscriber queues hold queueSize events.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{queueSize: queueSize, subs: make(map[string]*subscriber)}
}

// Subscribe registers a glob pattern over "<kind>:<id>" subjects, e.g. "job:*" or
// "deployment:dep-42". "*" matches every subject.
func (h *Hub) Subscribe(pattern string) (Subscription, error) {
	if pattern == "" {
		return Subscription{}, apperrors.ValidationField("pattern", "pattern is required")
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return Subscription{}, apperrors.ValidationField("pattern", fmt.Sprintf("invalid pattern: %v", err))
	}

	s := &subscriber{
		id:        uuid.NewString(),
		pattern:   pattern,
		literal:   glob.QuoteMeta(pattern) == pattern,
		matcher:   g,
		createdAt: time.Now().UTC(),
		ring:      make([]model.Event, h.queueSize),
		signal:    make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()

	return s.describe(), nil
}

// Unsubscribe removes the subscription and wakes any waiter.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if !ok {
		return apperrors.ErrSubscriptionNotFound
	}
	s.close()
	return nil
}

// Publish appends evt to every matching subscriber queue and returns how many matched.
func (h *Hub) Publish(evt model.Event) int {
	subject := evt.Subject()

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	matched := 0
	for _, s := range h.subs {
		if !s.matcher.Match(subject) {
			continue
		}
		s.push(evt)
		matched++
	}
	return matched
}

// Poll removes and returns up to maxEvents queued events (all when maxEvents <= 0).
func (h *Hub) Poll(id string, maxEvents int) ([]model.Event, error) {
	s, err := h.get(id)
	if err != nil {
		return nil, err
	}
	return s.pop(maxEvents), nil
}

// Wait is Poll that blocks until at least one event is queued, the subscription is
// removed, or ctx is done. A done context returns an empty slice, not an error.
func (h *Hub) Wait(ctx context.Context, id string, maxEvents int) ([]model.Event, error) {
	s, err := h.get(id)
	if err != nil {
		return nil, err
	}
	for {
		if evts := s.pop(maxEvents); len(evts) > 0 {
			return evts, nil
		}
		select {
		case <-ctx.Done():
			return []model.Event{}, nil
		case _, ok := <-s.signal:
			if !ok {
				return nil, apperrors.ErrSubscriptionNotFound
			}
		}
	}
}

// Get describes one subscription.
func (h *Hub) Get(id string) (Subscription, error) {
	s, err := h.get(id)
	if err != nil {
		return Subscription{}, err
	}
	return s.describe(), nil
}

// List describes all subscriptions.
func (h *Hub) List() []Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s.describe())
	}
	return out
}

// IsPinned reports whether a subscription names subject literally. Wildcard patterns do
// not pin history, otherwise "job:*" would keep every job forever.
func (h *Hub) IsPinned(kind model.SubjectKind, id string) bool {
	subject := model.SubjectKey(kind, id)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.literal && s.pattern == subject {
			return true
		}
	}
	return false
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (h *Hub) get(id string) (*subscriber, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.subs[id]
	if !ok {
		return nil, apperrors.ErrSubscriptionNotFound
	}
	return s, nil
}

func (s *subscriber) push(evt model.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	size := len(s.ring)
	if s.count == size {
		s.head = (s.head + 1) % size
		s.count--
		s.dropped++
	}
	s.ring[(s.head+s.count)%size] = evt
	s.count++

	select {
	case s.signal <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

func (s *subscriber) pop(maxEvents int) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.count
	if maxEvents > 0 && maxEvents < n {
		n = maxEvents
	}
	out := make([]model.Event, n)
	for i := range n {
		idx := (s.head + i) % len(s.ring)
		out[i] = s.ring[idx]
		s.ring[idx] = model.Event{}
	}
	s.head = (s.head + n) % len(s.ring)
	s.count -= n
	return out
}

func (s *subscriber) describe() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Subscription{
		ID:        s.id,
		Pattern:   s.pattern,
		CreatedAt: s.createdAt,
		Queued:    s.count,
		Dropped:   s.dropped,
	}
}

// close drains the signal channel before closing it so waiters observe the close at once.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for {
		select {
		case <-s.signal:
		default:
			close(s.signal)
			return
		}
	}
}
