// Package ratelimit implements the per-tenant sliding-window limiter that gates every
// call to the remote platform.
package ratelimit

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// MaxBackoffCap bounds Limits.BackoffCap; 2^16 times any sane base stays well inside
	// time.Duration.
	MaxBackoffCap = 16
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Limits configures a Limiter.
type Limits struct {
	MaxPerMinute int
	MaxPerHour   int
	// BackoffBase and BackoffCap define backoffUntil = now + base * 2^min(failures, cap).
	BackoffBase time.Duration
	BackoffCap  int
}

// Reservation is the answer to CheckAndReserve. An allowed reservation holds a slot in the
// tenant's window until it is released by a failed outcome.
type Reservation struct {
	Allowed bool
	Wait    time.Duration
	at      time.Time
}

// WaitMs returns Wait in whole milliseconds, rounded up so a positive wait never reads as 0.
func (r Reservation) WaitMs() int64 {
	if r.Wait <= 0 {
		return 0
	}
	return int64((r.Wait + time.Millisecond - 1) / time.Millisecond)
}

type tenantState struct {
	mu sync.Mutex
	// stamps holds reservation times from the last hour, ascending.
	stamps              []time.Time
	consecutiveFailures int
	backoffUntil        time.Time
	throttleUntil       time.Time
}

// Limiter tracks request windows and backoff per tenant. Tenants are independent:
// state for one tenant is mutated under that tenant's lock only.
type Limiter struct {
	limits Limits
	clock  Clock

	mu      sync.Mutex
	tenants map[string]*tenantState
}

// New constructs a Limiter. A nil clock uses the system clock.
func New(limits Limits, clock Clock) *Limiter {
	if limits.MaxPerMinute < 1 {
		limits.MaxPerMinute = 1
	}
	if limits.MaxPerHour < limits.MaxPerMinute {
		limits.MaxPerHour = limits.MaxPerMinute
	}
	if limits.BackoffBase <= 0 {
		limits.BackoffBase = time.Second
	}
	limits.BackoffCap = min(max(limits.BackoffCap, 0), MaxBackoffCap)
	if clock == nil {
		clock = systemClock{}
	}
	return &Limiter{limits: limits, clock: clock, tenants: make(map[string]*tenantState)}
}

// Limits returns the configured ceilings.
func (l *Limiter) Limits() Limits { return l.limits }

func (l *Limiter) state(tenant string) *tenantState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.tenants[tenant]
	if !ok {
		st = &tenantState{}
		l.tenants[tenant] = st
	}
	return st
}

// CheckAndReserve reports whether a call for tenant may proceed now. When allowed, the call
// is counted in both windows immediately; otherwise Wait is the time until it may be retried.
func (l *Limiter) CheckAndReserve(tenant string) Reservation {
	now := l.clock.Now()
	st := l.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.trim(now)
	if wait := st.blockedFor(now); wait > 0 {
		return Reservation{Wait: wait}
	}

	var wait time.Duration
	if first := st.firstWithin(now, minuteWindow); len(st.stamps)-first >= l.limits.MaxPerMinute {
		wait = st.stamps[first].Add(minuteWindow).Sub(now)
	}
	if len(st.stamps) >= l.limits.MaxPerHour {
		wait = max(wait, st.stamps[0].Add(hourWindow).Sub(now))
	}
	if wait > 0 {
		return Reservation{Wait: wait}
	}

	st.stamps = append(st.stamps, now)
	return Reservation{Allowed: true, at: now}
}

// RecordOutcome feeds the result of a reserved call back into the tenant's state.
//   - success resets the failure counter and any backoff.
//   - failure with retryAfter > 0 is an explicit throttle: all calls wait until it passes and
//     the reservation keeps counting toward the window.
//   - failure without a hint releases the reservation and applies exponential backoff.
func (l *Limiter) RecordOutcome(tenant string, res Reservation, success bool, retryAfter time.Duration) {
	now := l.clock.Now()
	st := l.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case success:
		st.consecutiveFailures = 0
		st.backoffUntil = time.Time{}
	case retryAfter > 0:
		if until := now.Add(retryAfter); until.After(st.throttleUntil) {
			st.throttleUntil = until
		}
	default:
		if res.Allowed {
			st.release(res.at)
		}
		st.consecutiveFailures++
		st.backoffUntil = now.Add(l.backoff(st.consecutiveFailures))
	}
}

// Release returns an allowed reservation's slot without touching failure state. It is used
// for outcomes that say nothing about the tenant's standing with the remote, such as a
// cancelled call or a request rejected as invalid.
func (l *Limiter) Release(tenant string, res Reservation) {
	if !res.Allowed {
		return
	}
	st := l.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.release(res.at)
}

func (l *Limiter) backoff(failures int) time.Duration {
	exp := min(max(failures, 0), l.limits.BackoffCap)
	mult := time.Duration(1) << uint(exp)
	if l.limits.BackoffBase > math.MaxInt64/mult {
		return math.MaxInt64
	}
	return l.limits.BackoffBase * mult
}

// Status returns a snapshot of tenant's limiter state.
func (l *Limiter) Status(tenant string) model.LimitStatus {
	now := l.clock.Now()
	st := l.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.trim(now)
	out := model.LimitStatus{
		Tenant:              tenant,
		RequestsLastMinute:  len(st.stamps) - st.firstWithin(now, minuteWindow),
		RequestsLastHour:    len(st.stamps),
		MaxPerMinute:        l.limits.MaxPerMinute,
		MaxPerHour:          l.limits.MaxPerHour,
		ConsecutiveFailures: st.consecutiveFailures,
	}
	if st.backoffUntil.After(now) {
		t := st.backoffUntil
		out.BackoffUntil = &t
	}
	if st.throttleUntil.After(now) {
		t := st.throttleUntil
		out.ThrottledUntil = &t
	}
	if wait := st.blockedFor(now); wait > 0 {
		out.Throttled = true
		out.RetryAfterMs = Reservation{Wait: wait}.WaitMs()
	}
	return out
}

// PruneIdle forgets tenants with no calls in the last hour and no pending backoff.
// It returns the number of tenants removed.
func (l *Limiter) PruneIdle() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for tenant, st := range l.tenants {
		st.mu.Lock()
		st.trim(now)
		idle := len(st.stamps) == 0 && st.blockedFor(now) == 0 && st.consecutiveFailures == 0
		st.mu.Unlock()
		if idle {
			delete(l.tenants, tenant)
			removed++
		}
	}
	return removed
}

// trim drops stamps that left the hour window.
func (st *tenantState) trim(now time.Time) {
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(st.stamps) && !st.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.stamps = append(st.stamps[:0], st.stamps[i:]...)
	}
}

// firstWithin returns the index of the first stamp newer than now-window.
func (st *tenantState) firstWithin(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	return sort.Search(len(st.stamps), func(i int) bool { return st.stamps[i].After(cutoff) })
}

func (st *tenantState) blockedFor(now time.Time) time.Duration {
	var wait time.Duration
	if st.throttleUntil.After(now) {
		wait = st.throttleUntil.Sub(now)
	}
	if st.backoffUntil.After(now) {
		wait = max(wait, st.backoffUntil.Sub(now))
	}
	return wait
}

func (st *tenantState) release(at time.Time) {
	for i := len(st.stamps) - 1; i >= 0; i-- {
		if st.stamps[i].Equal(at) {
			st.stamps = append(st.stamps[:i], st.stamps[i+1:]...)
			return
		}
	}
}
