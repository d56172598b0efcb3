package ratelimit

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(perMinute, perHour int) (*Limiter, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(testutil.TestTime())
	return New(Limits{
		MaxPerMinute: perMinute,
		MaxPerHour:   perHour,
		BackoffBase:  time.Second,
		BackoffCap:   4,
	}, clock), clock
}

func TestCheckAndReserve_MinuteCeiling(t *testing.T) {
	l, clock := newTestLimiter(2, 100)

	var allowed []bool
	var last Reservation
	for range 3 {
		last = l.CheckAndReserve("tenant-a")
		allowed = append(allowed, last.Allowed)
		clock.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, []bool{true, true, false}, allowed)
	assert.Positive(t, last.WaitMs())
	assert.LessOrEqual(t, last.Wait, time.Minute)

	t.Run("other tenants are independent", func(t *testing.T) {
		assert.True(t, l.CheckAndReserve("tenant-b").Allowed)
	})

	t.Run("slot frees when the oldest stamp leaves the window", func(t *testing.T) {
		clock.Advance(last.Wait)
		assert.True(t, l.CheckAndReserve("tenant-a").Allowed)
	})
}

func TestCheckAndReserve_HourCeiling(t *testing.T) {
	l, clock := newTestLimiter(10, 12)

	for i := range 12 {
		require.True(t, l.CheckAndReserve("t").Allowed, "call %d", i)
		clock.Advance(10 * time.Second)
	}
	clock.Advance(2 * time.Minute)

	res := l.CheckAndReserve("t")
	require.False(t, res.Allowed)
	first := testutil.TestTime()
	assert.Equal(t, first.Add(time.Hour).Sub(clock.Now()), res.Wait)
}

func TestRecordOutcome_Throttle(t *testing.T) {
	l, clock := newTestLimiter(100, 1000)

	res := l.CheckAndReserve("t")
	require.True(t, res.Allowed)
	l.RecordOutcome("t", res, false, 3*time.Second)

	blocked := l.CheckAndReserve("t")
	assert.False(t, blocked.Allowed)
	assert.Equal(t, 3*time.Second, blocked.Wait)

	st := l.Status("t")
	assert.True(t, st.Throttled)
	assert.Equal(t, int64(3000), st.RetryAfterMs)
	assert.Equal(t, 1, st.RequestsLastMinute, "explicit rejections count toward the window")
	assert.Zero(t, st.ConsecutiveFailures)

	clock.Advance(3 * time.Second)
	assert.True(t, l.CheckAndReserve("t").Allowed)
}

func TestRecordOutcome_FailureBackoff(t *testing.T) {
	l, clock := newTestLimiter(100, 1000)

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 16 * time.Second}
	for i, want := range expected {
		res := l.CheckAndReserve("t")
		require.True(t, res.Allowed, "attempt %d", i)
		l.RecordOutcome("t", res, false, 0)

		blocked := l.CheckAndReserve("t")
		require.False(t, blocked.Allowed)
		assert.Equal(t, want, blocked.Wait, "attempt %d", i)
		clock.Advance(want)
	}

	st := l.Status("t")
	assert.Equal(t, 5, st.ConsecutiveFailures)
	assert.Zero(t, st.RequestsLastMinute, "failed calls release their reservation")

	res := l.CheckAndReserve("t")
	require.True(t, res.Allowed)
	l.RecordOutcome("t", res, true, 0)

	st = l.Status("t")
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.Throttled)
	assert.Nil(t, st.BackoffUntil)
	assert.Equal(t, 1, st.RequestsLastMinute)
}

func TestNew_ClampsBackoffCap(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		wantCap  int
		wantWait time.Duration
	}{
		{name: "negative cap means no growth", cap: -5, wantCap: 0, wantWait: time.Second},
		{name: "in range", cap: 3, wantCap: 3, wantWait: 2 * time.Second},
		{name: "oversized cap is bounded", cap: 1000, wantCap: MaxBackoffCap, wantWait: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewFakeClock(testutil.TestTime())
			l := New(Limits{MaxPerMinute: 10, BackoffBase: time.Second, BackoffCap: tt.cap}, clock)
			assert.Equal(t, tt.wantCap, l.Limits().BackoffCap)

			res := l.CheckAndReserve("t")
			require.True(t, res.Allowed)
			l.RecordOutcome("t", res, false, 0)

			blocked := l.CheckAndReserve("t")
			require.False(t, blocked.Allowed)
			assert.Equal(t, tt.wantWait, blocked.Wait)
		})
	}
}

func TestBackoff_Saturates(t *testing.T) {
	l := New(Limits{MaxPerMinute: 1, BackoffBase: 1 << 62, BackoffCap: MaxBackoffCap}, nil)
	assert.Equal(t, time.Duration(math.MaxInt64), l.backoff(MaxBackoffCap))
	assert.Positive(t, l.backoff(1000))
}

func TestFailuresDoNotStarveQuota(t *testing.T) {
	l, clock := newTestLimiter(2, 100)

	res := l.CheckAndReserve("t")
	require.True(t, res.Allowed)
	l.RecordOutcome("t", res, false, 0)
	clock.Advance(2 * time.Second)

	assert.True(t, l.CheckAndReserve("t").Allowed)
	assert.True(t, l.CheckAndReserve("t").Allowed)
	assert.False(t, l.CheckAndReserve("t").Allowed)
}

func TestWindowNeverExceedsCeiling(t *testing.T) {
	const perMinute = 5
	l, clock := newTestLimiter(perMinute, 10000)
	rng := rand.New(rand.NewPCG(7, 11))

	var granted []time.Time
	for range 2000 {
		clock.Advance(time.Duration(rng.IntN(4000)) * time.Millisecond)
		res := l.CheckAndReserve("t")
		if !res.Allowed {
			assert.Positive(t, res.Wait)
			continue
		}
		granted = append(granted, clock.Now())
		l.RecordOutcome("t", res, true, 0)
	}

	require.NotEmpty(t, granted)
	for i := range granted {
		inWindow := 0
		for j := i; j < len(granted) && granted[j].Sub(granted[i]) < time.Minute; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, perMinute)
	}
}

func TestPruneIdle(t *testing.T) {
	l, clock := newTestLimiter(10, 100)
	l.CheckAndReserve("busy")
	res := l.CheckAndReserve("failing")
	l.RecordOutcome("failing", res, false, 0)

	clock.Advance(61 * time.Minute)
	assert.Equal(t, 1, l.PruneIdle(), "only the tenant without failures is idle")
}

func TestReservation_WaitMsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(1), Reservation{Wait: time.Microsecond}.WaitMs())
	assert.Equal(t, int64(0), Reservation{}.WaitMs())
	assert.Equal(t, int64(1500), Reservation{Wait: 1500 * time.Millisecond}.WaitMs())
}

func TestRelease(t *testing.T) {
	l, _ := newTestLimiter(1, 100)

	res := l.CheckAndReserve("tenant-a")
	require.True(t, res.Allowed)
	l.Release("tenant-a", res)

	st := l.Status("tenant-a")
	assert.Zero(t, st.RequestsLastMinute)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.True(t, l.CheckAndReserve("tenant-a").Allowed)

	// Denied reservations hold no slot.
	l.Release("tenant-a", l.CheckAndReserve("tenant-a"))
	assert.Equal(t, 1, l.Status("tenant-a").RequestsLastMinute)
}
