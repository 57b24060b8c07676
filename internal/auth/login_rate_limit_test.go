package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(clock *testClock) (*LoginRateLimiter, *MemoryAttemptStore) {
	store := NewMemoryAttemptStore()
	return NewLoginRateLimiter(store, 5, 15*time.Minute).WithClock(clock.Now), store
}

func TestLoginRateLimiter_LocksAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, _ := newTestLimiter(clock)

	for i := 1; i <= 4; i++ {
		status, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
		require.NoError(t, err)
		assert.False(t, status.Locked, "failure %d", i)
		assert.Equal(t, i, status.Failures)
	}

	status, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, clock.Now().Add(15*time.Minute), status.LockedUntil)

	status, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, 15, RetryAfterMinutes(status.RetryAfter))

	other, err := limiter.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.False(t, other.Locked)
}

func TestLoginRateLimiter_SuccessClearsFailures(t *testing.T) {
	ctx := context.Background()
	limiter, store := newTestLimiter(newTestClock())

	for i := 0; i < 4; i++ {
		_, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
		require.NoError(t, err)
	}
	_, err := limiter.RecordOutcome(ctx, "1.2.3.4", true)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	status, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failures)
	assert.False(t, status.Locked)
}

func TestLoginRateLimiter_LockExpires(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, _ := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		_, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
		require.NoError(t, err)
	}

	clock.Advance(14*time.Minute + 30*time.Second)
	status, err := limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, 1, RetryAfterMinutes(status.RetryAfter))

	clock.Advance(30 * time.Second)
	status, err = limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// A failure after the lock ends starts a fresh count.
	status, err = limiter.RecordOutcome(ctx, "1.2.3.4", false)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failures)
	assert.False(t, status.Locked)
}

func TestLoginRateLimiter_FailureWhileLockedDoesNotExtend(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, _ := newTestLimiter(clock)

	var first LockStatus
	for i := 0; i < 5; i++ {
		status, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
		require.NoError(t, err)
		first = status
	}

	clock.Advance(time.Minute)
	status, err := limiter.RecordOutcome(ctx, "1.2.3.4", false)
	require.NoError(t, err)
	assert.Equal(t, first.LockedUntil, status.LockedUntil)
}

func TestLoginRateLimiter_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, store := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		_, err := limiter.RecordOutcome(ctx, "locked", false)
		require.NoError(t, err)
	}
	_, err := limiter.RecordOutcome(ctx, "counting", false)
	require.NoError(t, err)

	removed, err := limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	clock.Advance(16 * time.Minute)
	removed, err = limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func TestLoginRateLimiter_IdleCounterIsForgotten(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, store := newTestLimiter(clock)

	for i := 0; i < 4; i++ {
		_, err := limiter.RecordOutcome(ctx, "10.0.0.9", false)
		require.NoError(t, err)
	}

	clock.Advance(23 * time.Hour)
	removed, err := limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	clock.Advance(2 * time.Hour)
	removed, err = limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Len())
}

func TestLoginRateLimiter_IdleCounterRestartsWithoutSweep(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	limiter, _ := newTestLimiter(clock)

	for i := 0; i < 4; i++ {
		_, err := limiter.RecordOutcome(ctx, "10.0.0.9", false)
		require.NoError(t, err)
	}

	clock.Advance(25 * time.Hour)
	status, err := limiter.RecordOutcome(ctx, "10.0.0.9", false)
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.Equal(t, 1, status.Failures)
}

func TestLoginRateLimiter_StartStopSweeper(t *testing.T) {
	limiter, _ := newTestLimiter(newTestClock())

	limiter.StartSweeper(time.Millisecond)
	limiter.StartSweeper(time.Millisecond)
	limiter.Stop()
	limiter.Stop()
}

func TestRetryAfterMinutes(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{remaining: 0, want: 1},
		{remaining: time.Second, want: 1},
		{remaining: time.Minute, want: 1},
		{remaining: time.Minute + time.Second, want: 2},
		{remaining: 15 * time.Minute, want: 15},
		{remaining: 14*time.Minute + time.Millisecond, want: 15},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryAfterMinutes(tt.remaining), tt.remaining.String())
	}
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded first hop", forwarded: "203.0.113.7, 10.0.0.1", realIP: "198.51.100.1", remoteAddr: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "real ip", realIP: "198.51.100.1", remoteAddr: "10.0.0.2:5555", want: "198.51.100.1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.2:5555", want: "10.0.0.2"},
		{name: "remote addr unparsable", remoteAddr: "pipe", want: "pipe"},
		{name: "nothing", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/auth/login", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientAddress(r))
		})
	}
}
