package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"expense-tracker/internal/observability"
)

const (
	DefaultMaxAttempts   = 5
	DefaultLockDuration  = 15 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

type LockStatus struct {
	Locked      bool
	LockedUntil time.Time
	RetryAfter  time.Duration
	Failures    int
}

// LoginRateLimiter locks an address out after consecutive TOTP failures.
// Check and RecordOutcome are not atomic with each other; two racing requests
// from one address may both be evaluated before either is counted.
type LoginRateLimiter struct {
	store        AttemptStore
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
	logger       *observability.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewLoginRateLimiter(store AttemptStore, maxAttempts int, lockDuration time.Duration) *LoginRateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}

	return &LoginRateLimiter{
		store:        store,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		now:          time.Now,
		logger:       observability.NewNopLogger(),
	}
}

func (l *LoginRateLimiter) WithClock(now func() time.Time) *LoginRateLimiter {
	l.now = now
	return l
}

func (l *LoginRateLimiter) WithLogger(logger *observability.Logger) *LoginRateLimiter {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Check reports whether address is currently locked. An unknown address is never locked.
func (l *LoginRateLimiter) Check(ctx context.Context, address string) (LockStatus, error) {
	attempt, ok, err := l.store.Get(ctx, address)
	if err != nil || !ok {
		return LockStatus{}, err
	}
	return l.status(attempt), nil
}

// RecordOutcome applies the result of one code check. Success clears the record;
// a failure increments the counter and locks once the maximum is reached.
func (l *LoginRateLimiter) RecordOutcome(ctx context.Context, address string, success bool) (LockStatus, error) {
	if success {
		return LockStatus{}, l.store.Delete(ctx, address)
	}

	now := l.now().UTC()
	attempt, ok, err := l.store.Get(ctx, address)
	if err != nil {
		return LockStatus{}, err
	}
	if ok && attempt.lockedAt(now) {
		return l.status(attempt), nil
	}
	if !ok || attempt.expiredAt(now) {
		attempt = LoginAttempt{Address: address}
	}

	attempt.FailureCount++
	attempt.LastFailureAt = now
	if attempt.FailureCount >= l.maxAttempts {
		attempt.Locked = true
		attempt.LockedUntil = now.Add(l.lockDuration)
	}
	if err := l.store.Put(ctx, attempt); err != nil {
		return LockStatus{}, err
	}

	if attempt.Locked {
		observability.Lockouts.Inc()
		l.logger.Warn("login_address_locked", map[string]any{
			"address":      address,
			"failures":     attempt.FailureCount,
			"locked_until": attempt.LockedUntil.Format(time.RFC3339),
		})
	}

	return l.status(attempt), nil
}

// Sweep drops records whose lock has ended and idle unlocked counters.
func (l *LoginRateLimiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now().UTC())
}

// StartSweeper runs Sweep every interval until Stop is called.
func (l *LoginRateLimiter) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				removed, err := l.Sweep(ctx)
				cancel()
				if err != nil {
					l.logger.Error("lockout_sweep_failed", map[string]any{"error": err.Error()})
					continue
				}
				if removed > 0 {
					l.logger.Info("expired_login_attempts_removed", map[string]any{"removed": removed})
				}
			}
		}
	}()
}

func (l *LoginRateLimiter) Stop() {
	if l.stop == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
}

func (l *LoginRateLimiter) status(attempt LoginAttempt) LockStatus {
	now := l.now().UTC()
	status := LockStatus{Failures: attempt.FailureCount}
	if attempt.lockedAt(now) {
		status.Locked = true
		status.LockedUntil = attempt.LockedUntil
		status.RetryAfter = attempt.LockedUntil.Sub(now)
	}
	return status
}

// RetryAfterMinutes rounds a remaining lock duration up to whole minutes, never below one.
func RetryAfterMinutes(remaining time.Duration) int {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// ClientAddress prefers proxy headers over the socket address. Both headers
// are client controlled unless a trusted proxy overwrites them.
func ClientAddress(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
