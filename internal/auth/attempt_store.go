package auth

import (
	"context"
	"sync"
	"time"
)

// AttemptStore persists per-address failure counts. Implementations must be
// safe for concurrent use.
type AttemptStore interface {
	Get(ctx context.Context, address string) (LoginAttempt, bool, error)
	Put(ctx context.Context, attempt LoginAttempt) error
	Delete(ctx context.Context, address string) error
	// Sweep removes records whose lock has expired or whose unlocked counter
	// went idle, and reports how many were dropped.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryAttemptStore keeps attempts in process memory. State is lost on restart.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]LoginAttempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]LoginAttempt)}
}

func (s *MemoryAttemptStore) Get(_ context.Context, address string) (LoginAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[address]
	return attempt, ok, nil
}

func (s *MemoryAttemptStore) Put(_ context.Context, attempt LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[attempt.Address] = attempt
	return nil
}

func (s *MemoryAttemptStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, address)
	return nil
}

func (s *MemoryAttemptStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for address, attempt := range s.attempts {
		if attempt.expiredAt(now) {
			delete(s.attempts, address)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
