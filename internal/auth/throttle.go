package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequestThrottle applies a token bucket per client address.
type RequestThrottle struct {
	mu        sync.Mutex
	every     time.Duration
	burst     int
	entries   map[string]*throttleEntry
	maxMemory int
	now       func() time.Time
}

func NewRequestThrottle(every time.Duration, burst int) *RequestThrottle {
	if every <= 0 {
		every = 6 * time.Second
	}
	if burst <= 0 {
		burst = 10
	}

	return &RequestThrottle{
		every:     every,
		burst:     burst,
		entries:   make(map[string]*throttleEntry),
		maxMemory: 5000,
		now:       time.Now,
	}
}

func (t *RequestThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(ClientAddress(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(t.every.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *RequestThrottle) allow(address string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[address]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.entries[address] = entry
	}
	entry.lastSeen = now

	if len(t.entries) > t.maxMemory {
		idle := t.every * time.Duration(t.burst)
		for key, value := range t.entries {
			if now.Sub(value.lastSeen) > idle {
				delete(t.entries, key)
			}
		}
	}

	return entry.limiter.AllowN(now, 1)
}
