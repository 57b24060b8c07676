package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestThrottle_Middleware(t *testing.T) {
	clock := newTestClock()
	throttle := NewRequestThrottle(6*time.Second, 3)
	throttle.now = clock.Now

	handler := throttle.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(address string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/telegram", nil)
		req.Header.Set("X-Forwarded-For", address)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, send("203.0.113.1").Code)
	}
	rec := send("203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "6", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("203.0.113.2").Code)

	clock.Advance(6 * time.Second)
	assert.Equal(t, http.StatusNoContent, send("203.0.113.1").Code)
}

func TestRequestThrottle_PrunesIdleEntries(t *testing.T) {
	clock := newTestClock()
	throttle := NewRequestThrottle(time.Second, 1)
	throttle.now = clock.Now
	throttle.maxMemory = 2

	throttle.allow("a")
	throttle.allow("b")
	clock.Advance(time.Minute)
	throttle.allow("c")

	assert.Len(t, throttle.entries, 1)
}
