package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func doRequest(t *testing.T, handler http.Handler, ip string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/oracle/price", nil)
	req.Header.Set("X-Real-IP", ip)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2})
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		if code := doRequest(t, handler, "10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d: expected OK, got %d", i, code)
		}
	}
	if code := doRequest(t, handler, "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle after burst, got %d", code)
	}
	// Other clients keep their own bucket.
	if code := doRequest(t, handler, "10.0.0.2"); code != http.StatusOK {
		t.Fatalf("second client should not be throttled, got %d", code)
	}
}

func TestRateLimiterEvictsOnLastSeen(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})

	limiter.obtainLimiter("10.0.0.1")
	time.Sleep(time.Millisecond)
	idle := time.Now()
	limiter.obtainLimiter("10.0.0.2")

	// A cutoff between the two requests only evicts the idle visitor; the
	// active one keeps its drained bucket.
	limiter.evictIdle(idle)
	limiter.mu.Lock()
	_, idleKept := limiter.visitors["10.0.0.1"]
	_, activeKept := limiter.visitors["10.0.0.2"]
	limiter.mu.Unlock()
	if idleKept {
		t.Fatal("idle visitor should be evicted")
	}
	if !activeKept {
		t.Fatal("active visitor must survive the sweep")
	}

	// Another request refreshes last-seen past the old cutoff.
	limiter.obtainLimiter("10.0.0.2")
	limiter.evictIdle(time.Now().Add(-time.Millisecond))
	limiter.mu.Lock()
	_, stillThere := limiter.visitors["10.0.0.2"]
	limiter.mu.Unlock()
	if !stillThere {
		t.Fatal("recently seen visitor must not be evicted")
	}
}
