package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitAllowsBurstThenRejects(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	h := RateLimit(RateLimitOptions{RPS: 0.01, Burst: 2})(next)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/intense/10", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected request %d within burst to pass, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/intense/10", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("expected positive Retry-After header, got %q", got)
	}
	if calls != 2 {
		t.Fatalf("expected rejected request not to reach the handler, got %d calls", calls)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	h := RateLimit(RateLimitOptions{})(next)
	for i := 0; i < 5; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/intense/10", nil))
	}
	if calls != 5 {
		t.Fatalf("expected limiter to be disabled, got %d calls", calls)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	if got := retryAfterSeconds(10 * time.Millisecond); got != 1 {
		t.Fatalf("expected minimum of 1s, got %d", got)
	}
	if got := retryAfterSeconds(2500 * time.Millisecond); got != 3 {
		t.Fatalf("expected rounding up to 3s, got %d", got)
	}
}
