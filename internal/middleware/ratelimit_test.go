package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterFixedWindow(t *testing.T) {
	current := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	l := newLimiter(2, time.Minute, func() time.Time { return current })

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("203.0.113.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, reset := l.allow("203.0.113.1")
	if ok {
		t.Fatal("third request in window should be rejected")
	}
	if want := current.Add(time.Minute); !reset.Equal(want) {
		t.Fatalf("reset = %v, want %v", reset, want)
	}

	// Another client has its own window.
	if ok, _ := l.allow("198.51.100.2"); !ok {
		t.Fatal("distinct client should be allowed")
	}

	// The window reopens after it expires.
	current = current.Add(time.Minute + time.Second)
	if ok, _ := l.allow("203.0.113.1"); !ok {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestLimiterEvictsExpiredWindows(t *testing.T) {
	current := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	l := newLimiter(5, time.Minute, func() time.Time { return current })

	for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		if ok, _ := l.allow(ip); !ok {
			t.Fatalf("allow(%s) refused", ip)
		}
	}

	current = current.Add(2 * time.Minute)
	if ok, _ := l.allow("198.51.100.9"); !ok {
		t.Fatal("fresh client refused")
	}

	l.mu.Lock()
	n := len(l.windows)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("windows = %d, want only the live client after the sweep", n)
	}
}

func TestRateLimitResponds429(t *testing.T) {
	handler := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// A different client is unaffected.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.2:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}
