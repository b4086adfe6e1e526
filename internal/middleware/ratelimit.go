package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// limiter tracks fixed-window request counts per client IP.
type limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	limit     int
	per       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

func newLimiter(limit int, per time.Duration, now func() time.Time) *limiter {
	if now == nil {
		now = time.Now
	}
	return &limiter{
		windows: make(map[string]*window),
		limit:   limit,
		per:     per,
		now:     now,
	}
}

// allow reports whether the key may proceed, and the time the current
// window resets when it may not.
func (l *limiter) allow(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		for k, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(l.per)
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		w = &window{reset: now.Add(l.per)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.reset
	}
	w.count++
	return true, time.Time{}
}

// RateLimit caps requests per client IP within a fixed window. Model calls
// are metered per user further down, so the limiter only shields the API
// from bursty or misbehaving clients.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	l := newLimiter(limit, per, nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, reset := l.allow(ClientIP(r))
			if !ok {
				retry := int(time.Until(reset).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
