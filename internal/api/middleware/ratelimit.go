package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimiter counts requests per key over a sliding window.
type RateLimiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop
// when the limiter is no longer used.
func NewRateLimiter(requests int, windowSeconds int) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	rl := &RateLimiter{
		requests: requests,
		window:   time.Duration(windowSeconds) * time.Second,
		now:      time.Now,
		clients:  make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.window)
			for key, stamps := range rl.clients {
				if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow records a request for key. It reports whether the request fits in
// the window, how many remain and when the window frees up.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.window)

	stamps := rl.clients[key]
	i := 0
	for i < len(stamps) && !stamps[i].After(windowStart) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= rl.requests {
		rl.clients[key] = stamps
		return false, 0, stamps[0].Add(rl.window)
	}

	stamps = append(stamps, now)
	rl.clients[key] = stamps
	return true, rl.requests - len(stamps), now.Add(rl.window)
}

func (rl *RateLimiter) handler(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetTime := rl.Allow(key(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds())+1, 10))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ByIP limits by client address. Public endpoints such as invitation
// redemption use it.
func (rl *RateLimiter) ByIP() func(http.Handler) http.Handler {
	return rl.handler(getClientIP)
}

// ByPrincipal limits authenticated callers by principal id and falls back
// to the client address.
func (rl *RateLimiter) ByPrincipal() func(http.Handler) http.Handler {
	return rl.handler(func(r *http.Request) string {
		if id := GetPrincipalID(r.Context()); id != uuid.Nil {
			return "principal:" + id.String()
		}
		return getClientIP(r)
	})
}

// RateLimit returns a per-IP middleware backed by a fresh limiter.
func RateLimit(requests int, windowSeconds int) func(http.Handler) http.Handler {
	return NewRateLimiter(requests, windowSeconds).ByIP()
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
