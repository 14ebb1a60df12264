package api

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// BearerAuth rejects requests without the configured token. Controller
// scenarios that cannot set headers may pass it as the apikey query
// parameter instead.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validToken(r, token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validToken(r *http.Request, token string) bool {
	got := r.URL.Query().Get("apikey")
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		got = auth[len(prefix):]
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// clientLimiters hands out one token bucket per client address.
type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func (c *clientLimiters) get(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.buckets[client]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.buckets[client] = l
	}
	return l
}

// RateLimit allows rps requests per second per client address, with bursts
// of burst requests. A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiters := &clientLimiters{buckets: make(map[string]*rate.Limiter), limit: rate.Limit(rps), burst: burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				client = host
			}
			if !limiters.get(client).Allow() {
				slog.Warn("too many requests", "client", client, "path", r.URL.Path)
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
