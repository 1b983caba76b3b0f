package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may make another
// request. When it refuses, retryAfter says how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RateLimit rejects requests the limiter refuses with 429. Authenticated
// callers are keyed by owner, everyone else by client IP. Limiter errors let
// the request through.
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait, err := l.Allow(r.Context(), rateLimitKey(r))
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("ratelimit: limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const maxLocalKeys = 4096

type localEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. Use
// RedisLimiter when several API processes must share the budget.
type LocalLimiter struct {
	limit int
	every rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalLimiter allows limit requests per window, refilled evenly.
func NewLocalLimiter(limit int, per time.Duration) *LocalLimiter {
	if limit < 1 {
		limit = 1
	}
	return &LocalLimiter{
		limit:   limit,
		every:   rate.Every(per / time.Duration(limit)),
		now:     time.Now,
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLocalKeys {
			l.prune(now)
		}
		e = &localEntry{lim: rate.NewLimiter(l.every, l.limit)}
		l.entries[key] = e
	}
	e.seen = now
	res := e.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// prune drops buckets that have refilled completely.
func (l *LocalLimiter) prune(now time.Time) {
	for k, e := range l.entries {
		if e.lim.TokensAt(now) >= float64(l.limit) {
			delete(l.entries, k)
		}
	}
}

func rateLimitKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "owner:" + p.OwnerID
	}
	return "ip:" + clientIPForRateLimit(r)
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
