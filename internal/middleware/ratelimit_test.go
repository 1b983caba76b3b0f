package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "single ip",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "multiple ips use first",
			header:     " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back",
			header:     "invalid",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote fallback",
			header:     "invalid",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitPerOwner(t *testing.T) {
	h := RateLimit(NewLocalLimiter(2, time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	do := func(owner string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		if owner != "" {
			req = req.WithContext(ContextWithPrincipal(req.Context(), Principal{OwnerID: owner}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("owner-1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do("owner-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	if rec := do("owner-2"); rec.Code != http.StatusOK {
		t.Fatalf("other owner status = %d", rec.Code)
	}
	if rec := do(""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
}

func TestLocalLimiterRefills(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l := NewLocalLimiter(2, time.Minute)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "owner:a"); !ok {
			t.Fatalf("request %d refused", i)
		}
	}
	ok, wait, err := l.Allow(ctx, "owner:a")
	if err != nil || ok {
		t.Fatalf("third request = %v, %v", ok, err)
	}
	if wait < 29*time.Second || wait > 31*time.Second {
		t.Fatalf("wait = %v, want about 30s", wait)
	}
	clock = clock.Add(31 * time.Second)
	if ok, _, _ := l.Allow(ctx, "owner:a"); !ok {
		t.Fatal("token should have refilled")
	}
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ttls == nil {
		f.ttls = map[string]time.Duration{}
	}
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounter) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.ttls[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(ttl, nil)
}

func TestRedisLimiterSharedWindow(t *testing.T) {
	counter := &fakeCounter{}
	// Two limiters over one counter behave like two API processes.
	a := NewRedisLimiter(counter, 2, time.Minute)
	b := NewRedisLimiter(counter, 2, time.Minute)
	ctx := context.Background()

	if ok, _, err := a.Allow(ctx, "owner:u1"); !ok || err != nil {
		t.Fatalf("first = %v, %v", ok, err)
	}
	if ok, _, err := b.Allow(ctx, "owner:u1"); !ok || err != nil {
		t.Fatalf("second = %v, %v", ok, err)
	}
	ok, wait, err := a.Allow(ctx, "owner:u1")
	if ok || err != nil || wait != time.Minute {
		t.Fatalf("third = %v, %v, %v", ok, wait, err)
	}
	if counter.ttls[rateKeyPrefix+"owner:u1"] != time.Minute {
		t.Fatalf("window expiry not set: %v", counter.ttls)
	}
	if ok, _, _ := b.Allow(ctx, "owner:u2"); !ok {
		t.Fatal("other owner should have its own window")
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	l := NewRedisLimiter(&fakeCounter{err: errors.New("connection refused")}, 1, time.Minute)
	h := RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
}
