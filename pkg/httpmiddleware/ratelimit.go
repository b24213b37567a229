package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests a caller may make per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc identifies the caller. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Exempt skips limiting for matching requests, such as health probes.
	Exempt func(*http.Request) bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// counter approximates a sliding window with the counts of the current and
// the previous fixed window.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

// advance moves c to the fixed window containing now.
func (c *counter) advance(now time.Time, size time.Duration) {
	start := now.Truncate(size)
	switch {
	case start.Equal(c.start):
	case start.Sub(c.start) == size:
		c.prev, c.curr = c.curr, 0
	default:
		c.prev, c.curr = 0, 0
	}
	c.start = start
}

// estimate is the number of requests seen in the window ending at now.
func (c *counter) estimate(now time.Time, size time.Duration) float64 {
	overlap := 1 - float64(now.Sub(c.start))/float64(size)
	return c.prev*max(overlap, 0) + c.curr
}

type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type limiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &limiter{cfg: cfg, counters: make(map[string]*counter)}
}

// take counts one request for key unless the budget is spent.
func (l *limiter) take(key string, now time.Time) decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		c = &counter{}
		l.counters[key] = c
	}
	c.advance(now, l.cfg.Window)

	d := decision{reset: c.start.Add(l.cfg.Window)}
	used := c.estimate(now, l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return d
	}
	c.curr++
	d.allowed = true
	d.remaining = max(l.cfg.Max-int(math.Ceil(used+1)), 0)
	return d
}

// sweep drops counters that no longer influence any decision.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.cfg.Now())
		}
	}
}

// RateLimit limits every caller to cfg.Max requests per sliding window.
// Responses carry X-RateLimit-* headers; rejected requests get a 429 with
// Retry-After and a JSON error body.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with a goroutine that forgets idle
// callers until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.sweepEvery(ctx, 2*l.cfg.Window)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.Exempt != nil && l.cfg.Exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		now := l.cfg.Now()
		d := l.take(l.cfg.KeyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if !d.allowed {
			wait := max(d.reset.Sub(now), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit", "demasiadas solicitudes, intente más tarde")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthProbe matches the liveness and readiness endpoints.
func HealthProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// ActorKey limits callers by the X-Actor-ID asserted by the gateway and
// anonymous callers by client IP.
func ActorKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Actor-ID")); id != "" {
		return "actor:" + id
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSONError writes the error body shape used by the API handlers.
func writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
