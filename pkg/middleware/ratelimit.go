package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/roomdesk/pkg/httputil"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// RateLimitConfig sets how many requests one key may make per fixed window.
// The window opens with the key's first request.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// LoginRateLimitConfig is the default for the credential endpoints
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// Decision is the outcome of counting one request
type Decision struct {
	Allowed bool
	// RetryAfter is the time left until the key's window closes
	RetryAfter time.Duration
}

// Limiter counts a request against key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is the in-process Limiter. Counters are not shared between
// replicas; use DistributedRateLimiter for that.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
}

type fixedWindow struct {
	opened time.Time
	hits   int
}

// NewRateLimiter creates an in-memory limiter. A nil config uses the login
// defaults.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = LoginRateLimitConfig()
	}
	return &RateLimiter{
		limit:   config.RequestsPerWindow,
		window:  config.WindowDuration,
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

// Allow implements Limiter. It never fails.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.current(key, now)
	if w == nil {
		w = &fixedWindow{opened: now}
		rl.windows[key] = w
	}
	w.hits++

	return Decision{
		Allowed:    w.hits <= rl.limit,
		RetryAfter: w.opened.Add(rl.window).Sub(now),
	}, nil
}

// Remaining reports how many requests key may still make in its window
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.current(key, rl.now())
	if w == nil {
		return rl.limit
	}
	return max(rl.limit-w.hits, 0)
}

// current returns key's open window, or nil once it has closed. Callers hold mu.
func (rl *RateLimiter) current(key string, now time.Time) *fixedWindow {
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.opened) >= rl.window {
		return nil
	}
	return w
}

// Sweep forgets closed windows and returns how many were dropped
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for key := range rl.windows {
		if rl.current(key, now) == nil {
			delete(rl.windows, key)
			dropped++
		}
	}
	return dropped
}

// StartCleanup sweeps once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware throttles a route per client IP
type RateLimitMiddleware struct {
	limiter Limiter
	route   string
	metrics *observability.Metrics
	trusted []netip.Prefix
}

// NewRateLimitMiddleware creates a rate limit middleware. route labels the
// rate_limited metric and namespaces the limiter keys.
func NewRateLimitMiddleware(limiter Limiter, route string, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		route:   route,
		metrics: metrics,
	}
}

// WithTrustedProxies makes the middleware read X-Forwarded-For and X-Real-IP
// when, and only when, the TCP peer falls inside one of proxies.
func (m *RateLimitMiddleware) WithTrustedProxies(proxies []netip.Prefix) *RateLimitMiddleware {
	m.trusted = proxies
	return m
}

// Handler answers 429 once the client's window is spent. Limiter errors fail open.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := m.limiter.Allow(r.Context(), m.route+":ip:"+clientIP(r, m.trusted))
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			m.metrics.ObserveRateLimited(m.route)
			w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
			httputil.WriteTooManyRequests(w, "Too Many Attempts.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up to whole seconds, never below one
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(int(math.Ceil(d.Seconds())), 1))
}

// clientIP is the TCP peer unless that peer is a trusted proxy. Behind a
// trusted proxy it is the right-most X-Forwarded-For hop that is not itself
// trusted, falling back to X-Real-IP.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
		if first := strings.TrimSpace(hops[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
