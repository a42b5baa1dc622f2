package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cepfinder/internal/platform/metrics"
	dErrors "cepfinder/pkg/domain-errors"
	"cepfinder/pkg/platform/httputil"
	"cepfinder/pkg/requestcontext"
)

// ClientLimiters keeps one token bucket per client key and forgets idle keys.
type ClientLimiters struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*ClientLimiters)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(c *ClientLimiters) { c.idleTTL = d }
}

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(c *ClientLimiters) { c.now = now }
}

func NewClientLimiters(rps float64, burst int, opts ...LimiterOption) *ClientLimiters {
	c := &ClientLimiters{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reserve takes one token for key. When none is available it returns false
// and how long until one will be.
func (c *ClientLimiters) Reserve(key string) (bool, time.Duration) {
	now := c.now()
	lim := c.get(key, now)
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (c *ClientLimiters) get(key string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(c.rps, c.burst)
	c.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops keys not seen within the idle TTL.
func (c *ClientLimiters) Cleanup() {
	cutoff := c.now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of tracked keys.
func (c *ClientLimiters) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (c *ClientLimiters) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}

// Throttle rejects requests over the per-client budget with 429 and a
// Retry-After header. It expects ClientIP to run first.
func Throttle(limiters *ClientLimiters, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := requestcontext.ClientIP(ctx)
			if key == "" {
				key = ClientIPFromRequest(r)
			}

			ok, wait := limiters.Reserve(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			if m != nil {
				m.IncrementThrottled()
			}
			logger.WarnContext(ctx, "client throttled",
				"request_id", requestcontext.RequestID(ctx),
				"client_ip", key,
				"retry_after_ms", wait.Milliseconds(),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests"))
		})
	}
}
