// Package ratelimit implements the orchestrator's sliding-window admission check.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	dErrors "cepfinder/pkg/domain-errors"
)

// Options configures a sliding window admitting Requests calls per Per.
type Options struct {
	Requests int
	Per      time.Duration
}

// Enabled reports whether the options describe a usable limit.
func (o Options) Enabled() bool {
	return o.Requests > 0 && o.Per > 0
}

// LimitError is returned when a call is denied. It is never retried.
type LimitError struct {
	Requests   int
	Per        time.Duration
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s", e.Requests, e.Per, e.RetryAfter)
}

// DomainCode maps denials to rate limited at the transport boundary.
func (e *LimitError) DomainCode() dErrors.Code {
	return dErrors.CodeRateLimited
}

// Limiter keeps the timestamps of admitted calls within the window.
// Denied calls are not recorded.
type Limiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
	window     time.Duration
	now        func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. Options must be Enabled.
func New(opts Options, extra ...Option) (*Limiter, error) {
	if !opts.Enabled() {
		return nil, fmt.Errorf("rate limit requires positive requests and window, got %d per %s", opts.Requests, opts.Per)
	}
	l := &Limiter{
		timestamps: make([]time.Time, 0, opts.Requests),
		limit:      opts.Requests,
		window:     opts.Per,
		now:        time.Now,
	}
	for _, opt := range extra {
		opt(l)
	}
	return l, nil
}

// Allow admits one call or returns a *LimitError.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)
	if len(l.timestamps) >= l.limit {
		return &LimitError{
			Requests:   l.limit,
			Per:        l.window,
			RetryAfter: l.timestamps[0].Add(l.window).Sub(now),
		}
	}
	l.timestamps = append(l.timestamps, now)
	return nil
}

// Remaining returns how many calls would currently be admitted.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(l.now())
	return l.limit - len(l.timestamps)
}

// Reset forgets every recorded call.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = l.timestamps[:0]
}

// cleanup drops timestamps at or before now-window.
// Must be called while holding l.mu.
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.timestamps); i++ {
		if l.timestamps[i].After(cutoff) {
			break
		}
	}
	l.timestamps = l.timestamps[i:]
}
