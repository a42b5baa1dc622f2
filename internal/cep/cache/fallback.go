package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cepfinder/internal/cep/models"
	"cepfinder/pkg/platform/circuit"
	"cepfinder/pkg/platform/sentinel"
)

// Fallback serves from a primary cache (usually Redis) and degrades to a
// secondary in-process cache when the primary keeps failing. Writes always
// reach the secondary so a degraded period still produces hits.
//
// While the circuit is open every call still probes the primary; enough
// consecutive successes close it again.
//
// Deletes and clears the primary could not apply are reported as
// sentinel.ErrUnavailable and queued. The queue is replayed before the next
// operation touches the primary, so an invalidated entry never resurfaces.
type Fallback struct {
	primary   Cache
	secondary Cache
	breaker   *circuit.Breaker
	logger    *slog.Logger

	mu             sync.Mutex
	pendingClear   bool
	pendingDeletes map[string]struct{}
}

type FallbackOption func(*Fallback)

func WithBreaker(b *circuit.Breaker) FallbackOption {
	return func(f *Fallback) {
		f.breaker = b
	}
}

// NewFallback wires a primary and secondary cache behind a circuit breaker.
func NewFallback(primary, secondary Cache, logger *slog.Logger, opts ...FallbackOption) *Fallback {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &Fallback{
		primary:   primary,
		secondary: secondary,
		breaker:   circuit.New("cache"),
		logger:    logger,

		pendingDeletes: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Degraded reports whether reads are currently served by the secondary.
func (f *Fallback) Degraded() bool {
	return f.breaker.IsOpen()
}

func (f *Fallback) Get(ctx context.Context, key string) (models.Address, bool, error) {
	if !f.reconciled(ctx) {
		return f.secondary.Get(ctx, key)
	}
	addr, ok, err := f.primary.Get(ctx, key)
	if f.observe(ctx, "get", err) {
		return f.secondary.Get(ctx, key)
	}
	return addr, ok, nil
}

func (f *Fallback) Has(ctx context.Context, key string) (bool, error) {
	if !f.reconciled(ctx) {
		return f.secondary.Has(ctx, key)
	}
	ok, err := f.primary.Has(ctx, key)
	if f.observe(ctx, "has", err) {
		return f.secondary.Has(ctx, key)
	}
	return ok, nil
}

func (f *Fallback) Set(ctx context.Context, key string, value models.Address) error {
	if err := f.secondary.Set(ctx, key, value); err != nil {
		return err
	}
	if f.reconciled(ctx) {
		f.observe(ctx, "set", f.primary.Set(ctx, key, value))
	}
	return nil
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	if err := f.secondary.Delete(ctx, key); err != nil {
		return err
	}
	err := f.reconcile(ctx)
	if err == nil {
		err = f.primary.Delete(ctx, key)
	}
	f.observe(ctx, "delete", err)
	if err != nil {
		f.mu.Lock()
		f.pendingDeletes[key] = struct{}{}
		f.mu.Unlock()
		return fmt.Errorf("primary cache delete %s queued: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (f *Fallback) Clear(ctx context.Context) error {
	if err := f.secondary.Clear(ctx); err != nil {
		return err
	}
	err := f.primary.Clear(ctx)
	f.observe(ctx, "clear", err)

	// a clear supersedes every queued delete
	f.mu.Lock()
	clear(f.pendingDeletes)
	f.pendingClear = err != nil
	f.mu.Unlock()

	if err != nil {
		return fmt.Errorf("primary cache clear queued: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Pending reports how many invalidations still have to reach the primary.
// A queued clear counts as one.
func (f *Fallback) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pendingDeletes)
	if f.pendingClear {
		n++
	}
	return n
}

// reconciled replays queued invalidations and reports whether the primary
// may be used for this call.
func (f *Fallback) reconciled(ctx context.Context) bool {
	if err := f.reconcile(ctx); err != nil {
		f.observe(ctx, "replay", err)
		return false
	}
	return true
}

// reconcile applies queued invalidations to the primary. The lock is held
// across the calls so concurrent writes wait for the replay.
func (f *Fallback) reconcile(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pendingClear {
		if err := f.primary.Clear(ctx); err != nil {
			return err
		}
		f.pendingClear = false
		f.logger.InfoContext(ctx, "replayed cache clear on primary")
	}
	for key := range f.pendingDeletes {
		if err := f.primary.Delete(ctx, key); err != nil {
			return err
		}
		delete(f.pendingDeletes, key)
		f.logger.DebugContext(ctx, "replayed cache delete on primary", "key", key)
	}
	return nil
}

// observe records the primary outcome and reports whether the caller should
// answer from the secondary.
func (f *Fallback) observe(ctx context.Context, op string, err error) bool {
	if err == nil {
		usePrimary, change := f.breaker.RecordSuccess()
		if change.Closed {
			f.logger.InfoContext(ctx, "cache circuit closed, primary restored", "op", op)
		}
		return !usePrimary
	}

	_, change := f.breaker.RecordFailure()
	if change.Opened {
		f.logger.WarnContext(ctx, "cache circuit opened, serving from fallback", "op", op, "error", err)
	} else {
		f.logger.DebugContext(ctx, "primary cache error", "op", op, "error", err)
	}
	return true
}
