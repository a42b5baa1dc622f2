// Package orchestrator resolves CEPs by racing the configured providers.
//
// A lookup passes through admission (rate limit), validation, a cache probe
// and then a staggered race: the highest priority provider is dispatched
// first and the rest join when the stagger delay elapses or the primary
// fails. The first success wins and cancels every other branch.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cepfinder/internal/cep/cache"
	"cepfinder/internal/cep/enrich"
	"cepfinder/internal/cep/events"
	"cepfinder/internal/cep/fetch"
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/internal/cep/ratelimit"
	"cepfinder/pkg/domain"
)

const (
	DefaultStaggerDelay = 100 * time.Millisecond
	DefaultRetryDelay   = time.Second
	DefaultConcurrency  = 5

	// MaxRetryDelay bounds the exponential backoff between retries.
	MaxRetryDelay = 5 * time.Minute
)

type Orchestrator struct {
	registry     *providers.Registry
	fetcher      fetch.Fetcher
	cache        cache.Cache
	rateLimit    ratelimit.Options
	limiter      *ratelimit.Limiter
	staggerDelay time.Duration
	retries      int
	retryDelay   time.Duration
	logger       *slog.Logger
	emitter      *events.Emitter
	now          func() time.Time
	tracer       trace.Tracer
}

type Option func(*Orchestrator)

// WithFetcher replaces the default HTTP fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithRateLimit enables the sliding-window admission check.
func WithRateLimit(opts ratelimit.Options) Option {
	return func(o *Orchestrator) {
		o.rateLimit = opts
	}
}

func WithStaggerDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.staggerDelay = d
	}
}

// WithRetries sets how many times a fully failed race is replayed.
func WithRetries(n int) Option {
	return func(o *Orchestrator) {
		o.retries = n
	}
}

// WithRetryDelay sets the base of the exponential backoff between races.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryDelay = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithEmitter shares an emitter, e.g. one already observed by metrics.
func WithEmitter(e *events.Emitter) Option {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

// WithClock replaces time.Now for the limiter and event durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an orchestrator over ps, in priority order.
func New(ps []providers.Provider, opts ...Option) (*Orchestrator, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	registry, err := providers.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		registry:     registry,
		staggerDelay: DefaultStaggerDelay,
		retryDelay:   DefaultRetryDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.staggerDelay < 0 {
		return nil, fmt.Errorf("stagger delay must not be negative, got %s", o.staggerDelay)
	}
	if o.retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", o.retries)
	}
	if o.retryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative, got %s", o.retryDelay)
	}
	if o.rateLimit != (ratelimit.Options{}) {
		o.limiter, err = ratelimit.New(o.rateLimit, ratelimit.WithClock(o.now))
		if err != nil {
			return nil, err
		}
	}
	if o.fetcher == nil {
		o.fetcher = fetch.NewHTTPFetcher()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.emitter == nil {
		o.emitter = events.NewEmitter(o.logger)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("cepfinder/internal/cep/orchestrator")
	}
	return o, nil
}

// Events exposes the lookup event stream for subscription.
func (o *Orchestrator) Events() *events.Emitter {
	return o.emitter
}

// Providers returns the current priority order.
func (o *Orchestrator) Providers() []providers.Provider {
	return o.registry.Ordered()
}

// Lookup resolves raw to an address.
func (o *Orchestrator) Lookup(ctx context.Context, raw string) (models.Address, error) {
	ctx, span := o.tracer.Start(ctx, "cep.Lookup")
	defer span.End()

	addr, err := o.lookup(ctx, span, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Address{}, err
	}
	span.SetAttributes(attribute.String("provider", addr.Service))
	return addr, nil
}

// LookupAs is Lookup followed by a caller supplied mapping.
func LookupAs[T any](ctx context.Context, o *Orchestrator, raw string, mapper func(models.Address) T) (T, error) {
	addr, err := o.Lookup(ctx, raw)
	if err != nil {
		var zero T
		return zero, err
	}
	return mapper(addr), nil
}

func (o *Orchestrator) lookup(ctx context.Context, span trace.Span, raw string) (models.Address, error) {
	// Admission precedes the cache probe, so hits consume a permit too.
	if o.limiter != nil {
		if err := o.limiter.Allow(); err != nil {
			o.logger.DebugContext(ctx, "lookup rate limited", "input", raw)
			return models.Address{}, err
		}
	}

	cep, err := domain.ParseCEP(raw)
	if err != nil {
		return models.Address{}, err
	}
	span.SetAttributes(attribute.String("cep", cep.String()))

	if addr, ok := o.cached(ctx, cep); ok {
		return addr, nil
	}

	won, err := o.raceWithRetry(ctx, cep)
	if err != nil {
		return models.Address{}, err
	}

	addr := won.address.Sanitize()
	addr.CEP = cep.String()
	addr = enrich.Apply(addr)
	if o.cache != nil {
		if err := o.cache.Set(ctx, cep.String(), addr); err != nil {
			o.logger.WarnContext(ctx, "cache write failed", "cep", cep.String(), "error", err)
		}
	}

	events.Emit(o.emitter, events.Success, events.SuccessEvent{
		Provider: won.provider,
		CEP:      cep.String(),
		Duration: won.duration,
		Address:  addr,
	})
	o.logger.DebugContext(ctx, "lookup resolved",
		"cep", cep.String(),
		"provider", won.provider,
		"duration_ms", won.duration.Milliseconds(),
	)
	return addr, nil
}

func (o *Orchestrator) cached(ctx context.Context, cep domain.CEP) (models.Address, bool) {
	if o.cache == nil {
		return models.Address{}, false
	}
	addr, ok, err := o.cache.Get(ctx, cep.String())
	if err != nil {
		o.logger.WarnContext(ctx, "cache read failed, treating as miss", "cep", cep.String(), "error", err)
		return models.Address{}, false
	}
	if !ok {
		return models.Address{}, false
	}
	events.Emit(o.emitter, events.CacheHit, events.CacheHitEvent{CEP: cep.String()})
	o.logger.DebugContext(ctx, "cache hit", "cep", cep.String())
	return addr, true
}

// raceWithRetry replays the whole race on total failure. Admission and the
// cache are not consulted again.
func (o *Orchestrator) raceWithRetry(ctx context.Context, cep domain.CEP) (*outcome, error) {
	var lastErr error
	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 {
			delay := backoff(o.retryDelay, attempt)
			o.logger.DebugContext(ctx, "retrying race",
				"cep", cep.String(),
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		won, err := o.race(ctx, cep)
		if err == nil {
			return won, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoff returns base doubled attempt-1 times, capped at MaxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := min(base, MaxRetryDelay)
	for i := 1; i < attempt && d < MaxRetryDelay; i++ {
		d = min(2*d, MaxRetryDelay)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invalidate drops a single CEP from the cache.
func (o *Orchestrator) Invalidate(ctx context.Context, raw string) error {
	cep, err := domain.ParseCEP(raw)
	if err != nil {
		return err
	}
	if o.cache == nil {
		return nil
	}
	return o.cache.Delete(ctx, cep.String())
}

// ClearCache empties the cache, if one is configured.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Clear(ctx)
}
