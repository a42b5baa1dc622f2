package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"cepfinder/internal/cep/events"
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

// outcome is the settled result of one provider branch.
type outcome struct {
	index    int
	provider string
	address  *models.Address
	duration time.Duration
	err      error
}

// race runs one attempt over the current priority order. The race context
// is cancelled on return, which aborts every branch still in flight.
func (o *Orchestrator) race(ctx context.Context, cep domain.CEP) (*outcome, error) {
	ps := o.registry.Ordered()

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(ps) == 1 {
		out := o.dispatch(raceCtx, ps[0], cep)
		if out.err != nil {
			return nil, out.err
		}
		return &out, nil
	}

	results := make(chan outcome, len(ps))
	launch := func(i int) {
		go func() {
			out := o.dispatch(raceCtx, ps[i], cep)
			out.index = i
			results <- out
		}()
	}

	launch(0)
	launched := 1
	launchRest := func(reason string) {
		o.logger.DebugContext(ctx, "dispatching backup providers",
			"cep", cep.String(),
			"reason", reason,
			"count", len(ps)-1,
		)
		for i := 1; i < len(ps); i++ {
			launch(i)
		}
		launched = len(ps)
	}

	stagger := time.NewTimer(o.staggerDelay)
	defer stagger.Stop()
	staggerC := stagger.C

	errs := make([]error, len(ps))
	for settled := 0; settled < launched; {
		select {
		case <-staggerC:
			staggerC = nil
			if launched == 1 {
				launchRest("stagger elapsed")
			}
		case out := <-results:
			settled++
			if out.err == nil {
				return &out, nil
			}
			errs[out.index] = out.err
			if out.index == 0 && launched == 1 {
				staggerC = nil
				if ctx.Err() == nil {
					launchRest("primary failed")
				}
			}
		}
	}

	dispatched := make([]error, 0, launched)
	for _, err := range errs {
		if err != nil {
			dispatched = append(dispatched, err)
		}
	}
	return nil, &providers.AllFailedError{Errors: dispatched}
}

// dispatch fetches and transforms one provider's response. Timeouts emit
// Timeout, branches aborted by the race emit nothing, anything else emits
// Failure.
func (o *Orchestrator) dispatch(raceCtx context.Context, p providers.Provider, cep domain.CEP) outcome {
	name := p.Name()
	ctx, span := o.tracer.Start(raceCtx, "cep.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("provider", name), attribute.String("cep", cep.String()))

	o.logger.DebugContext(ctx, "provider dispatched", "provider", name, "cep", cep.String())
	start := o.now()
	addr, err := o.fetchAndTransform(ctx, p, cep)
	elapsed := o.now().Sub(start)

	out := outcome{provider: name, duration: elapsed}
	if err == nil {
		out.address = addr
		return out
	}

	switch {
	case raceCtx.Err() != nil:
		out.err = providers.NewProviderError(providers.ErrorCanceled, name, "race ended before response", raceCtx.Err())
	case errors.Is(err, providers.ErrTimeout):
		out.err = err
		events.Emit(o.emitter, events.Timeout, events.TimeoutEvent{
			Provider: name,
			CEP:      cep.String(),
			Duration: elapsed,
			Timeout:  p.Timeout(),
		})
	default:
		out.err = err
		events.Emit(o.emitter, events.Failure, events.FailureEvent{
			Provider: name,
			CEP:      cep.String(),
			Duration: elapsed,
			Err:      err,
		})
	}

	span.RecordError(out.err)
	span.SetStatus(codes.Error, out.err.Error())
	o.logger.DebugContext(ctx, "provider failed",
		"provider", name,
		"cep", cep.String(),
		"duration_ms", elapsed.Milliseconds(),
		"category", string(providers.GetCategory(out.err)),
		"error", out.err,
	)
	return out
}

func (o *Orchestrator) fetchAndTransform(ctx context.Context, p providers.Provider, cep domain.CEP) (*models.Address, error) {
	name := p.Name()
	body, err := o.fetch(ctx, p.Timeout(), p.BuildURL(cep))
	if err != nil {
		if errors.Is(err, errProviderTimeout) {
			return nil, providers.NewTimeoutError(name, p.Timeout())
		}
		var pe *providers.ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, name, "fetch failed", err)
	}

	addr, err := p.Transform(body)
	if err != nil {
		return nil, err
	}
	if addr == nil {
		return nil, providers.BadData(name, fmt.Errorf("empty address"))
	}
	out := *addr
	out.Service = name
	return &out, nil
}

var errProviderTimeout = errors.New("provider timeout elapsed")

// fetch runs the fetcher in its own goroutine so a fetcher that ignores its
// context cannot hold the branch past its timeout or the race.
func (o *Orchestrator) fetch(ctx context.Context, timeout time.Duration, url string) ([]byte, error) {
	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		fetchCtx, cancel = context.WithTimeoutCause(ctx, timeout, errProviderTimeout)
	}
	defer cancel()

	type fetched struct {
		body []byte
		err  error
	}
	done := make(chan fetched, 1)
	go func() {
		body, err := o.fetcher.Fetch(fetchCtx, url)
		done <- fetched{body: body, err: err}
	}()

	select {
	case f := <-done:
		if f.err != nil && fetchCtx.Err() != nil && ctx.Err() == nil {
			return nil, context.Cause(fetchCtx)
		}
		return f.body, f.err
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.Cause(fetchCtx)
	}
}
