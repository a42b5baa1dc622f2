package orchestrator

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

// ControlCEP is a known-good code (Praça da Sé, São Paulo) used to probe latency.
const ControlCEP = domain.CEP("01001000")

// unreachable ranks a failed probe after every successful one.
const unreachable = time.Duration(math.MaxInt64)

// Warmup probes every provider concurrently with ControlCEP and installs the
// fastest-first order for later races. It neither reads the cache nor emits
// lookup events.
func (o *Orchestrator) Warmup(ctx context.Context) ([]providers.Provider, error) {
	ctx, span := o.tracer.Start(ctx, "cep.Warmup")
	defer span.End()

	ps := o.registry.Ordered()
	durations := make([]time.Duration, len(ps))

	var g errgroup.Group
	for i, p := range ps {
		g.Go(func() error {
			durations[i] = o.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := make([]int, len(ps))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return durations[idx[a]] < durations[idx[b]]
	})

	ranked := make([]providers.Provider, len(ps))
	attrs := make([]any, 0, len(ps)*2)
	for pos, i := range idx {
		ranked[pos] = ps[i]
		ms := int64(-1)
		if durations[i] != unreachable {
			ms = durations[i].Milliseconds()
		}
		attrs = append(attrs, ps[i].Name(), ms)
	}

	if err := o.registry.Reorder(ranked); err != nil {
		return nil, err
	}
	o.logger.DebugContext(ctx, "providers ranked by warmup", attrs...)
	return ranked, nil
}

func (o *Orchestrator) probe(ctx context.Context, p providers.Provider) time.Duration {
	start := o.now()
	if _, err := o.fetchAndTransform(ctx, p, ControlCEP); err != nil {
		return unreachable
	}
	return o.now().Sub(start)
}
