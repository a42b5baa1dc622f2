package orchestrator

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cepfinder/internal/cep/models"
)

// LookupMany resolves every input with at most concurrency lookups in flight.
// Results keep input order; a failed item carries its error without stopping
// the others. Non-positive concurrency means DefaultConcurrency.
func (o *Orchestrator) LookupMany(ctx context.Context, ceps []string, concurrency int) []models.BulkResult {
	results := make([]models.BulkResult, len(ceps))
	if len(ceps) == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	workers := min(concurrency, len(ceps))

	// Workers pull the next index from a shared cursor rather than a fixed
	// partition, so a slow CEP does not hold up a whole slice.
	var cursor atomic.Int64
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(ceps) {
					return nil
				}
				results[i] = o.lookupOne(ctx, ceps[i])
			}
		})
	}
	_ = g.Wait()

	o.logger.DebugContext(ctx, "bulk lookup finished", "count", len(ceps), "workers", workers)
	return results
}

func (o *Orchestrator) lookupOne(ctx context.Context, raw string) models.BulkResult {
	addr, err := o.Lookup(ctx, raw)
	if err != nil {
		return models.BulkResult{CEP: raw, Err: err}
	}
	return models.BulkResult{CEP: raw, Address: &addr, Provider: addr.Service}
}
