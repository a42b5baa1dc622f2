package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cepfinder/internal/cep/fetch"
	"cepfinder/internal/cep/providers"
)

func TestLookupMany(t *testing.T) {
	t.Run("records per item errors in input order", func(t *testing.T) {
		var calls atomic.Int32
		f := fetch.FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
			calls.Add(1)
			if strings.HasSuffix(url, "/00000000") {
				return nil, errors.New("upstream rejected")
			}
			return []byte(saoPaulo), nil
		})

		for _, concurrency := range []int{1, 2, 5, 50} {
			calls.Store(0)
			o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
			require.NoError(t, err)

			results := o.LookupMany(context.Background(), []string{"11111111", "00000000", "33333333"}, concurrency)

			require.Len(t, results, 3)
			assert.Equal(t, "11111111", results[0].CEP)
			assert.Equal(t, "00000000", results[1].CEP)
			assert.Equal(t, "33333333", results[2].CEP)

			assert.True(t, results[0].OK())
			assert.Equal(t, "mock", results[0].Provider)
			assert.False(t, results[1].OK())
			assert.Error(t, results[1].Err)
			assert.Nil(t, results[1].Address)
			assert.True(t, results[2].OK())

			assert.EqualValues(t, 3, calls.Load(), "concurrency %d", concurrency)
		}
	})

	t.Run("empty input makes no calls", func(t *testing.T) {
		f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
		o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
		require.NoError(t, err)

		results := o.LookupMany(context.Background(), nil, 5)
		assert.NotNil(t, results)
		assert.Empty(t, results)
		assert.Zero(t, f.TotalCalls())
	})

	t.Run("bounds lookups in flight", func(t *testing.T) {
		var mu sync.Mutex
		inFlight, peak := 0, 0
		f := fetch.FetcherFunc(func(ctx context.Context, _ string) ([]byte, error) {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()
			defer func() {
				mu.Lock()
				inFlight--
				mu.Unlock()
			}()
			time.Sleep(15 * time.Millisecond)
			return []byte(saoPaulo), nil
		})
		o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
		require.NoError(t, err)

		ceps := []string{"01001000", "01001001", "01001002", "01001003", "01001004", "01001005", "01001006"}
		results := o.LookupMany(context.Background(), ceps, 2)

		require.Len(t, results, len(ceps))
		for _, r := range results {
			assert.True(t, r.OK())
		}
		assert.LessOrEqual(t, peak, 2)
		assert.Positive(t, peak)
	})

	t.Run("validation failures do not stop siblings", func(t *testing.T) {
		f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
		o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
		require.NoError(t, err)

		results := o.LookupMany(context.Background(), []string{"nope", "01001000"}, 0)
		require.Len(t, results, 2)
		assert.False(t, results[0].OK())
		assert.True(t, results[1].OK())
		assert.Equal(t, 1, f.TotalCalls())
	})
}
