package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cepfinder/internal/cep/cache"
	"cepfinder/internal/cep/fetch"
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/internal/cep/ratelimit"
	"cepfinder/pkg/domain"
	dErrors "cepfinder/pkg/domain-errors"
)

type LookupSuite struct {
	suite.Suite
	ctx context.Context
}

func TestLookupSuite(t *testing.T) {
	suite.Run(t, new(LookupSuite))
}

func (s *LookupSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *LookupSuite) TestNewValidation() {
	s.Run("requires a provider", func() {
		_, err := New(nil)
		s.Require().Error(err)
	})

	s.Run("rejects duplicate names", func() {
		_, err := New([]providers.Provider{stub("a"), stub("a")})
		s.Require().Error(err)
	})

	s.Run("rejects invalid rate limit", func() {
		_, err := New([]providers.Provider{stub("a")}, WithRateLimit(ratelimit.Options{Requests: 1}))
		s.Require().Error(err)
	})

	s.Run("rejects negative retries", func() {
		_, err := New([]providers.Provider{stub("a")}, WithRetries(-1))
		s.Require().Error(err)
	})
}

func (s *LookupSuite) TestHyphenatedInputResolvesTrimmedAddress() {
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
	s.Require().NoError(err)

	addr, err := o.Lookup(s.ctx, "01001-000")
	s.Require().NoError(err)

	s.Equal(models.Address{
		CEP:          "01001000",
		State:        "SP",
		City:         "São Paulo",
		Neighborhood: "Sé",
		Street:       "Praça da Sé",
		Service:      "mock",
		DDD:          "11",
	}, addr)
	s.Equal([]string{"stub://mock/01001000"}, f.urls)
}

func (s *LookupSuite) TestAddressCEPIsTheValidatedInput() {
	f := newFakeFetcher(map[string]route{
		"nocep":    {body: `{"state":"RJ","city":"Rio de Janeiro"}`},
		"otherCEP": {body: `{"cep":"99999-999","state":"RJ","city":"Rio de Janeiro"}`},
	})

	for _, name := range []string{"nocep", "otherCEP"} {
		o, err := New([]providers.Provider{stub(name)}, WithFetcher(f))
		s.Require().NoError(err)

		addr, err := o.Lookup(s.ctx, "20040-002")
		s.Require().NoError(err, name)
		s.Equal("20040002", addr.CEP, name)
		s.Equal("21", addr.DDD, name)
	}
}

func (s *LookupSuite) TestValidationFailsWithoutNetwork() {
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f), WithRetries(3), WithRetryDelay(time.Millisecond))
	s.Require().NoError(err)

	for _, input := range []string{"", "1234", "0100100a", "01001 000", "01001--000"} {
		_, err := o.Lookup(s.ctx, input)
		var vErr *domain.ValidationError
		s.Require().ErrorAs(err, &vErr, input)
	}
	s.Zero(f.TotalCalls())
}

func (s *LookupSuite) TestCachedLookupDispatchesOnce() {
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f), WithCache(cache.NewMemory()))
	s.Require().NoError(err)
	rec := record(o.Events())

	first, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	second, err := o.Lookup(s.ctx, "01001-000")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, f.Calls("mock"))
	successes, _, _, hits := rec.counts()
	s.Equal(1, successes)
	s.Equal(1, hits)
	s.Equal("01001000", rec.hits[0].CEP)

	s.Run("clear forces a new dispatch", func() {
		s.Require().NoError(o.ClearCache(s.ctx))
		_, err := o.Lookup(s.ctx, "01001000")
		s.Require().NoError(err)
		s.Equal(2, f.Calls("mock"))
	})

	s.Run("invalidate forces a new dispatch", func() {
		s.Require().NoError(o.Invalidate(s.ctx, "01001-000"))
		_, err := o.Lookup(s.ctx, "01001000")
		s.Require().NoError(err)
		s.Equal(3, f.Calls("mock"))
	})
}

func (s *LookupSuite) TestCacheReadErrorIsAMiss() {
	broken := &failingCache{err: errors.New("connection refused")}
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f), WithCache(broken))
	s.Require().NoError(err)

	addr, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	s.Equal("mock", addr.Service)
	s.Equal(1, broken.sets)
}

func (s *LookupSuite) TestRateLimitWindow() {
	clock := newFakeClock()
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")},
		WithFetcher(f),
		WithRateLimit(ratelimit.Options{Requests: 2, Per: time.Second}),
		WithClock(clock.Now),
		WithRetries(2),
	)
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	_, err = o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "01001000")
	var limitErr *ratelimit.LimitError
	s.Require().ErrorAs(err, &limitErr)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	s.Equal(2, f.Calls("mock"))

	clock.Advance(1001 * time.Millisecond)
	_, err = o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
}

func (s *LookupSuite) TestSingleProviderErrorIsNotAggregated() {
	p := &failingTransform{stubProvider: stub("only"), err: providers.NotFound("only", "01001000")}
	f := newFakeFetcher(map[string]route{"only": {body: "{}"}})
	o, err := New([]providers.Provider{p}, WithFetcher(f))
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "01001000")
	s.Same(p.err, err)
	s.False(errors.Is(err, providers.ErrAllProvidersFailed))
}

func (s *LookupSuite) TestSingleProviderFetchErrorIsCategorized() {
	boom := &fetch.StatusError{URL: "stub://only/01001000", StatusCode: 503}
	f := newFakeFetcher(map[string]route{"only": {err: boom}})
	o, err := New([]providers.Provider{stub("only")}, WithFetcher(f))
	s.Require().NoError(err)
	rec := record(o.Events())

	_, err = o.Lookup(s.ctx, "01001000")
	s.Require().Error(err)
	s.ErrorIs(err, providers.ErrOutage)

	var statusErr *fetch.StatusError
	s.Require().ErrorAs(err, &statusErr)
	s.Same(boom, statusErr)

	_, failures, _, _ := rec.counts()
	s.Equal(1, failures)
	s.Equal("only", rec.failures[0].Provider)
}

func (s *LookupSuite) TestTimeoutEmitsTimeoutNotFailure() {
	p := &stubProvider{name: "slow", timeout: 20 * time.Millisecond}
	f := newFakeFetcher(map[string]route{"slow": {delay: time.Second, body: saoPaulo}})
	o, err := New([]providers.Provider{p}, WithFetcher(f))
	s.Require().NoError(err)
	rec := record(o.Events())

	start := time.Now()
	_, err = o.Lookup(s.ctx, "01001000")
	s.Require().Error(err)
	s.Less(time.Since(start), 500*time.Millisecond)

	s.ErrorIs(err, providers.ErrTimeout)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	_, failures, timeouts, _ := rec.counts()
	s.Equal(0, failures)
	s.Require().Equal(1, timeouts)
	s.Equal(20*time.Millisecond, rec.timeouts[0].Timeout)
	s.Equal("slow", rec.timeouts[0].Provider)
}

func (s *LookupSuite) TestTimeoutHoldsForFetcherIgnoringContext() {
	p := &stubProvider{name: "stuck", timeout: 20 * time.Millisecond}
	f := newFakeFetcher(map[string]route{"stuck": {delay: 300 * time.Millisecond, body: saoPaulo, ignoreCtx: true}})
	o, err := New([]providers.Provider{p}, WithFetcher(f))
	s.Require().NoError(err)

	start := time.Now()
	_, err = o.Lookup(s.ctx, "01001000")
	s.ErrorIs(err, providers.ErrTimeout)
	s.Less(time.Since(start), 200*time.Millisecond)
}

func (s *LookupSuite) TestRetryBackoff() {
	f := newFakeFetcher(map[string]route{"flaky": {err: errors.New("connection reset")}})
	o, err := New([]providers.Provider{stub("flaky")},
		WithFetcher(f),
		WithRetries(2),
		WithRetryDelay(20*time.Millisecond),
	)
	s.Require().NoError(err)

	start := time.Now()
	_, err = o.Lookup(s.ctx, "01001000")
	elapsed := time.Since(start)

	s.Require().Error(err)
	s.Equal(3, f.Calls("flaky"))
	// 20ms then 40ms
	s.GreaterOrEqual(elapsed, 60*time.Millisecond)
}

func (s *LookupSuite) TestRetryStopsOnContextCancel() {
	f := newFakeFetcher(map[string]route{"flaky": {err: errors.New("connection reset")}})
	o, err := New([]providers.Provider{stub("flaky")},
		WithFetcher(f),
		WithRetries(5),
		WithRetryDelay(time.Hour),
	)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Millisecond)
	defer cancel()

	_, err = o.Lookup(ctx, "01001000")
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(1, f.Calls("flaky"))
}

func (s *LookupSuite) TestLookupAs() {
	f := newFakeFetcher(map[string]route{"mock": {body: saoPaulo}})
	o, err := New([]providers.Provider{stub("mock")}, WithFetcher(f))
	s.Require().NoError(err)

	label, err := LookupAs(s.ctx, o, "01001000", func(a models.Address) string {
		return a.City + "/" + a.State
	})
	s.Require().NoError(err)
	s.Equal("São Paulo/SP", label)

	label, err = LookupAs(s.ctx, o, "bad", func(a models.Address) string { return a.City })
	s.Error(err)
	s.Empty(label)
}

type failingTransform struct {
	*stubProvider
	err error
}

func (p *failingTransform) Transform([]byte) (*models.Address, error) {
	return nil, p.err
}

type failingCache struct {
	err  error
	sets int
}

func (c *failingCache) Get(context.Context, string) (models.Address, bool, error) {
	return models.Address{}, false, c.err
}

func (c *failingCache) Set(context.Context, string, models.Address) error {
	c.sets++
	return c.err
}

func (c *failingCache) Has(context.Context, string) (bool, error) { return false, c.err }
func (c *failingCache) Delete(context.Context, string) error        { return c.err }
func (c *failingCache) Clear(context.Context) error                 { return c.err }

func TestBackoff(t *testing.T) {
	base := 20 * time.Millisecond
	assert.Equal(t, 20*time.Millisecond, backoff(base, 1))
	assert.Equal(t, 40*time.Millisecond, backoff(base, 2))
	assert.Equal(t, 80*time.Millisecond, backoff(base, 3))
	assert.Equal(t, time.Duration(0), backoff(0, 10))

	for _, attempt := range []int{34, 64, 65, 1000} {
		d := backoff(time.Second, attempt)
		assert.Equal(t, MaxRetryDelay, d, "attempt %d", attempt)
	}
	assert.Equal(t, MaxRetryDelay, backoff(time.Hour, 1))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleep(context.Background(), 0))
}
