package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cepfinder/internal/cep/providers"
	dErrors "cepfinder/pkg/domain-errors"
)

type RaceSuite struct {
	suite.Suite
	ctx context.Context
}

func TestRaceSuite(t *testing.T) {
	suite.Run(t, new(RaceSuite))
}

func (s *RaceSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *RaceSuite) TestFastestProviderWinsAndLoserIsCancelled() {
	f := newFakeFetcher(map[string]route{
		"slow": {delay: 100 * time.Millisecond, body: saoPaulo},
		"fast": {delay: 50 * time.Millisecond, body: saoPaulo},
	})
	o, err := New([]providers.Provider{stub("slow"), stub("fast")},
		WithFetcher(f),
		WithStaggerDelay(10*time.Millisecond),
	)
	s.Require().NoError(err)
	rec := record(o.Events())

	addr, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	s.Equal("fast", addr.Service)

	s.Eventually(func() bool { return f.Aborted("slow") == 1 }, time.Second, 5*time.Millisecond)

	successes, failures, timeouts, _ := rec.counts()
	s.Equal(1, successes)
	s.Equal("fast", rec.successes[0].Provider)
	s.Zero(failures, "a cancelled loser emits nothing")
	s.Zero(timeouts)
}

func (s *RaceSuite) TestPrimaryWithinStaggerSkipsBackups() {
	f := newFakeFetcher(map[string]route{
		"primary": {delay: 5 * time.Millisecond, body: saoPaulo},
		"backup":  {body: saoPaulo},
	})
	o, err := New([]providers.Provider{stub("primary"), stub("backup")},
		WithFetcher(f),
		WithStaggerDelay(200*time.Millisecond),
	)
	s.Require().NoError(err)

	addr, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	s.Equal("primary", addr.Service)
	s.Zero(f.Calls("backup"))
}

func (s *RaceSuite) TestPrimaryFailureDispatchesBackupsImmediately() {
	f := newFakeFetcher(map[string]route{
		"primary": {err: errors.New("connection refused")},
		"backup":  {delay: 10 * time.Millisecond, body: saoPaulo},
	})
	o, err := New([]providers.Provider{stub("primary"), stub("backup")},
		WithFetcher(f),
		WithStaggerDelay(5*time.Second),
	)
	s.Require().NoError(err)
	rec := record(o.Events())

	start := time.Now()
	addr, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	s.Less(time.Since(start), time.Second)
	s.Equal("backup", addr.Service)

	_, failures, _, _ := rec.counts()
	s.Equal(1, failures)
	s.Equal("primary", rec.failures[0].Provider)
}

func (s *RaceSuite) TestStaggerElapsedDispatchesEveryBackup() {
	f := newFakeFetcher(map[string]route{
		"primary": {delay: 300 * time.Millisecond, body: saoPaulo},
		"b":       {delay: 40 * time.Millisecond, body: saoPaulo},
		"c":       {delay: 20 * time.Millisecond, body: saoPaulo},
	})
	o, err := New([]providers.Provider{stub("primary"), stub("b"), stub("c")},
		WithFetcher(f),
		WithStaggerDelay(10*time.Millisecond),
	)
	s.Require().NoError(err)

	addr, err := o.Lookup(s.ctx, "01001000")
	s.Require().NoError(err)
	s.Equal("c", addr.Service)
	s.Equal(1, f.Calls("b"))
	s.Equal(1, f.Calls("primary"))
}

func (s *RaceSuite) TestAllFailedKeepsPriorityOrder() {
	f := newFakeFetcher(map[string]route{
		"a": {delay: 30 * time.Millisecond, body: "notfound"},
		"b": {body: "notfound"},
		"c": {delay: 10 * time.Millisecond, body: "notfound"},
	})
	o, err := New([]providers.Provider{stub("a"), stub("b"), stub("c")},
		WithFetcher(f),
		WithStaggerDelay(time.Millisecond),
	)
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "99999999")
	s.Require().Error(err)
	s.ErrorIs(err, providers.ErrAllProvidersFailed)
	s.ErrorIs(err, providers.ErrNotFound)

	var all *providers.AllFailedError
	s.Require().ErrorAs(err, &all)
	s.Require().Len(all.Errors, 3)
	for i, name := range []string{"a", "b", "c"} {
		var pe *providers.ProviderError
		s.Require().ErrorAs(all.Errors[i], &pe)
		s.Equal(name, pe.Provider)
	}
	s.True(all.AllNotFound())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RaceSuite) TestMixedFailuresAreBadGateway() {
	f := newFakeFetcher(map[string]route{
		"a": {body: "notfound"},
		"b": {err: errors.New("dial tcp: i/o timeout")},
	})
	o, err := New([]providers.Provider{stub("a"), stub("b")}, WithFetcher(f))
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "99999999")
	s.True(dErrors.HasCode(err, dErrors.CodeBadGateway))
}

func (s *RaceSuite) TestRetryReplaysEveryProvider() {
	f := newFakeFetcher(map[string]route{
		"a": {err: errors.New("reset")},
		"b": {err: errors.New("reset")},
	})
	o, err := New([]providers.Provider{stub("a"), stub("b")},
		WithFetcher(f),
		WithRetries(1),
		WithRetryDelay(time.Millisecond),
	)
	s.Require().NoError(err)

	_, err = o.Lookup(s.ctx, "01001000")
	s.ErrorIs(err, providers.ErrAllProvidersFailed)
	s.Equal(2, f.Calls("a"))
	s.Equal(2, f.Calls("b"))
}
