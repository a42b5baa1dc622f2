package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"cepfinder/internal/cep/events"
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

// stubProvider builds URLs of the form stub://<name>/<cep> and decodes the
// body as an Address. A body of "notfound" is an explicit miss.
type stubProvider struct {
	name    string
	timeout time.Duration
}

func (p *stubProvider) Name() string           { return p.name }
func (p *stubProvider) Timeout() time.Duration { return p.timeout }

func (p *stubProvider) BuildURL(cep domain.CEP) string {
	return "stub://" + p.name + "/" + cep.String()
}

func (p *stubProvider) Transform(raw []byte) (*models.Address, error) {
	if string(raw) == "notfound" {
		return nil, providers.NotFound(p.name, "")
	}
	var addr models.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, providers.BadData(p.name, err)
	}
	return &addr, nil
}

func stub(name string) *stubProvider {
	return &stubProvider{name: name}
}

// route scripts one provider's behavior in fakeFetcher.
type route struct {
	delay time.Duration
	body  string
	err   error
	// ignoreCtx makes the fetch sleep through cancellation.
	ignoreCtx bool
}

type fakeFetcher struct {
	mu      sync.Mutex
	routes  map[string]route
	calls   map[string]int
	aborted map[string]int
	urls    []string
}

func newFakeFetcher(routes map[string]route) *fakeFetcher {
	return &fakeFetcher{
		routes:  routes,
		calls:   make(map[string]int),
		aborted: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	name := strings.SplitN(strings.TrimPrefix(url, "stub://"), "/", 2)[0]

	f.mu.Lock()
	r := f.routes[name]
	f.calls[name]++
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	if r.ignoreCtx {
		time.Sleep(r.delay)
	} else {
		t := time.NewTimer(r.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			f.mu.Lock()
			f.aborted[name]++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeFetcher) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeFetcher) Aborted(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[name]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures every event the orchestrator emits.
type recorder struct {
	mu        sync.Mutex
	successes []events.SuccessEvent
	failures  []events.FailureEvent
	timeouts  []events.TimeoutEvent
	hits      []events.CacheHitEvent
}

func record(em *events.Emitter) *recorder {
	r := &recorder{}
	events.On(em, events.Success, func(e events.SuccessEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.successes = append(r.successes, e)
	})
	events.On(em, events.Failure, func(e events.FailureEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.failures = append(r.failures, e)
	})
	events.On(em, events.Timeout, func(e events.TimeoutEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.timeouts = append(r.timeouts, e)
	})
	events.On(em, events.CacheHit, func(e events.CacheHitEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.hits = append(r.hits, e)
	})
	return r
}

func (r *recorder) counts() (successes, failures, timeouts, hits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.failures), len(r.timeouts), len(r.hits)
}

const saoPaulo = `{
	"cep": " 01001-000 ",
	"state": "SP ",
	"city": "  São Paulo",
	"neighborhood": "Sé",
	"street": " Praça da Sé "
}`
