package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cepfinder/internal/cep/events"
)

type Metrics struct {
	LookupsTotal     *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	ProviderTimeouts *prometheus.CounterVec
	CacheHits        prometheus.Counter
	ProviderDuration *prometheus.HistogramVec
	BulkSize         prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cepfinder_lookups_total",
			Help: "Lookups resolved by a provider race, by winning provider",
		}, []string{"provider"}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cepfinder_provider_failures_total",
			Help: "Provider branches that failed for a reason other than timeout",
		}, []string{"provider"}),
		ProviderTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cepfinder_provider_timeouts_total",
			Help: "Provider branches that exceeded their timeout",
		}, []string{"provider"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cepfinder_cache_hits_total",
			Help: "Lookups answered from cache",
		}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cepfinder_provider_duration_seconds",
			Help:    "Time from dispatch to settle per provider branch",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "outcome"}),
		BulkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cepfinder_bulk_request_size",
			Help:    "Number of CEPs per bulk request",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),
	}
}

// Observe subscribes m to em and returns a function that unsubscribes.
func (m *Metrics) Observe(em *events.Emitter) func() {
	subs := []events.Subscription{
		events.On(em, events.Success, func(e events.SuccessEvent) {
			m.LookupsTotal.WithLabelValues(e.Provider).Inc()
			m.ProviderDuration.WithLabelValues(e.Provider, "success").Observe(e.Duration.Seconds())
		}),
		events.On(em, events.Failure, func(e events.FailureEvent) {
			m.ProviderFailures.WithLabelValues(e.Provider).Inc()
			m.ProviderDuration.WithLabelValues(e.Provider, "failure").Observe(e.Duration.Seconds())
		}),
		events.On(em, events.Timeout, func(e events.TimeoutEvent) {
			m.ProviderTimeouts.WithLabelValues(e.Provider).Inc()
			m.ProviderDuration.WithLabelValues(e.Provider, "timeout").Observe(e.Duration.Seconds())
		}),
		events.On(em, events.CacheHit, func(events.CacheHitEvent) {
			m.CacheHits.Inc()
		}),
	}
	return func() {
		for _, sub := range subs {
			em.Off(sub)
		}
	}
}

func (m *Metrics) ObserveBulkSize(n int) {
	m.BulkSize.Observe(float64(n))
}
