package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"cepfinder/internal/cep/events"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	em := events.NewEmitter(nil)
	stop := m.Observe(em)

	events.Emit(em, events.Success, events.SuccessEvent{Provider: "viacep", Duration: 40 * time.Millisecond})
	events.Emit(em, events.Success, events.SuccessEvent{Provider: "viacep", Duration: 60 * time.Millisecond})
	events.Emit(em, events.Failure, events.FailureEvent{Provider: "widenet", Err: errors.New("503")})
	events.Emit(em, events.Timeout, events.TimeoutEvent{Provider: "brasilapi", Timeout: time.Second})
	events.Emit(em, events.CacheHit, events.CacheHitEvent{CEP: "01001000"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("viacep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("widenet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderTimeouts.WithLabelValues("brasilapi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 3, testutil.CollectAndCount(m.ProviderDuration))

	stop()
	events.Emit(em, events.CacheHit, events.CacheHitEvent{CEP: "01001000"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Zero(t, em.Count(events.NameSuccess))
}

func TestObserveBulkSize(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveBulkSize(3)
	m.ObserveBulkSize(40)

	assert.Equal(t, 1, testutil.CollectAndCount(m.BulkSize))
}
