// Package events is the lookup observability stream.
//
// Topics form a closed set and each carries its own payload type, so a
// listener for Success can only ever receive a SuccessEvent.
//
//	sub := events.On(em, events.Success, func(e events.SuccessEvent) { ... })
//	defer em.Off(sub)
package events

import (
	"time"

	"cepfinder/internal/cep/models"
)

// Name identifies a topic on the wire and in logs.
type Name string

const (
	NameSuccess  Name = "success"
	NameFailure  Name = "failure"
	NameTimeout  Name = "timeout"
	NameCacheHit Name = "cache:hit"
)

// Topic binds a name to its payload type.
type Topic[T any] struct {
	name Name
}

func (t Topic[T]) Name() Name {
	return t.name
}

var (
	Success  = Topic[SuccessEvent]{name: NameSuccess}
	Failure  = Topic[FailureEvent]{name: NameFailure}
	Timeout  = Topic[TimeoutEvent]{name: NameTimeout}
	CacheHit = Topic[CacheHitEvent]{name: NameCacheHit}
)

// SuccessEvent is emitted once per resolved race, for the winning provider.
type SuccessEvent struct {
	Provider string
	CEP      string
	Duration time.Duration
	Address  models.Address
}

// FailureEvent is emitted for each provider branch that fails for a reason
// other than its own timeout or the race being cancelled.
type FailureEvent struct {
	Provider string
	CEP      string
	Duration time.Duration
	Err      error
}

// TimeoutEvent is emitted when a provider exceeds its configured timeout.
type TimeoutEvent struct {
	Provider string
	CEP      string
	Duration time.Duration
	Timeout  time.Duration
}

// CacheHitEvent is emitted when a lookup is answered from cache.
type CacheHitEvent struct {
	CEP string
}
