package events

import (
	"context"
	"log/slog"
	"sync"
)

type listener struct {
	id uint64
	fn func(any)
}

// Subscription identifies a registered listener for Off.
type Subscription struct {
	name Name
	id   uint64
}

// Emitter dispatches events synchronously, in subscription order, on the
// emitting goroutine. Provider branches of a race emit concurrently, so a
// listener may run on several goroutines at once and must be safe for
// concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Name][]listener
	logger    *slog.Logger
}

// NewEmitter creates an emitter. A nil logger discards listener panics silently.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{
		listeners: make(map[Name][]listener),
		logger:    logger,
	}
}

// On registers fn for topic and returns a handle for Off.
func On[T any](e *Emitter, topic Topic[T], fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[topic.name] = append(e.listeners[topic.name], listener{
		id: id,
		fn: func(payload any) { fn(payload.(T)) },
	})
	return Subscription{name: topic.name, id: id}
}

// Off removes a listener. Removing an unknown subscription is a no-op.
func (e *Emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[sub.name]
	for i, l := range current {
		if l.id == sub.id {
			next := make([]listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			e.listeners[sub.name] = next
			return
		}
	}
}

// Count returns the number of listeners registered for name.
func (e *Emitter) Count(name Name) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Emit delivers payload to every listener of topic. Listeners registered or
// removed during dispatch take effect from the next Emit.
func Emit[T any](e *Emitter, topic Topic[T], payload T) {
	if e == nil {
		return
	}
	e.mu.RLock()
	snapshot := e.listeners[topic.name]
	e.mu.RUnlock()

	for _, l := range snapshot {
		e.deliver(topic.name, l, payload)
	}
}

func (e *Emitter) deliver(name Name, l listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.LogAttrs(context.Background(), slog.LevelError, "event listener panicked",
				slog.String("event", string(name)),
				slog.Any("panic", r),
			)
		}
	}()
	l.fn(payload)
}
