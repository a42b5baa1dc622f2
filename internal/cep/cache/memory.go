package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"cepfinder/internal/cep/models"
)

type entry struct {
	key      string
	value    models.Address
	storedAt time.Time
}

// Memory is an in-process cache with optional TTL and a size cap.
// Expired entries are evicted lazily on Get/Has. At capacity, inserting a
// new key evicts the oldest-inserted entry; reads do not refresh position.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithTTL sets the entry lifetime. Zero means entries never expire.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithMaxSize caps the number of entries. Zero means unbounded.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) {
		m.maxSize = n
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (models.Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return models.Address{}, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value models.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.storedAt = now
		return nil
	}

	if m.maxSize > 0 && m.order.Len() >= m.maxSize {
		m.removeElement(m.order.Front())
	}
	m.entries[key] = m.order.PushBack(&entry{key: key, value: value, storedAt: now})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// live returns the entry for key, evicting it if expired.
// Must be called while holding m.mu.
func (m *Memory) live(key string) (*entry, bool) {
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if m.ttl > 0 && m.now().Sub(e.storedAt) >= m.ttl {
		m.removeElement(el)
		return nil, false
	}
	return e, true
}

// Must be called while holding m.mu.
func (m *Memory) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	e := m.order.Remove(el).(*entry)
	delete(m.entries, e.key)
}
