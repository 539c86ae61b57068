package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheState is where a Memoized value is in its lifecycle.
type CacheState int

const (
	Unpopulated CacheState = iota
	Populated
	Refreshing
)

func (s CacheState) String() string {
	switch s {
	case Populated:
		return "populated"
	case Refreshing:
		return "refreshing"
	default:
		return "unpopulated"
	}
}

// Memoized caches the result of an expensive loader. A zero ttl keeps the
// value for the lifetime of the cache; Refresh reloads on demand. Readers
// keep seeing the previous value while a refresh is in flight.
type Memoized[T any] struct {
	load func(context.Context) (T, error)
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	state    CacheState
	value    T
	loadedAt time.Time
}

func NewMemoized[T any](load func(context.Context) (T, error), ttl time.Duration) *Memoized[T] {
	return &Memoized[T]{load: load, ttl: ttl, now: time.Now}
}

// State reports the current cache state.
func (m *Memoized[T]) State() CacheState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetOrLoad returns the cached value, loading it first if needed.
func (m *Memoized[T]) GetOrLoad(ctx context.Context) (T, error) {
	m.mu.RLock()
	if m.state != Unpopulated && !m.expired() {
		v := m.value
		m.mu.RUnlock()
		return v, nil
	}
	m.mu.RUnlock()
	return m.reload(ctx)
}

// Refresh reloads the value regardless of its age.
func (m *Memoized[T]) Refresh(ctx context.Context) (T, error) {
	return m.reload(ctx)
}

// expired must be called with mu held.
func (m *Memoized[T]) expired() bool {
	return m.ttl > 0 && m.now().Sub(m.loadedAt) >= m.ttl
}

// reload shares one load between concurrent callers. The load outlives the
// cancellation of whichever caller started it.
func (m *Memoized[T]) reload(ctx context.Context) (T, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.group.Do("load", func() (interface{}, error) {
		m.mu.Lock()
		prev := m.state
		if prev == Populated {
			m.state = Refreshing
		}
		m.mu.Unlock()

		val, err := m.load(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.state = prev
			return nil, err
		}
		m.value, m.state, m.loadedAt = val, Populated, m.now()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
