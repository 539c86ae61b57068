package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// DefaultConcurrency bounds the worker pool when no limit is configured.
const DefaultConcurrency = 10

// Executor is the bounded worker pool every asynchronous unit runs on.
type Executor struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewExecutor returns a pool running at most concurrency units at once. A
// positive unitTimeout sets a deadline on each unit's context.
func NewExecutor(concurrency int, unitTimeout time.Duration) *Executor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Executor{sem: semaphore.NewWeighted(int64(concurrency)), timeout: unitTimeout}
}

// Handle tracks one submitted unit.
type Handle[T any] struct {
	Key  string
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// Done is closed once the unit has finished or failed.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Result is only meaningful after Done is closed.
func (h *Handle[T]) Result() (T, error) { return h.val, h.err }

func (h *Handle[T]) finish(v T, err error) {
	h.once.Do(func() {
		h.val, h.err = v, err
		close(h.done)
	})
}

// Submit starts fn on the pool and returns immediately. The unit timeout
// travels on the unit's context; the handle always carries what fn itself
// returned, so an error reported after the deadline (an orphaned node id,
// say) reaches the caller.
func Submit[T any](e *Executor, ctx context.Context, key string, fn func(context.Context) (T, error)) *Handle[T] {
	h := &Handle[T]{Key: key, done: make(chan struct{})}
	go func() {
		var zero T
		if err := e.sem.Acquire(ctx, 1); err != nil {
			h.finish(zero, fmt.Errorf("waiting for a worker: %w", err))
			return
		}
		defer e.sem.Release(1)

		uctx, cancel := ctx, context.CancelFunc(func() {})
		if e.timeout > 0 {
			uctx, cancel = context.WithTimeout(ctx, e.timeout)
		}
		defer cancel()
		h.finish(safeCall(uctx, fn))
	}()
	return h
}

func safeCall[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// FailureMap maps a task key to the error its unit failed with.
type FailureMap map[string]error

// Keys returns the failed task keys in lexical order.
func (f FailureMap) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AwaitCompletion blocks until every handle is done. Successful values are
// returned by key; failures are wrapped in a BackendError tagged with the key
// and label. One unit failing never cancels its siblings.
func AwaitCompletion[T any](log zerolog.Logger, label string, handles []*Handle[T]) (map[string]T, FailureMap) {
	values := make(map[string]T, len(handles))
	failures := FailureMap{}
	for _, h := range handles {
		<-h.done
		v, err := h.Result()
		if err != nil {
			failures[h.Key] = &prov.BackendError{Op: label, Key: h.Key, Err: err}
			log.Error().Err(err).Str("op", label).Str("key", h.Key).Msg("<< unit failed")
			continue
		}
		values[h.Key] = v
	}
	if len(failures) > 0 {
		log.Debug().Str("op", label).Int("failed", len(failures)).Int("total", len(handles)).Msg("<< completed with failures")
	}
	return values, failures
}

// AggregateFailure is returned by bulk operations when some units failed.
type AggregateFailure struct {
	Label    string
	Total    int
	Failures FailureMap
}

func (e *AggregateFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, k := range e.Failures.Keys() {
		parts = append(parts, e.Failures[k].Error())
	}
	return fmt.Sprintf("%s: %d of %d units failed: %s", e.Label, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *AggregateFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, k := range e.Failures.Keys() {
		errs = append(errs, e.Failures[k])
	}
	return errs
}

// AsAggregate extracts an AggregateFailure from err.
func AsAggregate(err error) (*AggregateFailure, bool) {
	var agg *AggregateFailure
	ok := errors.As(err, &agg)
	return agg, ok
}
