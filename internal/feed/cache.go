package feed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// query is one cached request/response value. A zero staleness window
// means the value is cached until explicitly invalidated; otherwise it
// goes stale on its own after the window. Concurrent refetches collapse
// into a single network call through the shared singleflight group.
type query[T any] struct {
	name  string
	stale time.Duration
	fetch func(ctx context.Context) (T, error)
	group *singleflight.Group
	now   func() time.Time

	mu        sync.Mutex
	value     T
	valid     bool
	gen       uint64
	fetchedAt time.Time
	lastErr   string
}

func newQuery[T any](name string, stale time.Duration, group *singleflight.Group, now func() time.Time, fetch func(ctx context.Context) (T, error)) *query[T] {
	return &query[T]{
		name:  name,
		stale: stale,
		fetch: fetch,
		group: group,
		now:   now,
	}
}

// get returns the cached value or refetches it when absent or stale.
func (q *query[T]) get(ctx context.Context) (T, error) {
	q.mu.Lock()
	if q.valid && (q.stale == 0 || q.now().Sub(q.fetchedAt) < q.stale) {
		v := q.value
		q.mu.Unlock()
		return v, nil
	}
	gen := q.gen
	q.mu.Unlock()

	v, err, _ := q.group.Do(q.name, func() (interface{}, error) {
		val, err := q.fetch(ctx)
		if err != nil {
			return nil, err
		}
		q.mu.Lock()
		q.value = val
		// An invalidation that landed while the fetch was in flight wins:
		// the value is kept for peek but the next get refetches.
		q.valid = q.gen == gen
		q.fetchedAt = q.now()
		q.lastErr = ""
		q.mu.Unlock()
		return val, nil
	})
	if err != nil {
		q.mu.Lock()
		q.lastErr = err.Error()
		q.mu.Unlock()
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// peek returns the cached value without fetching.
func (q *query[T]) peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value, q.valid
}

// mutate applies an optimistic local edit to the cached value. No-op
// when nothing is cached.
func (q *query[T]) mutate(f func(T) T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.valid {
		return
	}
	q.value = f(q.value)
}

// invalidate forces a refetch on the next get, including one whose
// fetch is already in flight.
func (q *query[T]) invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.valid = false
	q.gen++
}

// err returns the error string of the last failed fetch, cleared by the
// next successful one.
func (q *query[T]) err() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}
