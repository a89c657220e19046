package query

import (
	"context"
	"time"
)

// State is a typed view of a query's cache entry.
type State[T any] struct {
	Data        T
	Err         error
	IsLoading   bool
	LastFetched time.Time
}

// Query binds a key and loader to a Cache so callers can fetch, refetch and
// invalidate without repeating them.
type Query[T any] struct {
	cache  *Cache
	key    string
	loader Loader[T]

	enabled   bool
	staleTime time.Duration
	onError   func(error)
	retry     FetchOption
}

// QueryOption configures a Query.
type QueryOption func(*queryConfig)

type queryConfig struct {
	enabled   bool
	staleTime time.Duration
	onError   func(error)
	retry     FetchOption
}

// Enabled turns fetching on or off. A disabled query returns the zero value from
// Fetch and Refetch without touching the cache. Queries are enabled by default.
func Enabled(enabled bool) QueryOption {
	return func(qc *queryConfig) { qc.enabled = enabled }
}

// StaleTime sets the stale time used by Query.Fetch.
func StaleTime(d time.Duration) QueryOption {
	return func(qc *queryConfig) { qc.staleTime = d }
}

// OnError sets the per-fetch error callback.
func OnError(fn func(error)) QueryOption {
	return func(qc *queryConfig) { qc.onError = fn }
}

// Retry sets a fixed retry count.
func Retry(n int) QueryOption {
	return func(qc *queryConfig) { qc.retry = WithRetry(n) }
}

// RetryEnabled sets the boolean retry form.
func RetryEnabled(enabled bool) QueryOption {
	return func(qc *queryConfig) { qc.retry = WithRetryEnabled(enabled) }
}

// NewQuery creates a Query for key on c.
func NewQuery[T any](c *Cache, key string, loader Loader[T], opts ...QueryOption) *Query[T] {
	qc := queryConfig{enabled: true, retry: WithRetry(0)}
	for _, opt := range opts {
		opt(&qc)
	}
	return &Query[T]{
		cache:     c,
		key:       key,
		loader:    loader,
		enabled:   qc.enabled,
		staleTime: qc.staleTime,
		onError:   qc.onError,
		retry:     qc.retry,
	}
}

// Key returns the cache key of the query.
func (q *Query[T]) Key() string {
	return q.key
}

// Fetch returns the cached value if it is still fresh, otherwise it loads it.
func (q *Query[T]) Fetch(ctx context.Context) (T, error) {
	return q.fetch(ctx, q.staleTime)
}

// Refetch always calls the loader, ignoring any cached value.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	return q.fetch(ctx, 0)
}

func (q *Query[T]) fetch(ctx context.Context, staleTime time.Duration) (T, error) {
	if !q.enabled {
		var zero T
		return zero, nil
	}
	return Fetch(ctx, q.cache, q.key, q.loader,
		WithStaleTime(staleTime),
		WithOnError(q.onError),
		q.retry,
	)
}

// Invalidate removes the query's entry from the cache.
func (q *Query[T]) Invalidate() {
	q.cache.Invalidate(q.key)
}

// State returns the current entry for the query. Data is the zero value when the
// entry is missing, failed, or holds a value of another type.
func (q *Query[T]) State() State[T] {
	ent, ok := q.cache.Entry(q.key)
	if !ok {
		return State[T]{}
	}
	st := State[T]{
		Err:         ent.Err,
		IsLoading:   ent.IsLoading,
		LastFetched: ent.LastFetched,
	}
	if data, ok := ent.Data.(T); ok {
		st.Data = data
	}
	return st
}
