// Package query provides a key-addressed cache for the results of asynchronous
// fetches. Each key tracks its last value or error, whether a fetch is in flight
// and when the last fetch completed. Callers decide per fetch how long a result
// stays fresh and how many times a failing loader is retried.
package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a key. The context is passed through untouched;
// the cache never cancels a running loader.
type Loader[T any] func(ctx context.Context) (T, error)

// Cache maps keys to entries and runs the fetch state machine for them.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	logger   zerolog.Logger
	reporter ErrorReporter
	clock    Clock
	recorder Recorder
	subs     listeners

	coalesce bool
	group    singleflight.Group
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*Entry),
		logger:   zerolog.Nop(),
		clock:    systemClock{},
		recorder: NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = NewLogReporter(c.logger)
	}
	return c
}

// Fetch returns the cached value for key, or calls loader to produce it.
//
// A cached value is returned only if the last fetch completed within the stale
// time and stored a non-empty value. Otherwise the loader is called, and retried
// as configured. If the final attempt fails, the error reporter and the OnError
// callback are invoked and the loader's error is returned as is.
func Fetch[T any](ctx context.Context, c *Cache, key string, loader Loader[T], opts ...FetchOption) (T, error) {
	var zero T

	fc := newFetchConfig(opts)
	fc.accepts = func(v any) bool {
		_, ok := v.(T)
		return ok
	}

	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		value, err := loader(ctx)
		return value, err
	}, fc)
	if err != nil || v == nil {
		return zero, err
	}
	value, ok := v.(T)
	if !ok {
		// Only reachable when coalesced callers use different types for one key.
		return zero, fmt.Errorf("query %q: shared result has type %T, want %T", key, v, zero)
	}
	return value, nil
}

// Fetch is the untyped form of the package-level Fetch.
func (c *Cache) Fetch(ctx context.Context, key string, loader Loader[any], opts ...FetchOption) (any, error) {
	return c.fetch(ctx, key, loader, newFetchConfig(opts))
}

func (c *Cache) fetch(ctx context.Context, key string, loader Loader[any], fc fetchConfig) (any, error) {
	if data, ok := c.cached(key, fc); ok {
		c.recorder.Hit(key)
		c.logger.Debug().Str("key", key).Msg("Query cache hit.")
		return data, nil
	}
	c.recorder.Miss(key)

	if !c.coalesce {
		return c.load(ctx, key, loader, fc.retries, fc.onError)
	}

	// The shared attempt reports to the process-wide sink once; every caller
	// still gets its own OnError callback.
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, key, loader, fc.retries, nil)
	})
	if err != nil && fc.onError != nil {
		fc.onError(err)
	}
	return v, err
}

// cached returns the entry's data when it can be served without calling the loader.
func (c *Cache) cached(key string, fc fetchConfig) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok || ent.isStale(c.clock.Now(), fc.staleTime) || !ent.hasUsableData() {
		return nil, false
	}
	if fc.accepts != nil && !fc.accepts(ent.Data) {
		return nil, false
	}
	return ent.Data, true
}

// load marks the key as loading and runs the bounded attempt loop.
func (c *Cache) load(ctx context.Context, key string, loader Loader[any], retries int, onError func(error)) (any, error) {
	c.markLoading(key)

	for attempt := 0; ; attempt++ {
		data, err := loader(ctx)
		if err == nil {
			c.complete(key, Entry{Data: data}, EventSuccess)
			c.logger.Debug().Str("key", key).Int("attempts", attempt+1).Msg("Query fetched.")
			return data, nil
		}

		if attempt < retries {
			c.recorder.Retry(key)
			c.logger.Debug().Err(err).Str("key", key).Int("attempt", attempt+1).Msg("Query attempt failed, retrying.")
			continue
		}

		c.recorder.Failure(key)
		c.reporter.Report(err)
		if onError != nil {
			onError(err)
		}
		c.complete(key, Entry{Err: err}, EventError)
		return nil, err
	}
}

func (c *Cache) markLoading(key string) {
	c.mu.Lock()
	next := Entry{}
	if prev, ok := c.entries[key]; ok {
		next = *prev
	}
	next.IsLoading = true
	next.Err = nil
	c.entries[key] = &next
	c.mu.Unlock()

	c.subs.emit(Event{Kind: EventLoading, Key: key, Entry: next})
}

// complete stores the outcome of the final attempt. It re-inserts the key even if
// it was invalidated while the fetch was running.
func (c *Cache) complete(key string, ent Entry, kind EventKind) {
	ent.IsLoading = false
	ent.LastFetched = c.clock.Now()

	c.mu.Lock()
	stored := ent
	c.entries[key] = &stored
	c.mu.Unlock()

	c.subs.emit(Event{Kind: kind, Key: key, Entry: ent})
}

// Invalidate removes the entry for key. Removing a missing key is a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	c.recorder.Invalidated(false)
	if ok {
		c.logger.Debug().Str("key", key).Msg("Query invalidated.")
		c.subs.emit(Event{Kind: EventInvalidated, Key: key})
	}
}

// InvalidateAll removes every entry. Fetches already in flight are not cancelled
// and will store their result when they complete.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	c.recorder.Invalidated(true)
	c.logger.Debug().Int("removed", n).Msg("All queries invalidated.")
	c.subs.emit(Event{Kind: EventCleared})
}

// Entry returns a copy of the entry for key.
func (c *Cache) Entry(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

// Snapshot returns a copy of every entry, keyed by cache key.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(c.entries))
	for k, ent := range c.entries {
		out[k] = *ent
	}
	return out
}

// Len returns the number of keys in the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Subscribe registers fn for every subsequent change and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (c *Cache) Subscribe(fn Listener) (unsubscribe func()) {
	return c.subs.add(fn)
}
