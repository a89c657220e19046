package query

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetryCount is the number of retries used when retry is enabled with a boolean.
const DefaultRetryCount = 3

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used by the cache. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger.With().Str("component", "QueryCache").Logger()
	}
}

// WithErrorReporter sets the sink that receives every final fetch failure.
// When unset, failures are logged through the cache logger.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(c *Cache) {
		c.reporter = reporter
	}
}

// WithClock replaces the system clock, mostly useful in tests.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(c *Cache) {
		c.recorder = recorder
	}
}

// WithCoalescing makes concurrent fetches of the same key share a single attempt
// sequence instead of each calling the loader. It is off by default, in which case
// concurrent fetches run independently and the last one to complete wins.
func WithCoalescing(enabled bool) Option {
	return func(c *Cache) {
		c.coalesce = enabled
	}
}

// fetchConfig holds the per-call settings of a Fetch.
type fetchConfig struct {
	staleTime time.Duration
	onError   func(error)
	retries   int
	// accepts reports whether a cached value can be returned to this caller.
	accepts func(any) bool
}

// FetchOption configures a single Fetch call.
type FetchOption func(*fetchConfig)

// WithStaleTime sets how long a completed fetch is served from the cache.
// The default of zero means every Fetch calls the loader.
func WithStaleTime(d time.Duration) FetchOption {
	return func(fc *fetchConfig) {
		fc.staleTime = d
	}
}

// WithOnError registers a callback invoked when this fetch fails after all retries.
func WithOnError(fn func(error)) FetchOption {
	return func(fc *fetchConfig) {
		fc.onError = fn
	}
}

// WithRetry retries a failing loader n more times, immediately and without backoff.
func WithRetry(n int) FetchOption {
	return func(fc *fetchConfig) {
		fc.retries = max(n, 0)
	}
}

// WithRetryEnabled is the boolean form of WithRetry: true retries DefaultRetryCount
// times, false disables retries.
func WithRetryEnabled(enabled bool) FetchOption {
	return func(fc *fetchConfig) {
		if enabled {
			fc.retries = DefaultRetryCount
		} else {
			fc.retries = 0
		}
	}
}

func newFetchConfig(opts []FetchOption) fetchConfig {
	var fc fetchConfig
	for _, opt := range opts {
		opt(&fc)
	}
	return fc
}
