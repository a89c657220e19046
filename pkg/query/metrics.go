package query

// Recorder receives cache events for metrics collection.
type Recorder interface {
	// Hit is called when Fetch returns cached data without calling the loader.
	Hit(key string)
	// Miss is called when Fetch has to call the loader.
	Miss(key string)
	// Retry is called before each retry attempt.
	Retry(key string)
	// Failure is called when a fetch fails after exhausting its retries.
	Failure(key string)
	// Invalidated is called for Invalidate (all=false) and InvalidateAll (all=true).
	Invalidated(all bool)
}

// NoopRecorder ignores all events.
type NoopRecorder struct{}

func (NoopRecorder) Hit(string)       {}
func (NoopRecorder) Miss(string)      {}
func (NoopRecorder) Retry(string)     {}
func (NoopRecorder) Failure(string)   {}
func (NoopRecorder) Invalidated(bool) {}
