package query

import "github.com/rs/zerolog"

// ErrorReporter is the process-wide sink for fetches that failed after all retries.
// It is invoked once per failed Fetch, before the per-call OnError callback.
type ErrorReporter interface {
	Report(err error)
}

// ReporterFunc adapts a plain function to the ErrorReporter interface.
type ReporterFunc func(err error)

// Report calls f(err).
func (f ReporterFunc) Report(err error) {
	f(err)
}

// LogReporter writes final fetch failures to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter that logs at error level.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "QueryErrorReporter").Logger()}
}

// Report logs the error.
func (r *LogReporter) Report(err error) {
	r.logger.Error().Err(err).Msg("Query failed.")
}

// NopReporter discards every error.
type NopReporter struct{}

// Report does nothing.
func (NopReporter) Report(error) {}
