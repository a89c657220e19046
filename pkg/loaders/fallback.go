package loaders

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
)

// Fallback returns a Loader that tries primary first and secondary when primary fails.
// If both fail the returned error wraps both failures.
func Fallback[V any](primary, secondary query.Loader[V], logger zerolog.Logger) query.Loader[V] {
	logger = logger.With().Str("component", "FallbackLoader").Logger()

	return func(ctx context.Context) (V, error) {
		value, err := primary(ctx)
		if err == nil {
			return value, nil
		}
		logger.Debug().Err(err).Msg("Primary load failed. Falling back to secondary.")

		value, fallbackErr := secondary(ctx)
		if fallbackErr != nil {
			logger.Error().Err(fallbackErr).Msg("Error loading from secondary.")
			var zero V
			return zero, fmt.Errorf("error loading from fallback: %w", errors.Join(err, fallbackErr))
		}
		return value, nil
	}
}
