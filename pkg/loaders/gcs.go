package loaders

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
)

// GCSConfig identifies where GCSSource reads objects from.
type GCSConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSSource loads raw object contents from a bucket. The object name is the
// configured prefix followed by the cache key.
type GCSSource struct {
	bucket GCSBucketHandle
	prefix string
	logger zerolog.Logger
}

// NewGCSSource creates a GCSSource reading from cfg.BucketName.
func NewGCSSource(cfg *GCSConfig, client GCSClient, logger zerolog.Logger) (*GCSSource, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("gcs bucket name cannot be empty")
	}
	return &GCSSource{
		bucket: client.Bucket(cfg.BucketName),
		prefix: cfg.ObjectPrefix,
		logger: logger.With().Str("component", "GCSSource").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Load reads the object for key.
func (s *GCSSource) Load(ctx context.Context, key string) ([]byte, error) {
	objectName := s.prefix + key
	r, err := s.bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Debug().Str("object", objectName).Msg("Object not found in bucket.")
			return nil, fmt.Errorf("object %s: %w", objectName, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("object", objectName).Msg("Failed to open object.")
		return nil, fmt.Errorf("failed to open object %s: %w", objectName, err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Str("object", objectName).Msg("Failed to close object reader.")
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", objectName, err)
	}
	s.logger.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("Loaded object from bucket.")
	return data, nil
}

// Loader returns a Loader for key.
func (s *GCSSource) Loader(key string) query.Loader[[]byte] {
	return For[[]byte](s, key)
}

// Close is a no-op; the storage client is owned by the caller.
func (s *GCSSource) Close() error {
	return nil
}
