package loaders

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID       string
	CollectionName  string
	CredentialsFile string // Optional
}

// NewFirestoreClient creates a Firestore client, using Application Default
// Credentials unless a credentials file is configured.
func NewFirestoreClient(ctx context.Context, cfg *FirestoreConfig, logger zerolog.Logger, opts ...option.ClientOption) (*firestore.Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore client.")
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return client, nil
}

// FirestoreSource loads documents of one collection, using the cache key as document ID.
type FirestoreSource[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a FirestoreSource for cfg.CollectionName.
func NewFirestoreSource[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Load retrieves a single document by key and maps it onto V.
func (s *FirestoreSource[V]) Load(ctx context.Context, key string) (V, error) {
	var zero V
	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("key", key).Msg("Document not found in Firestore.")
			return zero, fmt.Errorf("document %s: %w", key, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var value V
	if err := docSnap.DataTo(&value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("Successfully loaded data from Firestore.")
	return value, nil
}

// Loader returns a Loader for key.
func (s *FirestoreSource[V]) Loader(key string) query.Loader[V] {
	return For[V](s, key)
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource[V]) Close() error {
	return nil
}
