package loaders

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig holds the project and the parameterised SQL run for each key.
// The SQL must reference the key as the named parameter @key, e.g.
//
//	SELECT name, total FROM `proj.sales.daily` WHERE region = @key
type BigQueryConfig struct {
	ProjectID       string
	SQL             string
	CredentialsFile string // Optional
}

// NewBigQueryClient creates a BigQuery client, using Application Default
// Credentials unless a credentials file is configured.
func NewBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger, opts ...option.ClientOption) (*bigquery.Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQuerySource runs a query per key and returns every row mapped onto V.
type BigQuerySource[V any] struct {
	client *bigquery.Client
	sql    string
	logger zerolog.Logger
}

// NewBigQuerySource creates a BigQuerySource for cfg.SQL.
func NewBigQuerySource[V any](cfg *BigQueryConfig, client *bigquery.Client, logger zerolog.Logger) (*BigQuerySource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client cannot be nil")
	}
	if cfg.SQL == "" {
		return nil, fmt.Errorf("bigquery SQL cannot be empty")
	}
	return &BigQuerySource[V]{
		client: client,
		sql:    cfg.SQL,
		logger: logger.With().Str("component", "BigQuerySource").Logger(),
	}, nil
}

// Load runs the query with @key bound to key.
func (s *BigQuerySource[V]) Load(ctx context.Context, key string) ([]V, error) {
	q := s.client.Query(s.sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "key", Value: key}}

	it, err := q.Read(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to run BigQuery query.")
		return nil, fmt.Errorf("bigquery query for %s: %w", key, err)
	}

	rows := make([]V, 0, it.TotalRows)
	for {
		var row V
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery row for %s: %w", key, err)
		}
		rows = append(rows, row)
	}

	s.logger.Debug().Str("key", key).Int("rows", len(rows)).Msg("Loaded rows from BigQuery.")
	return rows, nil
}

// Loader returns a Loader for key.
func (s *BigQuerySource[V]) Loader(key string) query.Loader[[]V] {
	return For[[]V](s, key)
}

// Close is a no-op; the BigQuery client is owned by the caller.
func (s *BigQuerySource[V]) Close() error {
	return nil
}
