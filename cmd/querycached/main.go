package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-querycache/pkg/config"
	"github.com/illmade-knight/go-querycache/pkg/invalidation"
	"github.com/illmade-knight/go-querycache/pkg/loaders"
	"github.com/illmade-knight/go-querycache/pkg/metrics"
	"github.com/illmade-knight/go-querycache/pkg/microservice"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "querycached").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using default.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Service failed.")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cacheOpts := []query.Option{
		query.WithLogger(logger),
		query.WithCoalescing(cfg.Query.Coalesce),
	}
	if cfg.Metrics.Enabled {
		cacheOpts = append(cacheOpts, query.WithRecorder(metrics.NewPrometheusRecorder(reg)))
	}
	cache := query.New(cacheOpts...)

	loaderFor, closeSource, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	var pubsubClient *pubsub.Client
	if cfg.Invalidation.Enabled() || cfg.Invalidation.Broadcasts() {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("pubsub.NewClient: %w", err)
		}
		defer func() { _ = pubsubClient.Close() }()
	}

	var listener *invalidation.PubsubListener
	if cfg.Invalidation.Enabled() {
		lcfg := invalidation.LoadDefaultPubsubListenerConfig(cfg.Invalidation.SubscriptionID)
		if cfg.Invalidation.MaxOutstandingMessages > 0 {
			lcfg.MaxOutstandingMessages = cfg.Invalidation.MaxOutstandingMessages
		}
		listener, err = invalidation.NewPubsubListener(ctx, lcfg, pubsubClient, cache, logger)
		if err != nil {
			return err
		}
		if err := listener.Start(ctx); err != nil {
			return err
		}
	}

	serverCfg := microservice.QueryServerConfig{
		HTTPPort:     cfg.HTTPPort,
		FetchOptions: cfg.Query.FetchOptions(),
	}
	if cfg.Metrics.Enabled {
		serverCfg.Gatherer = reg
	}
	if cfg.Invalidation.Broadcasts() {
		publisher, err := invalidation.NewPubsubPublisher(ctx, invalidation.NewPubsubPublisherDefaults(cfg.Invalidation.TopicID), pubsubClient, logger)
		if err != nil {
			return err
		}
		defer publisher.Stop()
		serverCfg.Publisher = publisher
	}
	server := microservice.NewQueryServer(serverCfg, cache, loaderFor, logger)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if listener != nil {
		if err := listener.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Invalidation listener did not stop cleanly.")
		}
	}
	return server.Shutdown(shutdownCtx)
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// newSource builds the keyed loader for the configured source kind and a
// function releasing its clients.
func newSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (microservice.KeyedLoader, func(), error) {
	switch cfg.Source.Kind {
	case config.SourceRedis:
		rc := cfg.Source.Redis
		src, err := loaders.NewRedisSource[json.RawMessage](ctx, &loaders.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return keyed(src.Loader), func() { _ = src.Close() }, nil

	case config.SourceFirestore:
		fcfg := &loaders.FirestoreConfig{
			ProjectID:       cfg.ProjectID,
			CollectionName:  cfg.Source.Firestore.Collection,
			CredentialsFile: cfg.CredentialsFile,
		}
		client, err := loaders.NewFirestoreClient(ctx, fcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		src, err := loaders.NewFirestoreSource[map[string]any](fcfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return keyed(src.Loader), func() { _ = client.Close() }, nil

	case config.SourceGCS:
		client, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		src, err := loaders.NewGCSSource(&loaders.GCSConfig{
			BucketName:   cfg.Source.GCS.Bucket,
			ObjectPrefix: cfg.Source.GCS.ObjectPrefix,
		}, loaders.NewGCSClientAdapter(client), logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return keyed(src.Loader), func() { _ = client.Close() }, nil

	case config.SourceBigQuery:
		bcfg := &loaders.BigQueryConfig{
			ProjectID:       cfg.ProjectID,
			SQL:             cfg.Source.BigQuery.SQL,
			CredentialsFile: cfg.CredentialsFile,
		}
		client, err := loaders.NewBigQueryClient(ctx, bcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		src, err := loaders.NewBigQuerySource[map[string]bigquery.Value](bcfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return keyed(src.Loader), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

func keyed[V any](loader func(key string) query.Loader[V]) microservice.KeyedLoader {
	return func(key string) query.Loader[any] {
		return loaders.Erase(loader(key))
	}
}
