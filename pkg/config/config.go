// Package config loads the querycached service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/query"
	"gopkg.in/yaml.v3"
)

// Source kinds understood by the service.
const (
	SourceRedis     = "redis"
	SourceFirestore = "firestore"
	SourceGCS       = "gcs"
	SourceBigQuery  = "bigquery"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`

	Query        QueryConfig        `yaml:"query"`
	Source       SourceConfig       `yaml:"source"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// QueryConfig holds the fetch defaults applied to every request.
type QueryConfig struct {
	StaleTime time.Duration `yaml:"stale_time"`
	Retry     Retry         `yaml:"retry"`
	Coalesce  bool          `yaml:"coalesce"`
}

// SourceConfig selects and configures the backing data source.
type SourceConfig struct {
	Kind      string          `yaml:"kind"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
	GCS       GCSConfig       `yaml:"gcs"`
	BigQuery  BigQueryConfig  `yaml:"bigquery"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type FirestoreConfig struct {
	Collection string `yaml:"collection"`
}

type GCSConfig struct {
	Bucket       string `yaml:"bucket"`
	ObjectPrefix string `yaml:"object_prefix"`
}

type BigQueryConfig struct {
	SQL string `yaml:"sql"`
}

// InvalidationConfig enables the Pub/Sub invalidation feed when SubscriptionID
// is set. TopicID enables broadcasting invalidations made through the API.
type InvalidationConfig struct {
	SubscriptionID         string `yaml:"subscription_id"`
	TopicID                string `yaml:"topic_id"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
}

// Enabled reports whether an invalidation subscription is configured.
func (c InvalidationConfig) Enabled() bool {
	return c.SubscriptionID != ""
}

// Broadcasts reports whether invalidations are published to a topic.
func (c InvalidationConfig) Broadcasts() bool {
	return c.TopicID != ""
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		HTTPPort:    ":8080",
		ServiceName: "querycached",
		Source:      SourceConfig{Kind: SourceRedis, Redis: RedisConfig{Addr: "localhost:6379"}},
		Metrics:     MetricsConfig{Enabled: true},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setString("LOG_LEVEL", &c.LogLevel)
	setString("HTTP_PORT", &c.HTTPPort)
	setString("GCP_PROJECT_ID", &c.ProjectID)
	setString("GCP_CREDENTIALS_FILE", &c.CredentialsFile)
	setString("QUERY_SOURCE", &c.Source.Kind)
	setString("REDIS_ADDR", &c.Source.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Source.Redis.Password)
	setString("INVALIDATION_SUBSCRIPTION_ID", &c.Invalidation.SubscriptionID)
	setString("INVALIDATION_TOPIC_ID", &c.Invalidation.TopicID)

	if v := os.Getenv("QUERY_STALE_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_STALE_TIME %q: %w", v, err)
		}
		c.Query.StaleTime = d
	}
	if v := os.Getenv("QUERY_RETRY"); v != "" {
		r, err := parseRetry(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_RETRY %q: %w", v, err)
		}
		c.Query.Retry = r
	}
	return nil
}

// Validate checks that the configuration can start a service.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if c.Query.StaleTime < 0 {
		errs = append(errs, errors.New("query.stale_time cannot be negative"))
	}
	if c.Query.Retry.Count < 0 {
		errs = append(errs, errors.New("query.retry cannot be negative"))
	}

	switch c.Source.Kind {
	case SourceRedis:
		if c.Source.Redis.Addr == "" {
			errs = append(errs, errors.New("source.redis.addr is required"))
		}
	case SourceFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required for the firestore source"))
		}
		if c.Source.Firestore.Collection == "" {
			errs = append(errs, errors.New("source.firestore.collection is required"))
		}
	case SourceGCS:
		if c.Source.GCS.Bucket == "" {
			errs = append(errs, errors.New("source.gcs.bucket is required"))
		}
	case SourceBigQuery:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required for the bigquery source"))
		}
		if c.Source.BigQuery.SQL == "" {
			errs = append(errs, errors.New("source.bigquery.sql is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}

	if (c.Invalidation.Enabled() || c.Invalidation.Broadcasts()) && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for invalidation"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// FetchOptions returns the per-fetch options described by the query section.
func (q QueryConfig) FetchOptions() []query.FetchOption {
	return []query.FetchOption{
		query.WithStaleTime(q.StaleTime),
		query.WithRetry(q.Retry.Count),
	}
}
