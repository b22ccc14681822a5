// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/validator"
)

// Storage providers accepted by storage.provider.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Pipeline  PipelineConfig          `mapstructure:"pipeline"`
	Fetcher   FetcherConfig           `mapstructure:"fetcher"`
	Extractor ExtractorConfig         `mapstructure:"extractor"`
	Validator ValidatorConfig         `mapstructure:"validator"`
	Safety    SafetyConfig            `mapstructure:"safety"`
	Uploader  UploaderConfig          `mapstructure:"uploader"`
	Storage   StorageConfig           `mapstructure:"storage"`
	DB        DBConfig                `mapstructure:"db"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs orchestration and serve-mode fan-out.
type PipelineConfig struct {
	Concurrency        int  `mapstructure:"concurrency"`
	MaxArticlesPerRun  int  `mapstructure:"max_articles_per_run"`
	ValidationRequired bool `mapstructure:"validation_required"`
	RelevanceMinHits   int  `mapstructure:"relevance_min_hits"`
	Workers            int  `mapstructure:"workers"`
	QueueDepth         int  `mapstructure:"queue_depth"`
	RunTimeoutSeconds  int  `mapstructure:"run_timeout_seconds"`
}

// FetcherConfig configures the fetch cascade and its HTTP client.
type FetcherConfig struct {
	RateLimitRPS          float64 `mapstructure:"rate_limit_rps"`
	MinContentChars       int     `mapstructure:"min_content_chars"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	MaxConnections        int     `mapstructure:"max_connections"`
	MaxConnectionsPerHost int     `mapstructure:"max_connections_per_host"`
	BatchConcurrency      int     `mapstructure:"batch_concurrency"`
	UserAgent             string  `mapstructure:"user_agent"`
}

// ExtractorConfig toggles optional extraction strategies.
type ExtractorConfig struct {
	ReadabilityEnabled bool `mapstructure:"readability_enabled"`
}

// ValidatorConfig tunes record and batch scoring.
type ValidatorConfig struct {
	Factors             validator.Factors `mapstructure:"factors"`
	MinBatchSuccessRate float64           `mapstructure:"min_batch_success_rate"`
	MinBatchMeanScore   float64           `mapstructure:"min_batch_mean_score"`
}

// SafetyConfig bounds what the gate admits.
type SafetyConfig struct {
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

// UploaderConfig controls artifact placement and put retries.
type UploaderConfig struct {
	Version          string `mapstructure:"version"`
	ProcessorVersion string `mapstructure:"processor_version"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Provider string   `mapstructure:"provider"`
	Bucket   string   `mapstructure:"bucket"`
	BaseDir  string   `mapstructure:"base_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds S3/MinIO connection settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DBConfig controls access to the ledger database. An empty DSN disables
// the ledger and keeps run status in memory.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	BatchTable  string `mapstructure:"batch_table"`
	RecordTable string `mapstructure:"record_table"`
	RunTable    string `mapstructure:"run_table"`
}

// PubSubConfig holds metadata for batch notifications. An empty project
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes one publication.
type SourceConfig struct {
	DisplayName string   `mapstructure:"display_name"`
	BaseURL     string   `mapstructure:"base_url"`
	URLs        []string `mapstructure:"urls"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("pipeline.max_articles_per_run", 1000)
	v.SetDefault("pipeline.validation_required", true)
	v.SetDefault("pipeline.relevance_min_hits", validator.MinRelevanceHits)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("pipeline.run_timeout_seconds", 0)
	v.SetDefault("fetcher.rate_limit_rps", 1.0)
	v.SetDefault("fetcher.min_content_chars", 500)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.connect_timeout_seconds", 10)
	v.SetDefault("fetcher.max_connections", 10)
	v.SetDefault("fetcher.max_connections_per_host", 5)
	v.SetDefault("fetcher.batch_concurrency", 5)
	v.SetDefault("fetcher.user_agent", "music-content-pipeline/1.0 (+https://github.com/JakeFAU/music-content-pipeline)")
	v.SetDefault("extractor.readability_enabled", true)
	v.SetDefault("validator.min_batch_success_rate", 0.7)
	v.SetDefault("validator.min_batch_mean_score", 0.6)
	for key, value := range factorValues(validator.DefaultFactors()) {
		v.SetDefault("validator.factors."+key, value)
	}
	v.SetDefault("safety.max_batch_size", 100)
	v.SetDefault("uploader.version", "music-content-pipeline/1.0")
	v.SetDefault("uploader.processor_version", "1.0")
	v.SetDefault("uploader.max_attempts", 3)
	v.SetDefault("uploader.backoff_initial_ms", 250)
	v.SetDefault("uploader.backoff_max_ms", 5000)
	v.SetDefault("storage.provider", StorageMemory)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.batch_table", "scrape_batches")
	v.SetDefault("db.record_table", "scraped_records")
	v.SetDefault("db.run_table", "pipeline_runs")
	v.SetDefault("pubsub.topic_name", "music-content-batches")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Pipeline.Concurrency <= 0:
		return fmt.Errorf("pipeline.concurrency must be > 0")
	case c.Pipeline.MaxArticlesPerRun <= 0:
		return fmt.Errorf("pipeline.max_articles_per_run must be > 0")
	case c.Pipeline.RelevanceMinHits <= 0:
		return fmt.Errorf("pipeline.relevance_min_hits must be > 0")
	case c.Pipeline.Workers <= 0:
		return fmt.Errorf("pipeline.workers must be > 0")
	case c.Pipeline.QueueDepth < 0:
		return fmt.Errorf("pipeline.queue_depth must be >= 0")
	case c.Pipeline.RunTimeoutSeconds < 0:
		return fmt.Errorf("pipeline.run_timeout_seconds must be >= 0")
	case c.Fetcher.RateLimitRPS < 0:
		return fmt.Errorf("fetcher.rate_limit_rps must be >= 0")
	case c.Fetcher.TimeoutSeconds <= 0:
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	case c.Safety.MaxBatchSize <= 0:
		return fmt.Errorf("safety.max_batch_size must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateFactors(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c Config) validateFactors() error {
	for name, value := range factorValues(c.Validator.Factors) {
		if value < 0 || value > 1 {
			return fmt.Errorf("validator.factors.%s must be within [0, 1]", name)
		}
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Provider {
	case StorageMemory:
		return nil
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
		return nil
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs provider")
		}
		return nil
	case StorageS3:
		if c.Storage.Bucket == "" || c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.bucket and storage.s3.endpoint are required for the s3 provider")
		}
		return nil
	default:
		return fmt.Errorf("storage.provider %q is not one of memory, local, gcs, s3", c.Storage.Provider)
	}
}

func factorValues(f validator.Factors) map[string]float64 {
	return map[string]float64{
		"structure_failure": f.StructureFailure,
		"short_body":        f.ShortBody,
		"long_body":         f.LongBody,
		"short_title":       f.ShortTitle,
		"long_title":        f.LongTitle,
		"failure_signature": f.FailureSignature,
		"repetitive":        f.Repetitive,
		"low_text_ratio":    f.LowTextRatio,
		"unknown_source":    f.UnknownSource,
		"long_citation":     f.LongCitation,
		"bad_date":          f.BadDate,
		"no_keywords":       f.NoKeywords,
		"few_keywords":      f.FewKeywords,
		"lake_incompatible": f.LakeIncompatible,
	}
}

// RunTimeout returns the per-run scheduling limit; zero means none.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutSeconds) * time.Second
}

// RequestTimeout returns the API handler deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// SourceURLs returns the configured static URL lists keyed by source.
func (c Config) SourceURLs() map[content.Source][]string {
	out := make(map[content.Source][]string, len(c.Sources))
	for tag, src := range c.Sources {
		out[content.Source(tag)] = src.URLs
	}
	return out
}

// DisplayNames returns configured display-name overrides keyed by source.
func (c Config) DisplayNames() map[content.Source]string {
	out := make(map[content.Source]string, len(c.Sources))
	for tag, src := range c.Sources {
		if src.DisplayName != "" {
			out[content.Source(tag)] = src.DisplayName
		}
	}
	return out
}

// KnownSource reports whether tag is built in or configured.
func (c Config) KnownSource(tag content.Source) bool {
	if tag.Valid() {
		return true
	}
	_, ok := c.Sources[string(tag)]
	return ok
}
