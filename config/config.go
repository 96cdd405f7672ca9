// Package config loads docingest settings from an optional config file,
// an optional .env file and the environment.
//
// Environment variables use the DOCINGEST_ prefix with dots replaced by
// underscores, e.g. DOCINGEST_EMBEDDING_HOST. The variables
// PINECONE_API_KEY, PINECONE_INDEX, EMBEDDING_ENDPOINT and
// EMBEDDING_DIMENSION are accepted as aliases.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
	"github.com/poiesic/docingest/index/pinecone"
	"github.com/poiesic/docingest/index/qdrant"
	"github.com/poiesic/docingest/observability"
)

// Index backends.
const (
	BackendPinecone = "pinecone"
	BackendQdrant   = "qdrant"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "DOCINGEST"

// Config holds all application configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Pinecone  PineconeConfig  `mapstructure:"pinecone"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Host              string        `mapstructure:"host"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	MaxInputChars     int           `mapstructure:"max_input_chars"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	WorkerDiedDelay   time.Duration `mapstructure:"worker_died_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type IndexConfig struct {
	Name             string        `mapstructure:"name"`
	Backend          string        `mapstructure:"backend"`
	Dimension        int           `mapstructure:"dimension"`
	DefaultDimension int           `mapstructure:"default_dimension"`
	Metric           string        `mapstructure:"metric"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts  int           `mapstructure:"max_poll_attempts"`
	Cloud            string        `mapstructure:"cloud"`
	Region           string        `mapstructure:"region"`
	Environment      string        `mapstructure:"environment"`
	PodType          string        `mapstructure:"pod_type"`
	Pods             int           `mapstructure:"pods"`
}

type PineconeConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	ControllerURL string        `mapstructure:"controller_url"`
	Namespace     string        `mapstructure:"namespace"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type QdrantConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	APIKey            string `mapstructure:"api_key"`
	ReplicationFactor int    `mapstructure:"replication_factor"`
	BatchSize         int    `mapstructure:"batch_size"`
}

type IngestConfig struct {
	ChunkSize      int  `mapstructure:"chunk_size"`
	Concurrency    int  `mapstructure:"concurrency"`
	ReportInterval int  `mapstructure:"report_interval"`
	Normalize      bool `mapstructure:"normalize"`
}

type StorageConfig struct {
	// Path of the run history database. Empty disables run history.
	Path string `mapstructure:"path"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// aliases maps config keys to extra environment variable names.
var aliases = map[string]string{
	"pinecone.api_key":  "PINECONE_API_KEY",
	"index.name":        "PINECONE_INDEX",
	"embedding.host":    "EMBEDDING_ENDPOINT",
	"index.dimension":   "EMBEDDING_DIMENSION",
	"embedding.api_key": "EMBEDDING_API_KEY",
	"embedding.model":   "EMBEDDING_MODEL",
	"qdrant.api_key":    "QDRANT_API_KEY",
	"tracing.endpoint":  "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log.level":         "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	emb := ai.DefaultConfig()
	v.SetDefault("embedding.provider", string(emb.Provider))
	v.SetDefault("embedding.host", emb.EmbeddingHost)
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.max_input_chars", emb.MaxInputChars)
	v.SetDefault("embedding.max_retries", emb.MaxRetries)
	v.SetDefault("embedding.retry_delay", emb.RetryDelay)
	v.SetDefault("embedding.worker_died_delay", emb.WorkerDiedDelay)
	v.SetDefault("embedding.request_timeout", emb.RequestTimeout)
	v.SetDefault("embedding.requests_per_second", emb.RequestsPerSecond)

	idx := index.DefaultConfig()
	v.SetDefault("index.name", "")
	v.SetDefault("index.backend", BackendPinecone)
	v.SetDefault("index.dimension", 0)
	v.SetDefault("index.default_dimension", idx.DefaultDimension)
	v.SetDefault("index.metric", string(idx.Metric))
	v.SetDefault("index.poll_interval", idx.PollInterval)
	v.SetDefault("index.max_poll_attempts", idx.MaxPollAttempts)
	v.SetDefault("index.cloud", idx.Serverless.Cloud)
	v.SetDefault("index.region", idx.Serverless.Region)
	v.SetDefault("index.environment", idx.Capacity.Environment)
	v.SetDefault("index.pod_type", idx.Capacity.PodType)
	v.SetDefault("index.pods", idx.Capacity.Pods)

	pc := pinecone.DefaultConfig()
	v.SetDefault("pinecone.api_key", "")
	v.SetDefault("pinecone.controller_url", pc.ControllerURL)
	v.SetDefault("pinecone.namespace", "")
	v.SetDefault("pinecone.batch_size", pc.UpsertBatchSize)
	v.SetDefault("pinecone.timeout", pc.RequestTimeout)

	qc := qdrant.DefaultConfig()
	v.SetDefault("qdrant.host", qc.Host)
	v.SetDefault("qdrant.port", qc.Port)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.replication_factor", qc.ReplicationFactor)
	v.SetDefault("qdrant.batch_size", qc.UpsertBatchSize)

	v.SetDefault("ingest.chunk_size", 200)
	v.SetDefault("ingest.concurrency", 0)
	v.SetDefault("ingest.report_interval", 10)
	v.SetDefault("ingest.normalize", false)

	v.SetDefault("storage.path", "")

	tc := observability.DefaultTracingConfig()
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.environment", tc.Environment)
	v.SetDefault("tracing.sample_rate", tc.SampleRate)

	v.SetDefault("log.level", "info")
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from the file at path, a .env file in the
// working directory and the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
// Hard errors surface when the component configs are validated.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Index.Name == "" {
		warnings = append(warnings, "index.name is empty; pass --index or set PINECONE_INDEX")
	}
	switch c.Index.Backend {
	case BackendPinecone:
		if c.Pinecone.APIKey == "" {
			warnings = append(warnings, "index backend 'pinecone' is configured but pinecone.api_key is empty")
		}
	case BackendQdrant:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown index backend '%s'", c.Index.Backend))
	}
	if c.Index.Dimension < 0 || c.Index.Dimension > core.MaxDimension {
		warnings = append(warnings, fmt.Sprintf("index dimension %d is outside [0, %d]", c.Index.Dimension, core.MaxDimension))
	}
	if !core.Metric(c.Index.Metric).Valid() {
		warnings = append(warnings, fmt.Sprintf("index metric '%s' is not one of cosine, euclidean, dotproduct", c.Index.Metric))
	}
	if ai.Provider(strings.ToLower(c.Embedding.Provider)) == ai.ProviderOpenAI && c.Embedding.Model == "" {
		warnings = append(warnings, "embedding provider 'openai' is configured but embedding.model is empty")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}
	return warnings
}

// AIConfig returns the embedding client configuration.
func (c *Config) AIConfig() *ai.Config {
	e := c.Embedding
	return &ai.Config{
		Provider:          ai.Provider(e.Provider),
		EmbeddingHost:     e.Host,
		EmbeddingModel:    e.Model,
		APIKey:            e.APIKey,
		MaxInputChars:     e.MaxInputChars,
		MaxRetries:        e.MaxRetries,
		RetryDelay:        e.RetryDelay,
		WorkerDiedDelay:   e.WorkerDiedDelay,
		RequestTimeout:    e.RequestTimeout,
		RequestsPerSecond: e.RequestsPerSecond,
	}
}

// IndexConfig returns the index lifecycle configuration.
func (c *Config) IndexConfig() *index.Config {
	i := c.Index
	return index.NewConfig(
		index.WithPollInterval(i.PollInterval),
		index.WithMaxPollAttempts(i.MaxPollAttempts),
		index.WithDefaultDimension(i.DefaultDimension),
		index.WithMetric(core.Metric(i.Metric)),
		index.WithServerless(i.Cloud, i.Region),
		index.WithCapacity(i.Environment, i.PodType, i.Pods),
	)
}

// PineconeConfig returns the Pinecone client configuration.
func (c *Config) PineconeConfig() *pinecone.Config {
	p := c.Pinecone
	return &pinecone.Config{
		APIKey:          p.APIKey,
		ControllerURL:   p.ControllerURL,
		Namespace:       p.Namespace,
		UpsertBatchSize: p.BatchSize,
		RequestTimeout:  p.Timeout,
	}
}

// QdrantConfig returns the Qdrant repository configuration.
func (c *Config) QdrantConfig() *qdrant.Config {
	q := c.Qdrant
	return &qdrant.Config{
		Host:              q.Host,
		Port:              q.Port,
		APIKey:            q.APIKey,
		ReplicationFactor: q.ReplicationFactor,
		UpsertBatchSize:   q.BatchSize,
	}
}

// TracingConfig returns the tracing configuration.
func (c *Config) TracingConfig() *observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.OTLPEndpoint = c.Tracing.Endpoint
	if c.Tracing.ServiceName != "" {
		tc.ServiceName = c.Tracing.ServiceName
	}
	if c.Tracing.Environment != "" {
		tc.Environment = c.Tracing.Environment
	}
	tc.SampleRate = c.Tracing.SampleRate
	return tc
}
