package index

import (
	"errors"
	"time"

	"github.com/poiesic/docingest/core"
)

// Config holds the index lifecycle settings.
type Config struct {
	// PollInterval is the wait before each readiness check.
	// Default: 10s
	PollInterval time.Duration

	// MaxPollAttempts is the number of readiness checks before giving up.
	// Default: 60
	MaxPollAttempts int

	// DefaultDimension is used when neither the caller nor a sample
	// embedding supplies one.
	// Default: 384
	DefaultDimension int

	// SampleText is embedded once to detect the dimension.
	SampleText string

	// Metric is the similarity metric of created indexes.
	// Default: cosine
	Metric core.Metric

	// Serverless is the first-choice creation spec.
	Serverless ServerlessSpec

	// Capacity is the fallback creation spec.
	Capacity CapacitySpec
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithPollInterval sets the wait before each readiness check.
func WithPollInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithMaxPollAttempts sets the readiness check budget.
func WithMaxPollAttempts(n int) ConfigOption {
	return func(c *Config) {
		c.MaxPollAttempts = n
	}
}

// WithDefaultDimension sets the fallback dimension.
func WithDefaultDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.DefaultDimension = dim
	}
}

// WithMetric sets the similarity metric of created indexes.
func WithMetric(m core.Metric) ConfigOption {
	return func(c *Config) {
		c.Metric = m
	}
}

// WithServerless sets the serverless creation spec.
func WithServerless(cloud, region string) ConfigOption {
	return func(c *Config) {
		c.Serverless = ServerlessSpec{Cloud: cloud, Region: region}
	}
}

// WithCapacity sets the fallback capacity creation spec.
func WithCapacity(environment, podType string, pods int) ConfigOption {
	return func(c *Config) {
		c.Capacity = CapacitySpec{Environment: environment, PodType: podType, Pods: pods}
	}
}

// DefaultConfig returns the lifecycle settings used for Pinecone-style
// services.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     10 * time.Second,
		MaxPollAttempts:  60,
		DefaultDimension: 384,
		SampleText:       "sample text for dimension detection",
		Metric:           core.MetricCosine,
		Serverless:       ServerlessSpec{Cloud: "aws", Region: "us-east-1"},
		Capacity:         CapacitySpec{Environment: "us-east-1-aws", PodType: "p1.x1", Pods: 1},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.PollInterval < 0 {
		return errors.New("index config: PollInterval must not be negative")
	}
	if c.MaxPollAttempts < 1 {
		return errors.New("index config: MaxPollAttempts must be at least 1")
	}
	if c.DefaultDimension <= 0 || c.DefaultDimension > core.MaxDimension {
		return errors.New("index config: DefaultDimension out of range")
	}
	if !c.Metric.Valid() {
		return errors.New("index config: Metric must be one of cosine, euclidean, dotproduct")
	}
	if c.Serverless.Cloud == "" || c.Serverless.Region == "" {
		return errors.New("index config: Serverless cloud and region are required")
	}
	if c.Capacity.Environment == "" || c.Capacity.PodType == "" || c.Capacity.Pods < 1 {
		return errors.New("index config: Capacity environment, pod type and pods are required")
	}
	return nil
}
