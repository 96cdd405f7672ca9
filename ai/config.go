// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"strings"
	"time"
)

// Provider selects the embedding implementation.
type Provider string

const (
	// ProviderInference posts {"inputs": text} to a model inference endpoint.
	ProviderInference Provider = "inference"
	// ProviderOpenAI uses an OpenAI-compatible /v1/embeddings API.
	ProviderOpenAI Provider = "openai"
)

// Config holds configuration for embedding service clients.
type Config struct {
	// Provider selects the client implementation.
	// Default: ProviderInference
	Provider Provider

	// EmbeddingHost is the endpoint URL. For ProviderInference it is the full
	// invocation URL; for ProviderOpenAI it is the API base URL.
	// Example: "http://localhost:8080/embed", "http://localhost:11434/v1"
	EmbeddingHost string

	// EmbeddingModel is the model identifier. Required for ProviderOpenAI only.
	// Example: "text-embedding-3-small"
	EmbeddingModel string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// MaxInputChars truncates input text before it is sent.
	// Default: 512
	MaxInputChars int

	// MaxRetries is the total number of attempts per text.
	// Default: 3
	MaxRetries int

	// RetryDelay is the wait between attempts after an ordinary failure.
	// Default: 2s
	RetryDelay time.Duration

	// WorkerDiedDelay is multiplied by the attempt number when the service
	// reports that its worker died.
	// Default: 5s
	WorkerDiedDelay time.Duration

	// RequestTimeout bounds a single HTTP request.
	// Default: 30s
	RequestTimeout time.Duration

	// RequestsPerSecond limits the request rate. Zero disables limiting.
	RequestsPerSecond float64
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the embedding implementation.
func WithProvider(provider Provider) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithEmbeddingHost sets the embedding service URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithMaxInputChars sets the input truncation limit.
func WithMaxInputChars(n int) ConfigOption {
	return func(c *Config) {
		c.MaxInputChars = n
	}
}

// WithMaxRetries sets the total number of attempts per text.
func WithMaxRetries(n int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithRetryDelay sets the delay between ordinary retries.
func WithRetryDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithWorkerDiedDelay sets the linear backoff step for worker failures.
func WithWorkerDiedDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.WorkerDiedDelay = d
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithRequestsPerSecond sets the client-side rate limit.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// DefaultConfig returns a Config with defaults for a local inference endpoint.
func DefaultConfig() *Config {
	return &Config{
		Provider:        ProviderInference,
		EmbeddingHost:   "http://localhost:8080/embed",
		MaxInputChars:   512,
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		WorkerDiedDelay: 5 * time.Second,
		RequestTimeout:  30 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("https://runtime.example.com/endpoints/minilm/invocations"),
//	    WithMaxRetries(5),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get a /v1 suffix; other hosts lose trailing slashes.
func (c *Config) Normalize() {
	if c.Provider == "" {
		c.Provider = ProviderInference
	}
	c.Provider = Provider(strings.ToLower(string(c.Provider)))
	if c.EmbeddingHost == "" {
		return
	}
	c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
	if c.Provider == ProviderOpenAI && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Provider {
	case ProviderInference, ProviderOpenAI:
	default:
		return errors.New("ai config: Provider must be one of inference, openai")
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.Provider == ProviderOpenAI && c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required for the openai provider")
	}
	if c.MaxInputChars <= 0 {
		return errors.New("ai config: MaxInputChars must be greater than 0")
	}
	if c.MaxRetries < 1 {
		return errors.New("ai config: MaxRetries must be at least 1")
	}
	if c.RetryDelay < 0 || c.WorkerDiedDelay < 0 {
		return errors.New("ai config: retry delays must not be negative")
	}
	if c.RequestTimeout < 0 {
		return errors.New("ai config: RequestTimeout must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond must not be negative")
	}
	return nil
}
