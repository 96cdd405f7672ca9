package pinecone

import (
	"errors"
	"strings"
	"time"
)

// Config holds the Pinecone client settings.
type Config struct {
	// APIKey authenticates every request.
	APIKey string

	// ControllerURL is the control plane base URL.
	// Default: https://api.pinecone.io
	ControllerURL string

	// Namespace receives upserted vectors. Empty means the default namespace.
	Namespace string

	// UpsertBatchSize is the number of vectors per upsert request.
	// Default: 100
	UpsertBatchSize int

	// RequestTimeout bounds a single control plane request.
	// Default: 30s
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with default values and no API key.
func DefaultConfig() *Config {
	return &Config{
		ControllerURL:   "https://api.pinecone.io",
		UpsertBatchSize: 100,
		RequestTimeout:  30 * time.Second,
	}
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	c.ControllerURL = strings.TrimSuffix(c.ControllerURL, "/")
	if c.APIKey == "" {
		return errors.New("pinecone config: APIKey is required")
	}
	if c.ControllerURL == "" {
		return errors.New("pinecone config: ControllerURL is required")
	}
	// Pinecone rejects upserts of more than 1000 vectors.
	if c.UpsertBatchSize < 1 || c.UpsertBatchSize > 1000 {
		return errors.New("pinecone config: UpsertBatchSize must be between 1 and 1000")
	}
	if c.RequestTimeout < 0 {
		return errors.New("pinecone config: RequestTimeout must not be negative")
	}
	return nil
}
