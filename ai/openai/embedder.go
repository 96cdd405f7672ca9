package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/observability"
	"github.com/poiesic/docingest/retry"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	config   *ai.Config
	clock    retry.Clock
	logger   *slog.Logger
}

// Option configures an Embedder.
type Option func(*Embedder) error

// WithClock sets the clock used for retry delays.
func WithClock(clock retry.Clock) Option {
	return func(e *Embedder) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		e.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Embedder) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// newEmbedder is an internal constructor that returns the concrete type.
func newEmbedder(config *ai.Config, opts ...Option) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Local OpenAI-compatible services accept any token.
	token := config.APIKey
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(token),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	e := &Embedder{
		embedder: embedder,
		config:   config,
		clock:    retry.SystemClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "openai-embedder")
	return e, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config, opts ...Option) (ai.Embedder, error) {
	return newEmbedder(config, opts...)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) (vec []float32, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewEmbeddingError(core.ErrEmptyInput, nil)
	}
	text = truncate(text, e.config.MaxInputChars)
	e.logger.Debug("generating embedding for single text", "length", len(text))

	ctx, span := observability.StartEmbedSpan(ctx, string(ai.ProviderOpenAI), len(text))
	defer func() { observability.EndSpan(span, err) }()

	err = retry.Do(ctx, e.policy(), func(ctx context.Context, attempt int) error {
		out, err := e.embedder.EmbedDocuments(ctx, []string{text})
		if err != nil {
			e.logger.Warn("embedding attempt failed", "attempt", attempt, "err", err)
			return core.NewEmbeddingError(core.ErrTransport, err)
		}
		if len(out) == 0 {
			return core.NewEmbeddingError(core.ErrUnexpectedFormat, errors.New("embedder returned no vectors"))
		}
		if err := core.ValidateVector(out[0]); err != nil {
			return err
		}
		vec = out[0]
		return nil
	}, retry.WithClock(e.clock), retry.WithLogger(e.logger))
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}
	return vec, nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	inputs := make([]string, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, &core.EmbeddingError{Kind: core.ErrEmptyInput, Index: i}
		}
		inputs[i] = truncate(text, e.config.MaxInputChars)
	}

	var out [][]float32
	err := retry.Do(ctx, e.policy(), func(ctx context.Context, attempt int) error {
		vecs, err := e.embedder.EmbedDocuments(ctx, inputs)
		if err != nil {
			return core.NewEmbeddingError(core.ErrTransport, err)
		}
		out = vecs
		return nil
	}, retry.WithClock(e.clock), retry.WithLogger(e.logger))
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	return out, nil
}

func (e *Embedder) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: e.config.MaxRetries,
		Backoff:     retry.FixedBackoff(e.config.RetryDelay),
		Retryable: func(err error) bool {
			return !errors.Is(err, core.ErrEmptyInput)
		},
	}
}

func truncate(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
