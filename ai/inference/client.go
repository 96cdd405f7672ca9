package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/observability"
	"github.com/poiesic/docingest/retry"
)

const workerDiedMarker = "Worker died"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 1024

type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Client embeds text through a model inference endpoint.
// It is safe for concurrent use.
type Client struct {
	config     *ai.Config
	httpClient *http.Client
	clock      retry.Clock
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithClock sets the clock used for retry delays.
func WithClock(clock retry.Clock) Option {
	return func(c *Client) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a Client from a validated configuration.
func NewClient(config *ai.Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = ai.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{},
		clock:      retry.SystemClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "inference-embedder")

	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return c, nil
}

// Embed returns the embedding of text, making at most maxRetries attempts.
// A non-positive maxRetries uses the configured MaxRetries.
// Blank text fails immediately with core.ErrEmptyInput.
func (c *Client) Embed(ctx context.Context, text string, maxRetries int) (vec []float32, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewEmbeddingError(core.ErrEmptyInput, nil)
	}
	if maxRetries <= 0 {
		maxRetries = c.config.MaxRetries
	}

	ctx, span := observability.StartEmbedSpan(ctx, string(ai.ProviderInference), len(text))
	defer func() { observability.EndSpan(span, err) }()

	text = c.truncate(text)

	policy := retry.Policy{
		MaxAttempts: maxRetries,
		Backoff:     c.backoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, core.ErrEmptyInput)
		},
	}
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		v, err := c.request(ctx, text)
		if err != nil {
			c.logger.Warn("embedding attempt failed", "attempt", attempt, "maxAttempts", maxRetries, "err", err)
			return err
		}
		vec = v
		return nil
	}, retry.WithClock(c.clock), retry.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedText embeds a single text with the configured retry budget.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.Embed(ctx, text, c.config.MaxRetries)
}

// EmbedTexts embeds texts one after another. The first failure aborts.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= c.config.MaxInputChars {
		return text
	}
	c.logger.Debug("truncating input", "length", len(runes), "maxInputChars", c.config.MaxInputChars)
	return string(runes[:c.config.MaxInputChars])
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	if strings.Contains(err.Error(), workerDiedMarker) {
		return time.Duration(attempt) * c.config.WorkerDiedDelay
	}
	return c.config.RetryDelay
}

func (c *Client) request(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.EmbeddingHost, bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewEmbeddingError(core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewEmbeddingError(core.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewEmbeddingError(core.ErrTransport, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, core.NewEmbeddingError(core.ErrTransport,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	return Normalize(body)
}

var _ ai.Embedder = (*Client)(nil)
