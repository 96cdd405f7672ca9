package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/observability"
	"github.com/poiesic/docingest/retry"
)

// pollLogEvery controls how often a long wait is reported at info level.
const pollLogEvery = 6

// Manager ensures a named index exists and is ready.
type Manager struct {
	service  Service
	embedder ai.Embedder
	config   *Config
	clock    retry.Clock
	logger   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithEmbedder sets the embedder used to detect the dimension of new indexes.
func WithEmbedder(embedder ai.Embedder) ManagerOption {
	return func(m *Manager) error {
		m.embedder = embedder
		return nil
	}
}

// WithClock sets the clock used between readiness checks.
func WithClock(clock retry.Clock) ManagerOption {
	return func(m *Manager) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		m.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a Manager for service. A nil config uses DefaultConfig.
func NewManager(service Service, config *Config, opts ...ManagerOption) (*Manager, error) {
	if service == nil {
		return nil, errors.New("index service cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		service: service,
		config:  config,
		clock:   retry.SystemClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "index-manager")
	return m, nil
}

// EnsureReady returns a descriptor of the named index in the Ready state,
// creating the index first when it does not exist.
//
// explicitDimension, when positive, is used for creation and must match
// the dimension of an existing index.
func (m *Manager) EnsureReady(ctx context.Context, name string, explicitDimension int) (desc *core.IndexDescriptor, err error) {
	ctx, span := observability.StartIndexSpan(ctx, "ensure", name)
	defer func() { observability.EndSpan(span, err) }()

	desc = &core.IndexDescriptor{
		Name:   name,
		Metric: m.config.Metric,
		State:  core.IndexStateUnknown,
	}

	m.logger.Debug("checking index", "index", name)
	stats, err := m.service.DescribeIndex(ctx, name)
	switch {
	case err == nil:
		m.logger.Info("index exists", "index", name, "dimension", stats.Dimension)
		return m.markReady(desc, stats, explicitDimension)
	case errors.Is(err, ErrNotReady):
		// Someone else is creating it.
		m.logger.Info("index exists but is not ready", "index", name)
		desc.State = core.IndexStateCreating
		desc.Dimension = explicitDimension
		return m.awaitReady(ctx, desc)
	case IsNotFound(err):
	default:
		return nil, core.NewIndexError(core.ErrConnectionFailed, name, err)
	}

	desc.State = core.IndexStateCreating
	desc.Dimension = m.resolveDimension(ctx, explicitDimension)
	m.logger.Info("index not found, creating", "index", name, "dimension", desc.Dimension)

	created, err := m.create(ctx, name, desc.Dimension)
	if err != nil {
		return nil, err
	}
	desc.Created = created
	return m.awaitReady(ctx, desc)
}

// markReady moves desc to Ready, adopting the properties reported by the
// service. A positive want that differs from the reported dimension fails.
func (m *Manager) markReady(desc *core.IndexDescriptor, stats *Stats, want int) (*core.IndexDescriptor, error) {
	if stats != nil {
		if stats.Dimension > 0 {
			if want > 0 && want != stats.Dimension {
				return nil, core.NewIndexError(core.ErrDimensionMismatch, desc.Name,
					fmt.Errorf("index has dimension %d, want %d", stats.Dimension, want))
			}
			desc.Dimension = stats.Dimension
		}
		if stats.Metric != "" {
			desc.Metric = stats.Metric
		}
	}
	if desc.Dimension <= 0 {
		desc.Dimension = want
	}
	desc.State = core.IndexStateReady
	return desc, nil
}

func (m *Manager) resolveDimension(ctx context.Context, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	if m.embedder != nil {
		vec, err := m.embedder.EmbedText(ctx, m.config.SampleText)
		if err == nil && len(vec) > 0 && len(vec) <= core.MaxDimension {
			m.logger.Info("detected embedding dimension", "dimension", len(vec))
			return len(vec)
		}
		m.logger.Warn("could not detect dimension from sample embedding, using default",
			"default", m.config.DefaultDimension, "err", err)
	}
	return m.config.DefaultDimension
}

// create tries the serverless spec, then the capacity spec. It reports
// whether this call created the index.
func (m *Manager) create(ctx context.Context, name string, dim int) (bool, error) {
	serverless := m.config.Serverless
	err := m.service.CreateIndex(ctx, CreateRequest{
		Name:      name,
		Dimension: dim,
		Metric:    m.config.Metric,
		Spec:      Spec{Serverless: &serverless},
	})
	if err == nil {
		m.logger.Info("index created", "index", name, "spec", "serverless")
		return true, nil
	}
	if IsAlreadyExists(err) {
		m.logger.Info("index was created concurrently", "index", name)
		return false, nil
	}
	m.logger.Warn("serverless creation failed, trying capacity spec", "index", name, "err", err)

	capacity := m.config.Capacity
	err2 := m.service.CreateIndex(ctx, CreateRequest{
		Name:      name,
		Dimension: dim,
		Metric:    m.config.Metric,
		Spec:      Spec{Capacity: &capacity},
	})
	if err2 == nil {
		m.logger.Info("index created", "index", name, "spec", "capacity")
		return true, nil
	}
	if IsAlreadyExists(err2) {
		m.logger.Info("index was created concurrently", "index", name)
		return false, nil
	}
	return false, core.NewIndexError(core.ErrCreationFailed, name, errors.Join(err, err2))
}

// awaitReady sleeps PollInterval before each of at most MaxPollAttempts
// readiness checks.
func (m *Manager) awaitReady(ctx context.Context, desc *core.IndexDescriptor) (*core.IndexDescriptor, error) {
	m.logger.Info("waiting for index to be ready", "index", desc.Name)

	if err := m.clock.Sleep(ctx, m.config.PollInterval); err != nil {
		return nil, err
	}

	var stats *Stats
	policy := retry.Policy{
		MaxAttempts: m.config.MaxPollAttempts,
		Backoff:     retry.FixedBackoff(m.config.PollInterval),
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		s, err := m.service.DescribeIndex(ctx, desc.Name)
		if err != nil {
			m.logger.Debug("index not ready yet", "index", desc.Name, "attempt", attempt, "maxAttempts", m.config.MaxPollAttempts, "err", err)
			if attempt%pollLogEvery == 0 {
				m.logger.Info("still waiting for index", "index", desc.Name, "elapsed", m.config.PollInterval*time.Duration(attempt))
			}
			return err
		}
		stats = s
		return nil
	}, retry.WithClock(m.clock), retry.WithLogger(m.logger))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewIndexError(core.ErrCreationTimeout, desc.Name,
			fmt.Errorf("not ready after %d checks: %w", m.config.MaxPollAttempts, err))
	}

	m.logger.Info("index is ready", "index", desc.Name)
	return m.markReady(desc, stats, desc.Dimension)
}
