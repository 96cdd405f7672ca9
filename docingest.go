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

// Package docingest wires the embedding client, index lifecycle manager,
// run history and ingestion pipeline into a single Ingestor.
package docingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/ai/inference"
	"github.com/poiesic/docingest/ai/openai"
	"github.com/poiesic/docingest/config"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
	"github.com/poiesic/docingest/index/pinecone"
	"github.com/poiesic/docingest/index/qdrant"
	"github.com/poiesic/docingest/ingestion"
	"github.com/poiesic/docingest/retry"
	"github.com/poiesic/docingest/storage"
	"github.com/poiesic/docingest/storage/badger"
)

// Ingestor is the entry point for ingesting documents into one vector
// database. It owns the pipeline worker pool and, when opened from a path,
// the run history.
type Ingestor struct {
	embedder ai.Embedder
	service  index.Service
	manager  *index.Manager
	runs     storage.RunRepository
	pipeline *ingestion.Pipeline
	closers  []func() error
	logger   *slog.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*ingestorOptions)

type ingestorOptions struct {
	aiConfig        *ai.Config
	indexConfig     *index.Config
	embedder        ai.Embedder
	service         index.Service
	runsPath        string
	runs            storage.RunRepository
	clock           retry.Clock
	logger          *slog.Logger
	pipelineOptions []ingestion.Option
}

// WithAIConfig sets the embedding client configuration.
func WithAIConfig(cfg *ai.Config) IngestorOption {
	return func(o *ingestorOptions) {
		o.aiConfig = cfg
	}
}

// WithIndexConfig sets the index lifecycle configuration.
func WithIndexConfig(cfg *index.Config) IngestorOption {
	return func(o *ingestorOptions) {
		o.indexConfig = cfg
	}
}

// WithEmbedder uses embedder instead of building one from the AI config.
func WithEmbedder(embedder ai.Embedder) IngestorOption {
	return func(o *ingestorOptions) {
		o.embedder = embedder
	}
}

// WithIndexService sets the vector index backend.
func WithIndexService(service index.Service) IngestorOption {
	return func(o *ingestorOptions) {
		o.service = service
	}
}

// WithRunHistory records runs in a badger database at path.
func WithRunHistory(path string) IngestorOption {
	return func(o *ingestorOptions) {
		o.runsPath = path
	}
}

// WithRunRepository records runs in repo. The caller keeps ownership.
func WithRunRepository(repo storage.RunRepository) IngestorOption {
	return func(o *ingestorOptions) {
		o.runs = repo
	}
}

// WithClock sets the clock used for retries, polling and timestamps.
func WithClock(clock retry.Clock) IngestorOption {
	return func(o *ingestorOptions) {
		o.clock = clock
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) IngestorOption {
	return func(o *ingestorOptions) {
		o.logger = logger
	}
}

// WithPipelineOptions passes options through to the ingestion pipeline.
func WithPipelineOptions(opts ...ingestion.Option) IngestorOption {
	return func(o *ingestorOptions) {
		o.pipelineOptions = append(o.pipelineOptions, opts...)
	}
}

// NewIngestor builds an Ingestor. An index service is required.
func NewIngestor(opts ...IngestorOption) (*Ingestor, error) {
	options := &ingestorOptions{
		aiConfig:    ai.DefaultConfig(),
		indexConfig: index.DefaultConfig(),
		clock:       retry.SystemClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.service == nil {
		return nil, errors.New("index service is required")
	}

	ing := &Ingestor{
		service: options.service,
		logger:  options.logger,
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		embedder, err = NewEmbedder(options.aiConfig, options.clock, options.logger)
		if err != nil {
			return nil, err
		}
	}
	ing.embedder = embedder

	manager, err := index.NewManager(options.service, options.indexConfig,
		index.WithEmbedder(embedder),
		index.WithClock(options.clock),
		index.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}
	ing.manager = manager

	ing.runs = options.runs
	if ing.runs == nil && options.runsPath != "" {
		runs, err := badger.NewRunRepository(options.runsPath)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		ing.runs = runs
		ing.closers = append(ing.closers, runs.Close)
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithClock(options.clock),
		ingestion.WithLogger(options.logger),
	}
	if ing.runs != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithRunRepository(ing.runs))
	}
	pipeline, err := ingestion.NewPipeline(embedder, manager, options.service,
		append(pipelineOpts, options.pipelineOptions...)...)
	if err != nil {
		ing.Close()
		return nil, err
	}
	ing.pipeline = pipeline
	return ing, nil
}

// NewEmbedder builds the embedding client selected by cfg.Provider.
func NewEmbedder(cfg *ai.Config, clock retry.Clock, logger *slog.Logger) (ai.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ai.ProviderOpenAI:
		return openai.NewEmbedder(cfg, openai.WithClock(clock), openai.WithLogger(logger))
	default:
		client, err := inference.NewClient(cfg, inference.WithClock(clock), inference.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// NewIndexService connects to the backend named by cfg.Index.Backend.
// The returned close function releases the connection.
func NewIndexService(cfg *config.Config, logger *slog.Logger) (index.Service, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Index.Backend {
	case config.BackendPinecone:
		client, err := pinecone.NewClient(cfg.PineconeConfig(), pinecone.WithLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		return client, client.Close, nil
	case config.BackendQdrant:
		repo, err := qdrant.New(cfg.QdrantConfig(), logger)
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// Ingest runs the pipeline for one document.
func (i *Ingestor) Ingest(ctx context.Context, req ingestion.Request) (*core.IngestionReport, error) {
	return i.pipeline.Ingest(ctx, req)
}

// EnsureIndex prepares the named index without ingesting anything.
func (i *Ingestor) EnsureIndex(ctx context.Context, name string, explicitDimension int) (*core.IndexDescriptor, error) {
	return i.manager.EnsureReady(ctx, name, explicitDimension)
}

// DeleteSource removes every vector ingested from source. Re-ingesting a
// document after deleting it avoids duplicate vectors, since vector IDs are
// not derived from the content.
func (i *Ingestor) DeleteSource(ctx context.Context, name, source string) error {
	if source == "" {
		return index.ErrSourceRequired
	}
	i.logger.Info("deleting source", "index", name, "source", source)
	return i.service.DeleteBySource(ctx, name, source)
}

// Stats describes the named index, including its vector count when the
// backend reports one.
func (i *Ingestor) Stats(ctx context.Context, name string) (*index.Stats, error) {
	return i.service.DescribeIndex(ctx, name)
}

// Runs returns the run history, or nil when none is configured.
func (i *Ingestor) Runs() storage.RunRepository {
	return i.runs
}

// Close releases the worker pool and the run history it opened. A run
// repository passed with WithRunRepository is left open.
func (i *Ingestor) Close() error {
	if i.pipeline != nil {
		i.pipeline.Release()
	}

	var errs []error
	for _, closeFn := range i.closers {
		if err := closeFn(); err != nil {
			i.logger.Error("error closing ingestor resource", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
