package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/chunker"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
	"github.com/poiesic/docingest/observability"
	"github.com/poiesic/docingest/retry"
	"github.com/poiesic/docingest/storage"
)

// DefaultReportInterval is the number of chunks between progress reports.
const DefaultReportInterval = 10

// IndexManager prepares the target index of a run. *index.Manager
// implements it.
type IndexManager interface {
	EnsureReady(ctx context.Context, name string, explicitDimension int) (*core.IndexDescriptor, error)
}

// Request is the input of one ingestion run.
type Request struct {
	// SourceIdentifier names the document, e.g. an object key or file path.
	SourceIdentifier string
	// SourceText is the extracted document text.
	SourceText string
	// IndexName is the target vector index.
	IndexName string
	// ExplicitDimension, when positive, is used to create the index.
	ExplicitDimension int
}

// Pipeline orchestrates chunking, embedding, index preparation and upsert.
// A Pipeline may serve concurrent Ingest calls.
type Pipeline struct {
	embedder       ai.Embedder
	indexes        IndexManager
	service        index.Service
	runs           storage.RunRepository
	pool           *ants.Pool
	chunkSize      int
	reportInterval int
	normalize      bool
	clock          retry.Clock
	newID          func() string
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunkSize sets the chunk size bound in characters.
// Default is chunker.DefaultMaxChars.
func WithChunkSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("chunk size must be at least 1, got %d", size)
		}
		p.chunkSize = size
		return nil
	}
}

// WithReportInterval sets how many chunks pass between progress reports.
// Zero disables intermediate reports.
func WithReportInterval(n int) Option {
	return func(p *Pipeline) error {
		p.reportInterval = n
		return nil
	}
}

// WithNormalizeVectors scales every vector to unit length before upsert.
func WithNormalizeVectors(normalize bool) Option {
	return func(p *Pipeline) error {
		p.normalize = normalize
		return nil
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(clock retry.Clock) Option {
	return func(p *Pipeline) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		p.clock = clock
		return nil
	}
}

// WithIDGenerator sets the generator of run and vector IDs.
// Default is a random UUID v4. The Qdrant backend only accepts UUIDs and
// unsigned integers as vector IDs.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) error {
		if fn == nil {
			return errors.New("id generator cannot be nil")
		}
		p.newID = fn
		return nil
	}
}

// WithRunRepository records every run in repo.
func WithRunRepository(repo storage.RunRepository) Option {
	return func(p *Pipeline) error {
		p.runs = repo
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(embedder ai.Embedder, indexes IndexManager, service index.Service, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if indexes == nil {
		return nil, ErrIndexManagerRequired
	}
	if service == nil {
		return nil, ErrIndexServiceRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		embedder:       embedder,
		indexes:        indexes,
		service:        service,
		pool:           pool,
		chunkSize:      chunker.DefaultMaxChars,
		reportInterval: DefaultReportInterval,
		clock:          retry.SystemClock(),
		newID:          func() string { return uuid.New().String() },
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// chunkResult is the embedding outcome of one chunk.
type chunkResult struct {
	vector []float32
	err    error
}

// Ingest runs the whole pipeline for one document.
//
// Per-chunk embedding failures are reported in IngestionReport.FailedChunks.
// The run fails with a *core.IngestionError when the text is blank or no
// chunk could be embedded, and with a *core.IndexError when the index
// cannot be prepared or written.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*core.IngestionReport, error) {
	if req.IndexName == "" {
		return nil, ErrIndexNameRequired
	}

	report := &core.IngestionReport{
		RunID:     p.newID(),
		Source:    req.SourceIdentifier,
		IndexName: req.IndexName,
		StartedAt: p.clock.Now().UTC(),
	}
	logger := p.logger.With("run", report.RunID, "source", req.SourceIdentifier, "index", req.IndexName)

	ctx, span := observability.StartIngestSpan(ctx, req.SourceIdentifier, req.IndexName)
	err := p.ingest(ctx, logger, req, report)
	observability.EndSpan(span, err)
	report.CompletedAt = p.clock.Now().UTC()

	p.record(ctx, logger, req, report, err)
	if err != nil {
		logger.Error("ingestion failed", "classification", core.Classify(err), "err", err)
		return nil, err
	}

	logger.Info("ingestion complete",
		"chunks", report.TotalChunks,
		"successful", report.SuccessfulChunks,
		"failed", len(report.FailedChunks),
		"dimension", report.EmbeddingDimension,
		"indexCreated", report.IndexCreated,
	)
	return report, nil
}

func (p *Pipeline) ingest(ctx context.Context, logger *slog.Logger, req Request, report *core.IngestionReport) error {
	text := strings.TrimSpace(req.SourceText)
	if text == "" {
		return &core.IngestionError{Kind: core.ErrNoExtractableText, Source: req.SourceIdentifier}
	}
	report.TotalTextLength = len(text)

	chunks := chunker.Split(text, p.chunkSize)
	report.TotalChunks = len(chunks)
	logger.Info("text split into chunks", "chunks", len(chunks), "textLength", len(text))

	results := p.embedChunks(ctx, logger, chunks)
	dim := enforceDimension(results)

	report.FailedChunks = []core.FailedChunk{}
	for i, r := range results {
		if r.err != nil {
			report.FailedChunks = append(report.FailedChunks, core.FailedChunk{Index: i, Error: r.err.Error()})
			logger.Warn("chunk embedding failed", "chunk", i, "err", r.err)
		}
	}
	report.SuccessfulChunks = len(chunks) - len(report.FailedChunks)
	if report.SuccessfulChunks == 0 {
		return &core.IngestionError{Kind: core.ErrNoSuccessfulEmbeddings, Source: req.SourceIdentifier}
	}
	report.EmbeddingDimension = dim

	desc, err := p.indexes.EnsureReady(ctx, req.IndexName, req.ExplicitDimension)
	if err != nil {
		return err
	}
	report.IndexCreated = desc.Created
	if desc.Dimension > 0 && desc.Dimension != dim {
		return core.NewIndexError(core.ErrDimensionMismatch, req.IndexName,
			fmt.Errorf("index has dimension %d, embeddings have %d", desc.Dimension, dim))
	}

	now := p.clock.Now().UTC()
	records := make([]core.UpsertRecord, 0, report.SuccessfulChunks)
	for i, r := range results {
		if r.err != nil {
			continue
		}
		values := r.vector
		if p.normalize {
			values = core.NormalizeVector(values)
		}
		records = append(records, core.UpsertRecord{
			ID:     p.newID(),
			Values: values,
			Metadata: core.ChunkMetadata{
				Source:      req.SourceIdentifier,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				TextLength:  len(chunks[i].Text),
				Text:        core.Preview(chunks[i].Text),
				Timestamp:   now,
			},
		})
	}

	logger.Info("upserting vectors", "count", len(records))
	if err := p.service.Upsert(ctx, req.IndexName, records); err != nil {
		return core.NewIndexError(core.ErrUpsertFailed, req.IndexName, err)
	}

	report.VectorIDs = make([]string, len(records))
	for i, r := range records {
		report.VectorIDs[i] = r.ID
	}
	return core.ValidateReport(report)
}

// embedChunks embeds every chunk on the worker pool. Results are indexed
// by chunk position.
func (p *Pipeline) embedChunks(ctx context.Context, logger *slog.Logger, chunks []core.Chunk) []chunkResult {
	results := make([]chunkResult, len(chunks))
	progress := newProgressTracker(logger, p.clock, len(chunks), p.reportInterval)

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			vec, err := p.embedder.EmbedText(ctx, chunk.Text)
			if err == nil {
				err = core.ValidateVector(vec)
			}
			results[i] = chunkResult{vector: vec, err: err}
			progress.done(err == nil)
		})
		if err != nil {
			results[i] = chunkResult{err: fmt.Errorf("submit chunk: %w", err)}
			progress.done(false)
			wg.Done()
		}
	}
	wg.Wait()
	progress.finish()
	return results
}

// enforceDimension demotes successful results whose length differs from
// the first successful one and returns that length.
func enforceDimension(results []chunkResult) int {
	dim := 0
	for i := range results {
		r := &results[i]
		if r.err != nil {
			continue
		}
		if dim == 0 {
			dim = len(r.vector)
			continue
		}
		if len(r.vector) != dim {
			r.err = core.NewEmbeddingError(core.ErrInvalidDimension,
				fmt.Errorf("got %d, run dimension is %d", len(r.vector), dim))
			r.vector = nil
		}
	}
	return dim
}

// record stores the run when a repository is configured. Storage errors
// are logged only.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, req Request, report *core.IngestionReport, runErr error) {
	if p.runs == nil {
		return
	}

	run := core.RunFromReport(report, core.IDFromContent(req.SourceText))
	if runErr != nil {
		run.Status = core.RunStatusFailed
		run.Classification = core.Classify(runErr)
		run.Error = runErr.Error()
		run.VectorIDs = nil
	}

	// Record canceled runs too.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.runs.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to record run", "err", err)
	}
}
