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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/docingest"
	"github.com/poiesic/docingest/chunker"
	"github.com/poiesic/docingest/config"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/ingestion"
	"github.com/poiesic/docingest/observability"
	"github.com/poiesic/docingest/storage/badger"
)

// newIndexService connects to the configured vector database.
var newIndexService = docingest.NewIndexService

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	backendFlag := &cli.StringFlag{
		Name:  "backend",
		Usage: "Vector index backend (pinecone, qdrant)",
	}
	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output format (json, yaml)",
		Value:   "json",
	}

	return &cli.App{
		Name:  "docingest",
		Usage: "Chunk, embed and index extracted document text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest a text file into a vector index",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the extracted text, or - for stdin",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Source identifier recorded with every vector (defaults to the file path)",
					},
					&cli.StringFlag{
						Name:    "index",
						Aliases: []string{"i"},
						Usage:   "Target index name",
					},
					&cli.IntFlag{
						Name:  "dimension",
						Usage: "Dimension used when the index has to be created",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Maximum chunk size in characters",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of chunks embedded concurrently",
					},
					&cli.BoolFlag{
						Name:  "normalize",
						Usage: "Scale vectors to unit length before upsert",
					},
					&cli.StringFlag{
						Name:    "db",
						Aliases: []string{"d"},
						Usage:   "Path to BadgerDB run history directory",
					},
					backendFlag,
					outputFlag,
				},
			},
			{
				Name:   "ensure-index",
				Usage:  "Create the index if needed and wait until it is ready",
				Action: ensureIndexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "index",
						Aliases: []string{"i"},
						Usage:   "Index name",
					},
					&cli.IntFlag{
						Name:  "dimension",
						Usage: "Dimension used when the index has to be created",
					},
					backendFlag,
					outputFlag,
				},
			},
			{
				Name:   "delete",
				Usage:  "Delete every vector ingested from a source",
				Action: deleteCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Usage:    "Source identifier given at ingest time",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "index",
						Aliases: []string{"i"},
						Usage:   "Index name",
					},
					backendFlag,
					outputFlag,
				},
			},
			{
				Name:   "stats",
				Usage:  "Show the dimension, metric and vector count of an index",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "index",
						Aliases: []string{"i"},
						Usage:   "Index name",
					},
					backendFlag,
					outputFlag,
				},
			},
			{
				Name:   "chunk",
				Usage:  "Print the chunks of a text file without embedding them",
				Action: chunkCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the text, or - for stdin",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "max-chars",
						Usage: "Maximum chunk size in characters",
						Value: chunker.DefaultMaxChars,
					},
					outputFlag,
				},
			},
			{
				Name:   "runs",
				Usage:  "List recorded ingestion runs",
				Action: runsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Path to BadgerDB run history directory",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list",
						Value: 20,
					},
					outputFlag,
				},
			},
		},
	}
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.Storage.Path = c.String("db")
	}
	if c.IsSet("chunk-size") {
		cfg.Ingest.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("concurrency") {
		cfg.Ingest.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("normalize") {
		cfg.Ingest.Normalize = c.Bool("normalize")
	}

	path := c.String("file")
	text, err := readInput(c.App.Reader, path)
	if err != nil {
		return err
	}
	source := c.String("source")
	if source == "" {
		source = path
	}

	shutdown, err := startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	pipelineOpts := []ingestion.Option{
		ingestion.WithChunkSize(cfg.Ingest.ChunkSize),
		ingestion.WithReportInterval(cfg.Ingest.ReportInterval),
		ingestion.WithNormalizeVectors(cfg.Ingest.Normalize),
	}
	if cfg.Ingest.Concurrency > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(cfg.Ingest.Concurrency))
	}

	ing, closeAll, err := newIngestor(cfg, docingest.WithPipelineOptions(pipelineOpts...))
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := ing.Ingest(ctx, ingestion.Request{
		SourceIdentifier:  source,
		SourceText:        text,
		IndexName:         cfg.Index.Name,
		ExplicitDimension: cfg.Index.Dimension,
	})
	if err != nil {
		return failWith(c, err)
	}
	return writeOutput(c.App.Writer, c.String("output"), report)
}

func ensureIndexCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	shutdown, err := startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	ing, closeAll, err := newIngestor(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	desc, err := ing.EnsureIndex(ctx, cfg.Index.Name, cfg.Index.Dimension)
	if err != nil {
		return failWith(c, err)
	}
	return writeOutput(c.App.Writer, c.String("output"), indexOutput{
		Name:      desc.Name,
		Dimension: desc.Dimension,
		Metric:    string(desc.Metric),
		State:     desc.State.String(),
		Created:   desc.Created,
	})
}

func deleteCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ing, closeAll, err := newIngestor(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	source := c.String("source")
	if err := ing.DeleteSource(ctx, cfg.Index.Name, source); err != nil {
		return failWith(c, err)
	}
	return writeOutput(c.App.Writer, c.String("output"), deleteOutput{
		Index:   cfg.Index.Name,
		Source:  source,
		Deleted: true,
	})
}

func statsCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ing, closeAll, err := newIngestor(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	stats, err := ing.Stats(ctx, cfg.Index.Name)
	if err != nil {
		return failWith(c, err)
	}
	return writeOutput(c.App.Writer, c.String("output"), statsOutput{
		Name:        stats.Name,
		Dimension:   stats.Dimension,
		Metric:      string(stats.Metric),
		VectorCount: stats.VectorCount,
		Host:        stats.Host,
		Timestamp:   time.Now().UTC(),
	})
}

func chunkCommand(c *cli.Context) error {
	text, err := readInput(c.App.Reader, c.String("file"))
	if err != nil {
		return err
	}

	chunks := chunker.Split(text, c.Int("max-chars"))
	out := make([]chunkOutput, len(chunks))
	for i, chunk := range chunks {
		out[i] = chunkOutput{Index: chunk.Index, Length: len(chunk.Text), Text: chunk.Text}
	}
	return writeOutput(c.App.Writer, c.String("output"), out)
}

func runsCommand(c *cli.Context) error {
	repo, err := badger.NewRunRepository(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer repo.Close()

	runs, err := repo.GetRecentRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	out := make([]runOutput, len(runs))
	for i, r := range runs {
		out[i] = runOutput{
			ID:               r.ID,
			Source:           r.Source,
			Index:            r.IndexName,
			Status:           string(r.Status),
			TotalChunks:      r.TotalChunks,
			SuccessfulChunks: r.SuccessfulChunks,
			Classification:   r.Classification,
			Error:            r.Error,
			StartedAt:        r.StartedAt,
			Duration:         r.FinishedAt.Sub(r.StartedAt).String(),
		}
	}
	return writeOutput(c.App.Writer, c.String("output"), out)
}

type indexOutput struct {
	Name      string `json:"name" yaml:"name"`
	Dimension int    `json:"dimension" yaml:"dimension"`
	Metric    string `json:"metric" yaml:"metric"`
	State     string `json:"state" yaml:"state"`
	Created   bool   `json:"created" yaml:"created"`
}

type deleteOutput struct {
	Index   string `json:"index" yaml:"index"`
	Source  string `json:"source" yaml:"source"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
}

type statsOutput struct {
	Name        string    `json:"name" yaml:"name"`
	Dimension   int       `json:"dimension" yaml:"dimension"`
	Metric      string    `json:"metric" yaml:"metric"`
	VectorCount int64     `json:"vectorCount" yaml:"vectorCount"`
	Host        string    `json:"host,omitempty" yaml:"host,omitempty"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

type chunkOutput struct {
	Index  int    `json:"index" yaml:"index"`
	Length int    `json:"length" yaml:"length"`
	Text   string `json:"text" yaml:"text"`
}

type runOutput struct {
	ID               string    `json:"id" yaml:"id"`
	Source           string    `json:"source" yaml:"source"`
	Index            string    `json:"index" yaml:"index"`
	Status           string    `json:"status" yaml:"status"`
	TotalChunks      int       `json:"totalChunks" yaml:"totalChunks"`
	SuccessfulChunks int       `json:"successfulChunks" yaml:"successfulChunks"`
	Classification   string    `json:"classification,omitempty" yaml:"classification,omitempty"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt        time.Time `json:"startedAt" yaml:"startedAt"`
	Duration         string    `json:"duration" yaml:"duration"`
}

// loadConfig loads the config file and applies the flags shared by the
// index commands.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("index") {
		cfg.Index.Name = c.String("index")
	}
	if c.IsSet("dimension") {
		cfg.Index.Dimension = c.Int("dimension")
	}
	if c.IsSet("backend") {
		cfg.Index.Backend = c.String("backend")
	}
	for _, warning := range cfg.Validate() {
		slog.Warn("config: " + warning)
	}
	if cfg.Index.Name == "" {
		return nil, errors.New("index name is required")
	}
	return cfg, nil
}

func newIngestor(cfg *config.Config, extra ...docingest.IngestorOption) (*docingest.Ingestor, func(), error) {
	logger := slog.Default()
	service, closeService, err := newIndexService(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []docingest.IngestorOption{
		docingest.WithAIConfig(cfg.AIConfig()),
		docingest.WithIndexConfig(cfg.IndexConfig()),
		docingest.WithIndexService(service),
		docingest.WithLogger(logger),
	}
	if cfg.Storage.Path != "" {
		opts = append(opts, docingest.WithRunHistory(cfg.Storage.Path))
	}
	ing, err := docingest.NewIngestor(append(opts, extra...)...)
	if err != nil {
		closeService()
		return nil, nil, err
	}

	return ing, func() {
		if err := ing.Close(); err != nil {
			logger.Error("error closing ingestor", "err", err)
		}
		if err := closeService(); err != nil {
			logger.Error("error closing index service", "err", err)
		}
	}, nil
}

func startTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	tp, err := observability.InitTracing(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down tracing", "err", err)
		}
	}, nil
}

// failWith prints the error outcome and exits with status 1.
func failWith(c *cli.Context, err error) error {
	outcome := core.NewErrorOutcome(err, time.Now())
	if werr := writeOutput(c.App.Writer, c.String("output"), outcome); werr != nil {
		slog.Error("failed to write error outcome", "err", werr)
	}
	return cli.Exit(fmt.Sprintf("%s: %s", outcome.Classification, outcome.Message), 1)
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid output format %q: must be one of json, yaml", format)
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
