package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

const (
	// MaxDimension is the upper sanity bound for embedding vectors.
	MaxDimension = 10000

	// PreviewChars caps the chunk text stored in vector metadata.
	PreviewChars = 200
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical source texts produce identical IDs across runs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Chunk is a bounded-size slice of a document's text.
// Index is the chunk's ordinal position in the source.
type Chunk struct {
	Index int
	Text  string
}

// Metric is the similarity metric of a vector index.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return true
	}
	return false
}

// IndexState tracks the lifecycle of the target index within one run.
// It only ever moves forward.
type IndexState int

const (
	IndexStateUnknown IndexState = iota
	IndexStateCreating
	IndexStateReady
)

func (s IndexState) String() string {
	switch s {
	case IndexStateUnknown:
		return "unknown"
	case IndexStateCreating:
		return "creating"
	case IndexStateReady:
		return "ready"
	default:
		return "invalid"
	}
}

// IndexDescriptor describes the target vector index of a run.
type IndexDescriptor struct {
	Name      string
	Dimension int
	Metric    Metric
	State     IndexState
	Created   bool // true when this run created the index
}

// ChunkMetadata is attached to every upserted vector.
type ChunkMetadata struct {
	Source      string
	ChunkIndex  int
	TotalChunks int
	TextLength  int
	Text        string // preview, see Preview
	Timestamp   time.Time
}

// Map returns the metadata in its wire form.
func (m ChunkMetadata) Map() map[string]any {
	return map[string]any{
		"source":      m.Source,
		"chunkIndex":  m.ChunkIndex,
		"totalChunks": m.TotalChunks,
		"textLength":  m.TextLength,
		"text":        m.Text,
		"timestamp":   m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Preview returns the first PreviewChars bytes of text, with "..." appended
// when text was cut. The cut never splits a UTF-8 sequence.
func Preview(text string) string {
	if len(text) <= PreviewChars {
		return text
	}
	cut := PreviewChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// UpsertRecord is one vector written to the index.
type UpsertRecord struct {
	ID       string
	Values   []float32
	Metadata ChunkMetadata
}

// FailedChunk records a chunk whose embedding could not be produced.
type FailedChunk struct {
	Index int    `json:"index" yaml:"index"`
	Error string `json:"error" yaml:"error"`
}

// IngestionReport summarizes one successful ingestion run.
// A non-empty FailedChunks is degradation, not failure.
type IngestionReport struct {
	RunID              string        `json:"runId" yaml:"runId"`
	Source             string        `json:"source" yaml:"source"`
	IndexName          string        `json:"indexName" yaml:"indexName"`
	TotalChunks        int           `json:"totalChunks" yaml:"totalChunks"`
	SuccessfulChunks   int           `json:"successfulChunks" yaml:"successfulChunks"`
	FailedChunks       []FailedChunk `json:"failedChunks" yaml:"failedChunks"`
	EmbeddingDimension int           `json:"embeddingDimension" yaml:"embeddingDimension"`
	VectorIDs          []string      `json:"vectorIds" yaml:"vectorIds"`
	TotalTextLength    int           `json:"totalTextLength" yaml:"totalTextLength"`
	IndexCreated       bool          `json:"indexCreated" yaml:"indexCreated"`
	StartedAt          time.Time     `json:"startedAt" yaml:"startedAt"`
	CompletedAt        time.Time     `json:"completedAt" yaml:"completedAt"`
}

// RunStatus is the outcome of a stored run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted history entry of one ingestion attempt.
type Run struct {
	ID                 string
	Source             string
	ContentID          ID
	IndexName          string
	Status             RunStatus
	TotalChunks        int
	SuccessfulChunks   int
	FailedChunks       []FailedChunk
	EmbeddingDimension int
	VectorIDs          []string
	TotalTextLength    int
	IndexCreated       bool
	Classification     string
	Error              string
	StartedAt          time.Time
	FinishedAt         time.Time
}

// RunFromReport builds a succeeded run from a report.
func RunFromReport(report *IngestionReport, contentID ID) *Run {
	return &Run{
		ID:                 report.RunID,
		Source:             report.Source,
		ContentID:          contentID,
		IndexName:          report.IndexName,
		Status:             RunStatusSucceeded,
		TotalChunks:        report.TotalChunks,
		SuccessfulChunks:   report.SuccessfulChunks,
		FailedChunks:       report.FailedChunks,
		EmbeddingDimension: report.EmbeddingDimension,
		VectorIDs:          report.VectorIDs,
		TotalTextLength:    report.TotalTextLength,
		IndexCreated:       report.IndexCreated,
		StartedAt:          report.StartedAt,
		FinishedAt:         report.CompletedAt,
	}
}
