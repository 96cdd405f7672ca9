package storage

import (
	"context"

	"github.com/poiesic/docingest/core"
)

// RunRepository stores the history of ingestion runs.
// Implementations must be thread-safe and support concurrent access.
type RunRepository interface {
	// SaveRun inserts or replaces a run, keyed by its ID.
	SaveRun(ctx context.Context, run *core.Run) error

	// GetRun retrieves a single run by ID.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, id string) (*core.Run, error)

	// GetRecentRuns returns up to limit runs, most recently started first.
	GetRecentRuns(ctx context.Context, limit int) ([]*core.Run, error)

	// GetRunsByContent returns every run of the given source content,
	// oldest first.
	GetRunsByContent(ctx context.Context, contentID core.ID) ([]*core.Run, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
