package ingestion

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrIndexManagerRequired is returned when an index manager is not provided.
	ErrIndexManagerRequired = errors.New("index manager required")

	// ErrIndexServiceRequired is returned when an index service is not provided.
	ErrIndexServiceRequired = errors.New("index service required")

	// ErrIndexNameRequired is returned when a request names no index.
	ErrIndexNameRequired = errors.New("index name required")
)
