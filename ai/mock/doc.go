// Package mock provides a test double for ai.Embedder.
//
// The mock lets tests run without an embedding service and gives
// controlled, deterministic behavior. It is safe for concurrent use, so it
// can stand in for the embedder behind the ingestion worker pool.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedder()
//	vec, err := embedder.EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return []float32{0.1, 0.2, 0.3}, nil
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
// EmbedText returns a unit vector of Dimension elements derived from an FNV
// hash of the text, so equal texts always produce equal vectors.
package mock
