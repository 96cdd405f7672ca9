// Package ingestion orchestrates one document ingestion run.
//
// A Pipeline takes extracted document text and:
//   - splits it into bounded chunks
//   - embeds every chunk concurrently on a worker pool
//   - ensures the target index exists and is ready
//   - upserts one vector per successful chunk in a single call
//
// A chunk that fails to embed is recorded in the report and does not stop
// its siblings. The run fails only when no chunk succeeds, or when the
// index cannot be prepared or written. Every run, successful or not, can
// be recorded in a storage.RunRepository.
package ingestion
