// Package chunker splits document text into bounded-size chunks.
//
// Chunks are built by greedy word packing: whitespace-separated tokens are
// appended to the current chunk until the next token would push it past the
// size limit. Tokens are never split, so a single token longer than the limit
// becomes a chunk of its own. Sizes are measured in bytes.
package chunker
