package chunker

import (
	"strings"

	"github.com/poiesic/docingest/core"
)

// DefaultMaxChars is the chunk size used by the ingestion pipeline.
const DefaultMaxChars = 200

// Split packs the whitespace-separated tokens of text into ordered chunks of
// at most maxChars bytes. A non-positive maxChars uses DefaultMaxChars.
// Blank text yields no chunks.
func Split(text string, maxChars int) []core.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	var (
		chunks  []core.Chunk
		current []string
		length  int
	)
	flush := func() {
		chunks = append(chunks, core.Chunk{
			Index: len(chunks),
			Text:  strings.Join(current, " "),
		})
	}

	for _, token := range tokens {
		if length+len(token)+1 > maxChars && len(current) > 0 {
			flush()
			current = []string{token}
			length = len(token)
			continue
		}
		current = append(current, token)
		length += len(token) + 1
	}
	if len(current) > 0 {
		flush()
	}

	return chunks
}
