package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/docingest/core"
)

// Key prefixes for different data types
const (
	runPrefix        = "run:"
	runDatePrefix    = "rund:"
	runContentPrefix = "runc:"
)

// makeRunKey generates a key for a run by ID.
func makeRunKey(id string) []byte {
	return []byte(runPrefix + id)
}

// makeRunDateKey generates a composite key for the start time index.
// Format: prefix:timestamp:id
func makeRunDateKey(startedAt time.Time, id string) []byte {
	buf := make([]byte, 0, len(runDatePrefix)+8+len(id))
	buf = append(buf, runDatePrefix...)
	// BigEndian so lexicographic order is chronological
	buf = binary.BigEndian.AppendUint64(buf, uint64(startedAt.UnixMicro()))
	return append(buf, id...)
}

// makeRunContentKey generates a composite key for the content index.
// Format: prefix:contentID:timestamp:id
func makeRunContentKey(contentID core.ID, startedAt time.Time, id string) []byte {
	buf := makePartialRunContentKey(contentID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(startedAt.UnixMicro()))
	return append(buf, id...)
}

// makePartialRunContentKey generates a prefix for content queries.
// Format: prefix:contentID
func makePartialRunContentKey(contentID core.ID) []byte {
	buf := make([]byte, 0, len(runContentPrefix)+16)
	buf = append(buf, runContentPrefix...)
	return binary.BigEndian.AppendUint64(buf, uint64(contentID))
}
