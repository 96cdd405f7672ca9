package ingestion

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/poiesic/docingest/retry"
)

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tracker := newProgressTracker(logger, retry.NewFakeClock(testStart), 25, 10)

	for i := 0; i < 25; i++ {
		tracker.done(i%5 != 0)
	}
	tracker.finish()

	current, failed := tracker.counts()
	assert.Equal(t, 25, current)
	assert.Equal(t, 5, failed)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "embedding progress"))
	assert.Equal(t, 1, strings.Count(out, "embedding finished"))
}

func TestProgressTracker_NoInterval(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tracker := newProgressTracker(logger, retry.NewFakeClock(testStart), 5, 0)

	for i := 0; i < 5; i++ {
		tracker.done(true)
	}
	assert.NotContains(t, buf.String(), "embedding progress")
}
