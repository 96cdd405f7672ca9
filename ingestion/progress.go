package ingestion

import (
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docingest/retry"
)

// progressTracker reports embedding progress through a logger.
type progressTracker struct {
	logger         *slog.Logger
	clock          retry.Clock
	total          int
	current        int
	failed         int
	reportInterval int
	lastReported   int
	startTime      time.Time
	mu             sync.Mutex
}

// newProgressTracker creates a tracker that logs every reportInterval
// items. A non-positive interval disables intermediate reports.
func newProgressTracker(logger *slog.Logger, clock retry.Clock, total, reportInterval int) *progressTracker {
	return &progressTracker{
		logger:         logger,
		clock:          clock,
		total:          total,
		reportInterval: reportInterval,
		startTime:      clock.Now(),
	}
}

// done records one finished item.
func (p *progressTracker) done(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if !ok {
		p.failed++
	}
	if p.reportInterval > 0 && p.current-p.lastReported >= p.reportInterval && p.current < p.total {
		p.report("embedding progress")
		p.lastReported = p.current
	}
}

// finish logs the final totals.
func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report("embedding finished")
}

// counts returns the finished and failed item counts.
func (p *progressTracker) counts() (current, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.failed
}

// report logs the current progress. Must be called with lock held.
func (p *progressTracker) report(msg string) {
	elapsed := p.clock.Now().Sub(p.startTime)
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}
	p.logger.Info(msg,
		"current", p.current,
		"total", p.total,
		"failed", p.failed,
		"percent", percentage,
		"chunksPerSecond", rate,
		"elapsed", elapsed,
	)
}
