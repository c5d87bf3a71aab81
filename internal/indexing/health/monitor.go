package health

import (
	"context"
	"sync"
	"time"
)

// TipHeightFetcher reports the source chain's current tip height, used
// only to compute how far behind the dispatcher has fallen.
type TipHeightFetcher interface {
	GetTipHeight(ctx context.Context) (uint64, error)
}

// PipelineStats is the narrow view Monitor needs of the running
// dispatcher and cache controller.
type PipelineStats interface {
	LatestProcessedHeight() uint64
	QueueOccupied() int
	QueueCapacity() int
	PendingFlushRecords() int
	FlushThreshold() int
}

// Monitor aggregates pipeline health status, rate-limited against the
// tip fetcher so health polling never floods the upstream source.
type Monitor struct {
	stats PipelineStats
	tip   TipHeightFetcher

	mu         sync.RWMutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor constructs a health monitor over stats and tip.
func NewMonitor(stats PipelineStats, tip TipHeightFetcher) *Monitor {
	return &Monitor{stats: stats, tip: tip}
}

// CheckHealth computes the current pipeline health report, reusing the
// last report if called again within 10 seconds.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastCheck != (time.Time{}) {
		return m.lastReport
	}

	ph := PipelineHealth{
		Status:         StatusHealthy,
		QueueOccupied:  m.stats.QueueOccupied(),
		QueueCapacity:  m.stats.QueueCapacity(),
		PendingFlush:   m.stats.PendingFlushRecords(),
		FlushThreshold: m.stats.FlushThreshold(),
	}

	if tip, err := m.tip.GetTipHeight(ctx); err == nil {
		processed := m.stats.LatestProcessedHeight()
		if tip > processed {
			ph.TipLag = tip - processed
		}
	} else {
		ph.Status = StatusDegraded
	}

	switch {
	case ph.TipLag > 1000 || (ph.QueueCapacity > 0 && ph.QueueOccupied >= ph.QueueCapacity):
		ph.Status = StatusCritical
	case ph.TipLag > 100 || ph.PendingFlush >= ph.FlushThreshold:
		if ph.Status == StatusHealthy {
			ph.Status = StatusDegraded
		}
	}

	report := Report{SystemStatus: ph.Status, Pipeline: ph}
	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
