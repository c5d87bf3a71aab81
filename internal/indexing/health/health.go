// Package health reports the runtime's own status: dispatch queue
// depth, watermark lag against the source's current tip, and the
// cache controller's pending-flush backlog.
package health

// SystemStatus represents the overall health state of the pipeline.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains health metrics for the dispatch pipeline.
type PipelineHealth struct {
	Status           SystemStatus `json:"status"`
	TipLag           uint64       `json:"tip_lag"`
	QueueOccupied    int          `json:"queue_occupied"`
	QueueCapacity    int          `json:"queue_capacity"`
	PendingFlush     int          `json:"pending_flush_records"`
	FlushThreshold   int          `json:"flush_threshold"`
}

// Report contains the full health report.
type Report struct {
	SystemStatus SystemStatus   `json:"system_status"`
	Pipeline     PipelineHealth `json:"pipeline"`
}
