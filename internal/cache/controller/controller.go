// Package controller implements the store cache controller (C7): it owns
// every per-entity cached entity model (C5) plus the singleton cached
// metadata model (C6), decides flush boundaries, and coordinates one
// atomic flush per round inside a single database transaction.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Flushable is the uniform shape both the entity model (C5, per entity
// type) and the metadata model (C6) present to the controller.
type Flushable interface {
	IsFlushable() bool
	FlushableRecordCount() int
	Flush(ctx context.Context, tx pgx.Tx) error
}

// EventSink receives fire-and-forget flush telemetry.
type EventSink interface {
	Emit(event string, payload map[string]any)
}

// WatermarkRepo persists the dispatcher's watermarks alongside a fixed
// run identifier, so a restarted process resumes from where it left
// off rather than re-indexing from genesis.
type WatermarkRepo interface {
	Upsert(ctx context.Context, tx pgx.Tx, runID string, processed, buffered, finalised uint64) error
	Load(ctx context.Context, runID string) (processed, buffered, finalised uint64, found bool, err error)
}

type registration struct {
	name  string
	model Flushable
}

// Controller is the C7 store cache controller.
type Controller struct {
	pool      *pgxpool.Pool
	threshold int
	events    EventSink

	mu       sync.Mutex // held for the duration of a flush: no overlapping flushes
	entities []registration
	metadata Flushable

	watermarks WatermarkRepo
	runID      string
	heights    func() (processed, buffered, finalised uint64)
}

// New constructs a controller bound to pool, flushing whenever the
// summed flushable record count across all registered models reaches
// threshold (also triggered explicitly by the dispatcher at block
// finalisation or shutdown).
func New(pool *pgxpool.Pool, threshold int, events EventSink) *Controller {
	return &Controller{pool: pool, threshold: threshold, events: events}
}

// SetWatermarks wires watermark persistence: repo is written inside the
// same flush transaction, last, under runID; heights supplies the
// dispatcher's current watermark values at flush time.
func (c *Controller) SetWatermarks(repo WatermarkRepo, runID string, heights func() (processed, buffered, finalised uint64)) {
	c.watermarks = repo
	c.runID = runID
	c.heights = heights
}

// LoadWatermarks reads the persisted watermarks for runID, if any —
// called once at startup so a restarted process resumes instead of
// re-indexing from genesis.
func (c *Controller) LoadWatermarks(ctx context.Context, runID string) (processed, buffered, finalised uint64, found bool, err error) {
	if c.watermarks == nil {
		return 0, 0, 0, false, nil
	}
	return c.watermarks.Load(ctx, runID)
}

// Register adds an entity model (C5 instance) under name, for flush
// ordering and diagnostics.
func (c *Controller) Register(name string, model Flushable) {
	c.entities = append(c.entities, registration{name: name, model: model})
}

// SetMetadata installs the singleton metadata model (C6). It always
// flushes after every entity model; watermarks, when wired through
// SetWatermarks, are written after it in the same transaction.
func (c *Controller) SetMetadata(model Flushable) {
	c.metadata = model
}

// PendingCount sums FlushableRecordCount across every registered model.
func (c *Controller) PendingCount() int {
	total := 0
	for _, r := range c.entities {
		total += r.model.FlushableRecordCount()
	}
	if c.metadata != nil {
		total += c.metadata.FlushableRecordCount()
	}
	return total
}

// ShouldFlush reports whether the pending record count has crossed the
// configured threshold.
func (c *Controller) ShouldFlush() bool {
	return c.threshold > 0 && c.PendingCount() >= c.threshold
}

// Flush opens one transaction, flushes every flushable model in
// deterministic order (entities in registration order, metadata last),
// and commits. On any failure it rolls back and returns the error —
// callers must treat that as fatal (see the error handling design):
// every model whose Flush succeeded before the failure has already
// cleared its caches, so the process has no reliable in-memory state
// left to retry from.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	runID := uuid.New().String()
	start := time.Now()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("controller: begin flush tx %s: %w", runID, err)
	}

	flushed := 0
	for _, r := range c.entities {
		if !r.model.IsFlushable() {
			continue
		}
		if err := r.model.Flush(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("controller: flush %q (run %s): %w", r.name, runID, err)
		}
		flushed++
	}
	if c.metadata != nil && c.metadata.IsFlushable() {
		if err := c.metadata.Flush(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("controller: flush metadata (run %s): %w", runID, err)
		}
		flushed++
	}

	var processed, buffered, finalised uint64
	haveWatermarks := c.watermarks != nil && c.heights != nil
	if haveWatermarks {
		processed, buffered, finalised = c.heights()
		if err := c.watermarks.Upsert(ctx, tx, c.runID, processed, buffered, finalised); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("controller: persist watermarks (run %s): %w", runID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("controller: commit flush tx %s: %w", runID, err)
	}

	if c.events != nil {
		payload := map[string]any{
			"runId":      runID,
			"durationMs": time.Since(start).Milliseconds(),
			"models":     flushed,
		}
		if haveWatermarks {
			payload["processedHeight"] = processed
			payload["bufferedHeight"] = buffered
			payload["finalisedHeight"] = finalised
		}
		c.events.Emit("flush.completed", payload)
	}
	return nil
}
