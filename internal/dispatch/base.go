// Package dispatch implements the block dispatch pipeline: the base
// block dispatcher (C8, height/watermark bookkeeping and flush gating)
// and the serial block dispatcher (C9, the concrete fetch→index
// pipeline) that sit on top of the bounded FIFO queue and ordered task
// runner.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vietddude/chainindex/internal/cache/queue"
)

// Height is a block height.
type Height = uint64

// ProcessBlockResponse is what a user indexBlock handler returns:
// dynamic-datasource additions signalled mid-run, plus any derived
// per-block state (e.g. proof-of-indexing input) the dispatcher should
// hand to the PoI sink.
type ProcessBlockResponse struct {
	NewDatasources []string
	PoIInput       any
}

// Flusher is the capability C8 needs from the store cache controller
// (C7): enough to decide when to flush and to trigger one.
type Flusher interface {
	ShouldFlush() bool
	Flush(ctx context.Context) error
}

// EventSink receives fire-and-forget progress/queue-size events.
type EventSink interface {
	Emit(event string, payload map[string]any)
}

// PoISink records proof-of-indexing input derived while processing a
// block. The hashing/proof construction itself is out of scope (see the
// purpose & scope non-goals) — this is only the hook point.
type PoISink interface {
	Record(height Height, input any)
}

// DatasourceRegistrar is notified of dynamic-datasource additions
// signalled by a block handler. Discovery/loading of the datasource
// itself is out of scope; this is only the hook point the handler uses.
type DatasourceRegistrar interface {
	AddDatasources(names []string)
}

// Base is the C8 base block dispatcher.
type Base struct {
	heights *queue.Queue[Height]
	flusher Flusher
	poi     PoISink
	events  EventSink
	sources DatasourceRegistrar

	hasProcessed    atomic.Bool
	latestProcessed atomic.Uint64
	latestBuffered  atomic.Uint64
	latestFinalised atomic.Uint64
}

// NewBase constructs a base dispatcher around heights (the C1 queue
// instance), flusher (C7), and the optional PoI/datasource hooks.
func NewBase(heights *queue.Queue[Height], flusher Flusher, poi PoISink, sources DatasourceRegistrar, events EventSink) *Base {
	return &Base{
		heights: heights,
		flusher: flusher,
		poi:     poi,
		sources: sources,
		events:  events,
	}
}

// Heights exposes the underlying C1 height queue to the serial
// dispatcher that embeds this base.
func (b *Base) Heights() *queue.Queue[Height] { return b.heights }

// LatestProcessedHeight is the highest height whose indexing task has
// completed.
func (b *Base) LatestProcessedHeight() Height { return b.latestProcessed.Load() }

// LatestBufferedHeight is the highest height currently admitted into C1.
func (b *Base) LatestBufferedHeight() Height { return b.latestBuffered.Load() }

// LatestFinalisedHeight is the highest height deemed irreversible by
// upstream.
func (b *Base) LatestFinalisedHeight() Height { return b.latestFinalised.Load() }

// SetFinalisedHeight records a new finality watermark reported upstream.
func (b *Base) SetFinalisedHeight(h Height) { b.latestFinalised.Store(h) }

// FlushQueue truncates the height queue and sets latestBufferedHeight to
// h. It is the primary cancellation primitive: it discards every
// buffered height. It does not touch the index stage's task runner;
// Serial.FlushQueue pairs it with a flush of that runner.
func (b *Base) FlushQueue(h Height) {
	b.heights.Flush()
	b.latestBuffered.Store(h)
}

// PreProcessBlock asserts strict height ordering and emits a progress
// event before a block's indexing task begins.
func (b *Base) PreProcessBlock(h Height) {
	if b.hasProcessed.Load() {
		if processed := b.latestProcessed.Load(); h <= processed {
			panic(fmt.Sprintf("dispatch: preProcessBlock height %d does not exceed latestProcessedHeight %d", h, processed))
		}
	}
	if b.events != nil {
		b.events.Emit("block.processing", map[string]any{"height": h})
	}
}

// PostProcessBlock applies the handler's dynamic-datasource additions,
// advances latestProcessedHeight, and triggers a C7 flush if the
// configured threshold has been crossed.
func (b *Base) PostProcessBlock(ctx context.Context, h Height, resp ProcessBlockResponse) error {
	if len(resp.NewDatasources) > 0 && b.sources != nil {
		b.sources.AddDatasources(resp.NewDatasources)
	}
	if b.poi != nil && resp.PoIInput != nil {
		b.poi.Record(h, resp.PoIInput)
	}

	b.latestProcessed.Store(h)
	b.hasProcessed.Store(true)

	if b.flusher != nil && b.flusher.ShouldFlush() {
		if err := b.flusher.Flush(ctx); err != nil {
			return fmt.Errorf("dispatch: flush at height %d: %w", h, err)
		}
	}
	return nil
}
