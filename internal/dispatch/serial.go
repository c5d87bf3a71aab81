package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/chainindex/internal/cache/queue"
	"github.com/vietddude/chainindex/internal/cache/taskrunner"
)

func newHeightQueue(capacity int) *queue.Queue[Height] {
	return queue.New[Height](capacity)
}

// FetchBlocksFunc fetches a batch of blocks by height. It must return
// blocks in the same order as the requested heights.
type FetchBlocksFunc[B any] func(ctx context.Context, heights []Height) ([]B, error)

// IndexBlockFunc is the user handler dispatch for one block.
type IndexBlockFunc[B any] func(ctx context.Context, block B) (ProcessBlockResponse, error)

// SerialConfig bundles the Serial dispatcher's construction parameters.
type SerialConfig[B any] struct {
	BatchSize int
	Fetch     FetchBlocksFunc[B]
	HeightOf  func(B) Height
	Index     IndexBlockFunc[B]
	Flusher   Flusher
	PoI       PoISink
	Sources   DatasourceRegistrar
	Events    EventSink
	// OnFatal is invoked when an indexing or fetch failure occurs and the
	// dispatcher is not shutting down. The source terminates the process
	// here; this runtime instead surfaces the failure through an injected
	// callback, per the design notes' guidance to replace the global
	// logger / process.exit with an injected fatal-error channel.
	OnFatal func(err error)
	Logger  *slog.Logger
}

// Serial is the C9 serial block dispatcher: the concrete two-stage
// pipeline (batch fetch, then C2-ordered indexing) built on top of the
// C8 base dispatcher.
type Serial[B any] struct {
	*Base

	batchSize int
	runner    *taskrunner.Runner
	fetch     FetchBlocksFunc[B]
	heightOf  func(B) Height
	index     IndexBlockFunc[B]
	onFatal   func(err error)
	events    EventSink
	log       *slog.Logger

	fetching   atomic.Bool
	isShutdown atomic.Bool
}

// NewSerial constructs a serial dispatcher. The C2 task runner is sized
// to batchSize*3, matching the C1 height queue's own capacity.
func NewSerial[B any](ctx context.Context, cfg SerialConfig[B]) *Serial[B] {
	if cfg.BatchSize <= 0 {
		panic("dispatch: batchSize must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.BatchSize * 3
	s := &Serial[B]{
		batchSize: cfg.BatchSize,
		runner:    taskrunner.New(ctx, capacity),
		fetch:     cfg.Fetch,
		heightOf:  cfg.HeightOf,
		index:     cfg.Index,
		onFatal:   cfg.OnFatal,
		events:    cfg.Events,
		log:       logger,
	}
	s.Base = NewBase(newHeightQueue(capacity), cfg.Flusher, cfg.PoI, cfg.Sources, cfg.Events)
	return s
}

// EnqueueBlocks admits heights into C1 and starts the fetch loop
// idempotently. If heights is empty and latestBufferedHeight is
// provided, only the watermark advances — this lets bypass ranges move
// the watermark without touching the queue.
func (s *Serial[B]) EnqueueBlocks(ctx context.Context, heights []Height, latestBufferedHeight *Height) {
	if len(heights) == 0 {
		if latestBufferedHeight != nil {
			s.latestBuffered.Store(*latestBufferedHeight)
		}
		return
	}

	s.Heights().PutMany(heights)
	if latestBufferedHeight != nil {
		s.latestBuffered.Store(*latestBufferedHeight)
	} else {
		s.latestBuffered.Store(heights[len(heights)-1])
	}
	s.ensureFetchLoopRunning(ctx)
}

// FlushQueue overrides the base implementation to also clear the C2
// backlog, per the source's discipline: flushQueue on C1 alone does not
// clear C2, so any caller wanting a full mid-pipeline cancellation must
// pair the two.
func (s *Serial[B]) FlushQueue(h Height) {
	s.Base.FlushQueue(h)
	s.runner.Flush()
}

// OnApplicationShutdown aborts the index stage and signals the fetch
// loop to exit at its next check.
func (s *Serial[B]) OnApplicationShutdown() {
	s.isShutdown.Store(true)
	s.runner.Abort()
}

func (s *Serial[B]) ensureFetchLoopRunning(ctx context.Context) {
	if !s.fetching.CompareAndSwap(false, true) {
		return
	}
	go s.fetchLoop(ctx)
}

func (s *Serial[B]) fetchLoop(ctx context.Context) {
	defer s.fetching.Store(false)

	for !s.isShutdown.Load() {
		n := min(s.batchSize, s.runner.FreeSpace())
		heights := s.Heights().TakeMany(n)
		pre := s.LatestBufferedHeight()

		if len(heights) == 0 {
			if s.Heights().Size() > 0 {
				// C2 is full; yield briefly and retry rather than pull
				// heights we cannot push downstream.
				time.Sleep(time.Millisecond)
				continue
			}
			return
		}

		blocks, err := s.fetch(ctx, heights)
		if err != nil {
			s.fatal(fmt.Errorf("dispatch: fetchBlocksBatches: %w", err))
			return
		}

		if s.stale(pre, heights) {
			s.log.Warn("discarding stale batch", "fromHeight", heights[0], "toHeight", heights[len(heights)-1])
			continue
		}

		s.submitBatch(ctx, blocks)

		if s.events != nil {
			s.events.Emit("queue.size", map[string]any{
				"buffered": s.Heights().Size(),
				"pipeline": s.batchSize*3 - s.runner.FreeSpace(),
			})
		}
	}
}

// stale implements the staleness check: the queue was flushed/rewound
// while the fetch was inflight.
func (s *Serial[B]) stale(pre Height, heights []Height) bool {
	if pre > s.LatestBufferedHeight() {
		return true
	}
	head, ok := s.Heights().Peek()
	if ok && head < heights[0] {
		return true
	}
	return false
}

func (s *Serial[B]) submitBatch(ctx context.Context, blocks []B) {
	tasks := make([]taskrunner.Task, len(blocks))
	for i, block := range blocks {
		block := block
		h := s.heightOf(block)
		tasks[i] = func(ctx context.Context) error {
			s.PreProcessBlock(h)
			resp, err := s.index(ctx, block)
			if err != nil {
				return fmt.Errorf("dispatch: indexBlock at height %d: %w", h, err)
			}
			return s.PostProcessBlock(ctx, h, resp)
		}
	}

	results := s.runner.PutMany(tasks)
	go s.watchResults(results)
}

func (s *Serial[B]) watchResults(results []<-chan error) {
	for _, done := range results {
		if err := <-done; err != nil {
			if err == taskrunner.ErrDiscarded || err == taskrunner.ErrAborted {
				continue
			}
			s.fatal(err)
			return
		}
	}
}

func (s *Serial[B]) fatal(err error) {
	if s.isShutdown.Load() {
		return
	}
	s.log.Error("fatal indexing failure", "error", err)
	if s.events != nil {
		s.events.Emit("pipeline.fatal", map[string]any{"error": err.Error()})
	}
	if s.onFatal != nil {
		s.onFatal(err)
	}
}
