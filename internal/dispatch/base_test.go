package dispatch

import (
	"context"
	"testing"

	"github.com/vietddude/chainindex/internal/cache/queue"
)

type fakeFlusher struct {
	should  bool
	flushed int
}

func (f *fakeFlusher) ShouldFlush() bool { return f.should }
func (f *fakeFlusher) Flush(ctx context.Context) error {
	f.flushed++
	return nil
}

func TestPreProcessBlockRejectsNonIncreasingHeight(t *testing.T) {
	b := NewBase(queue.New[Height](30), nil, nil, nil, nil)
	b.PreProcessBlock(10)

	resp := ProcessBlockResponse{}
	if err := b.PostProcessBlock(context.Background(), 10, resp); err != nil {
		t.Fatalf("postProcess: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-increasing height")
		}
	}()
	b.PreProcessBlock(10)
}

func TestPostProcessBlockTriggersFlushWhenDue(t *testing.T) {
	flusher := &fakeFlusher{should: true}
	b := NewBase(queue.New[Height](30), flusher, nil, nil, nil)

	if err := b.PostProcessBlock(context.Background(), 5, ProcessBlockResponse{}); err != nil {
		t.Fatalf("postProcess: %v", err)
	}
	if flusher.flushed != 1 {
		t.Fatalf("expected flush to be triggered once, got %d", flusher.flushed)
	}
	if b.LatestProcessedHeight() != 5 {
		t.Fatalf("expected watermark 5, got %d", b.LatestProcessedHeight())
	}
}

func TestFlushQueueTruncatesAndSetsWatermark(t *testing.T) {
	q := queue.New[Height](30)
	q.PutMany([]Height{1, 2, 3})
	b := NewBase(q, nil, nil, nil, nil)

	b.FlushQueue(9)
	if q.Size() != 0 {
		t.Fatalf("expected queue truncated, size=%d", q.Size())
	}
	if b.LatestBufferedHeight() != 9 {
		t.Fatalf("expected buffered watermark 9, got %d", b.LatestBufferedHeight())
	}
}
