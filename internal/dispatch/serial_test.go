package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testBlock struct {
	height Height
}

func TestEnqueueBlocksIndexesInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []Height
	done := make(chan struct{})

	s := NewSerial(context.Background(), SerialConfig[testBlock]{
		BatchSize: 4,
		HeightOf:  func(b testBlock) Height { return b.height },
		Fetch: func(ctx context.Context, heights []Height) ([]testBlock, error) {
			blocks := make([]testBlock, len(heights))
			for i, h := range heights {
				blocks[i] = testBlock{height: h}
			}
			return blocks, nil
		},
		Index: func(ctx context.Context, b testBlock) (ProcessBlockResponse, error) {
			mu.Lock()
			seen = append(seen, b.height)
			if len(seen) == 4 {
				close(done)
			}
			mu.Unlock()
			return ProcessBlockResponse{}, nil
		},
	})

	s.EnqueueBlocks(context.Background(), []Height{10, 11, 12, 13}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all blocks to be indexed")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Height{10, 11, 12, 13}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected strict order %v, got %v", want, seen)
		}
	}

	time.Sleep(10 * time.Millisecond)
	if s.LatestProcessedHeight() != 13 {
		t.Fatalf("expected latestProcessedHeight 13, got %d", s.LatestProcessedHeight())
	}
}

func TestFlushQueueDiscardsBufferedHeights(t *testing.T) {
	var mu sync.Mutex
	var seen []Height

	blockFetch := make(chan struct{})
	s := NewSerial(context.Background(), SerialConfig[testBlock]{
		BatchSize: 4,
		HeightOf:  func(b testBlock) Height { return b.height },
		Fetch: func(ctx context.Context, heights []Height) ([]testBlock, error) {
			<-blockFetch
			blocks := make([]testBlock, len(heights))
			for i, h := range heights {
				blocks[i] = testBlock{height: h}
			}
			return blocks, nil
		},
		Index: func(ctx context.Context, b testBlock) (ProcessBlockResponse, error) {
			mu.Lock()
			seen = append(seen, b.height)
			mu.Unlock()
			return ProcessBlockResponse{}, nil
		},
	})

	s.EnqueueBlocks(context.Background(), []Height{10, 11, 12, 13}, nil)
	// While the fetch is inflight, flush the queue back to height 9.
	s.FlushQueue(9)
	close(blockFetch)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, h := range seen {
		if h <= 9 {
			continue
		}
		t.Fatalf("expected no indexBlock calls for heights >9 after flush, saw %v", seen)
	}
}
