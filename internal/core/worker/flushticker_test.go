package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeFlusher struct {
	mu      sync.Mutex
	pending int
	flushes int
}

func (f *fakeFlusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.pending = 0
	return nil
}

func (f *fakeFlusher) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (s *fakeEventSink) Emit(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, payload)
}

func TestFlushTickerSkipsWhenNothingPending(t *testing.T) {
	f := &fakeFlusher{pending: 0}
	ticker := NewFlushTicker(f, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushes != 0 {
		t.Fatalf("expected no flushes with nothing pending, got %d", f.flushes)
	}
}

func TestFlushTickerFlushesWhenPending(t *testing.T) {
	f := &fakeFlusher{pending: 3}
	ticker := NewFlushTicker(f, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushes == 0 {
		t.Fatal("expected at least one flush")
	}
}

func TestFlushTickerEmitsPendingCountEachTick(t *testing.T) {
	f := &fakeFlusher{pending: 3}
	sink := &fakeEventSink{}
	ticker := NewFlushTicker(f, 10*time.Millisecond, nil, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	ticker.Start(ctx)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) == 0 {
		t.Fatal("expected at least one pending-count event")
	}
	if sink.events[0]["pending"] != 3 {
		t.Fatalf("expected pending=3, got %v", sink.events[0]["pending"])
	}
}
