package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.Entity, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), crawler.Entity{Symbol: "AAPL", Locator: "loc-aapl"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Symbol != "AAPL" {
			t.Fatalf("expected AAPL, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return entity")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), crawler.Entity{Symbol: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, crawler.Entity{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsBufferedEntities(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, crawler.Entity{Symbol: "A"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()

	got, err := q.Dequeue(ctx)
	if err != nil || got.Symbol != "A" {
		t.Fatalf("expected buffered A, got %+v (%v)", got, err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Enqueue(ctx, crawler.Entity{Symbol: "B"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue after close, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
