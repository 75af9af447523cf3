package queue

import (
	"context"
	"testing"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

func fixAt(lat float64) model.Fix {
	return model.Fix{Latitude: lat, Longitude: 73.85, Accuracy: 10, Timestamp: time.Unix(int64(lat*1000), 0)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, fixAt(18.52)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	f := <-q.Dequeue(ctx)
	if f.Latitude != 18.52 {
		t.Errorf("expected 18.52, got %v", f.Latitude)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, fixAt(1)) || !q.Enqueue(ctx, fixAt(2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, fixAt(3)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		q.Enqueue(ctx, fixAt(float64(i)))
	}
	_ = q.Close()

	want := 1.0
	for f := range q.Dequeue(ctx) {
		if f.Latitude != want {
			t.Fatalf("expected %v, got %v", want, f.Latitude)
		}
		want++
	}
	if want != 6 {
		t.Errorf("expected 5 fixes drained, got %v", want-1)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, fixAt(1)) {
		t.Error("expected enqueue to fail after close")
	}
	if _, ok := <-q.Dequeue(ctx); ok {
		t.Error("expected dequeue channel to be closed")
	}
}

func TestInMemoryQueue_CancelledDequeue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx, cancel := context.WithCancel(context.Background())
	q.Enqueue(context.Background(), fixAt(1))
	ch := q.Dequeue(ctx)
	cancel()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("dequeue channel did not settle after cancel")
	}
}
