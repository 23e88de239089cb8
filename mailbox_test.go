package kernelz

import (
	"context"
	"testing"

	"github.com/zoobzio/metricz"
)

func TestMailboxEnqueueDequeueFIFO(t *testing.T) {
	mb := NewMailbox[int](10, OverflowReject, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if !mb.Enqueue(ctx, i) {
			t.Fatalf("expected Enqueue(%d) to succeed", i)
		}
	}

	for i := 1; i <= 3; i++ {
		val, seq, ok := mb.Dequeue()
		if !ok {
			t.Fatalf("expected a message to be present")
		}
		if val != i {
			t.Errorf("expected FIFO order, got %d at position %d", val, i)
		}
		if seq != int64(i) {
			t.Errorf("expected sequence number %d, got %d", i, seq)
		}
	}
}

func TestMailboxDequeueEmptyReturnsFalse(t *testing.T) {
	mb := NewMailbox[int](10, OverflowReject, nil)
	if _, _, ok := mb.Dequeue(); ok {
		t.Error("expected Dequeue on an empty mailbox to return false")
	}
}

func TestMailboxOverflowRejectRefusesNewMessage(t *testing.T) {
	mb := NewMailbox[int](2, OverflowReject, nil)
	ctx := context.Background()

	mb.Enqueue(ctx, 1)
	mb.Enqueue(ctx, 2)
	if mb.Enqueue(ctx, 3) {
		t.Error("expected a full OverflowReject mailbox to refuse a new message")
	}
	if mb.Len() != 2 {
		t.Errorf("expected length to remain 2, got %d", mb.Len())
	}
}

func TestMailboxOverflowDropOldestEvictsFront(t *testing.T) {
	mb := NewMailbox[int](2, OverflowDropOldest, nil)
	ctx := context.Background()

	mb.Enqueue(ctx, 1)
	mb.Enqueue(ctx, 2)
	if !mb.Enqueue(ctx, 3) {
		t.Fatal("expected OverflowDropOldest to always accept the new message")
	}

	val, _, _ := mb.Dequeue()
	if val != 2 {
		t.Errorf("expected oldest message (1) to have been evicted, front is now %d", val)
	}
}

func TestMailboxOverflowDropOldestStableUnderFlood(t *testing.T) {
	mb := NewMailbox[int](3, OverflowDropOldest, nil)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		if !mb.Enqueue(ctx, i) {
			t.Fatalf("expected OverflowDropOldest to always accept message %d", i)
		}
		if mb.Len() != 3 && i >= 3 {
			t.Fatalf("expected size to stay stable at capacity, got %d after message %d", mb.Len(), i)
		}
	}

	val, _, _ := mb.Dequeue()
	if val != 98 {
		t.Errorf("expected the head to be the oldest of the most recent 3 survivors (98), got %d", val)
	}
}

func TestMailboxWaitSignalsOnEnqueue(t *testing.T) {
	mb := NewMailbox[int](10, OverflowReject, nil)
	mb.Enqueue(context.Background(), 1)

	select {
	case <-mb.Wait():
	default:
		t.Error("expected Wait's channel to have a pending signal after Enqueue")
	}
}

func TestMailboxLenAndCap(t *testing.T) {
	mb := NewMailbox[int](5, OverflowReject, nil)
	if mb.Cap() != 5 {
		t.Errorf("expected cap 5, got %d", mb.Cap())
	}
	mb.Enqueue(context.Background(), 1)
	if mb.Len() != 1 {
		t.Errorf("expected len 1, got %d", mb.Len())
	}
}

func TestMailboxMetricsWiring(t *testing.T) {
	registry := metricz.New()
	mb := NewMailbox[int](1, OverflowReject, registry)
	ctx := context.Background()

	mb.Enqueue(ctx, 1)
	mb.Enqueue(ctx, 2) // rejected, over capacity
	mb.Dequeue()

	if got := registry.Counter(MailboxEnqueuedTotal).Value(); got != 1 {
		t.Errorf("expected enqueued counter 1, got %v", got)
	}
	if got := registry.Counter(MailboxRejectedTotal).Value(); got != 1 {
		t.Errorf("expected rejected counter 1, got %v", got)
	}
	if got := registry.Counter(MailboxDequeuedTotal).Value(); got != 1 {
		t.Errorf("expected dequeued counter 1, got %v", got)
	}
}
