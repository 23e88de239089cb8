package kernelz

import (
	"context"
	"sync"

	"github.com/zoobzio/metricz"
)

// OverflowPolicy decides what a full Mailbox does with a new message
// (spec.md §4.7).
type OverflowPolicy int

const (
	// OverflowReject refuses the new message; Enqueue returns false.
	OverflowReject OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest queued message to make room.
	OverflowDropOldest
)

// mailboxMsg pairs a queued value with its strictly increasing sequence
// number (spec.md §4.7 "messages are delivered in enqueue order, each
// carrying a strictly increasing sequence number").
type mailboxMsg[M any] struct {
	seq   int64
	value M
}

// Mailbox is a bounded FIFO queue of messages addressed to one Process
// (spec.md §3 "Mailbox", §4.7). It is safe for concurrent Enqueue callers
// and a single Dequeue-ing pump goroutine, the shape every Process uses it
// in.
type Mailbox[M any] struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	queue    []mailboxMsg[M]
	cap      int
	policy   OverflowPolicy
	nextSeq  int64

	metrics *metricz.Registry
}

// Mailbox metric keys, registered against whatever Registry the owning
// Process was given (spec.md §4.7, grounded on the teacher's backoff.go
// "register every key up front, then Counter(key)/Gauge(key) again at each
// call site" pattern).
var (
	MailboxDepthGauge     = metricz.Key("mailbox.depth")
	MailboxEnqueuedTotal  = metricz.Key("mailbox.enqueued.total")
	MailboxRejectedTotal  = metricz.Key("mailbox.rejected.total")
	MailboxDequeuedTotal  = metricz.Key("mailbox.dequeued.total")
)

// NewMailbox creates a Mailbox with the given capacity and overflow policy.
// metrics may be nil; when set, depth/enqueued/rejected/dequeued counters
// are registered against it.
func NewMailbox[M any](capacity int, policy OverflowPolicy, metrics *metricz.Registry) *Mailbox[M] {
	if metrics != nil {
		metrics.Gauge(MailboxDepthGauge)
		metrics.Counter(MailboxEnqueuedTotal)
		metrics.Counter(MailboxRejectedTotal)
		metrics.Counter(MailboxDequeuedTotal)
	}
	return &Mailbox[M]{
		notEmpty: make(chan struct{}, 1),
		cap:      capacity,
		policy:   policy,
		metrics:  metrics,
	}
}

// Enqueue adds value to the back of the queue. It returns false (without
// adding anything) if the queue is full and the policy is OverflowReject.
// Under OverflowDropOldest, a full queue evicts its oldest message first and
// Enqueue always returns true.
func (m *Mailbox[M]) Enqueue(ctx context.Context, value M) bool {
	m.mu.Lock()
	ok := true
	if len(m.queue) >= m.cap {
		switch m.policy {
		case OverflowDropOldest:
			m.queue = m.queue[1:]
		default:
			ok = false
		}
	}
	if ok {
		m.nextSeq++
		m.queue = append(m.queue, mailboxMsg[M]{seq: m.nextSeq, value: value})
	}
	size := len(m.queue)
	capVal := m.cap
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Gauge(MailboxDepthGauge).Set(float64(size))
	}
	if !ok {
		if m.metrics != nil {
			m.metrics.Counter(MailboxRejectedTotal).Inc()
		}
		emitErr(ctx, Instant{}, SignalMailboxFull, FieldMailboxSize.Field(size), FieldMailboxCap.Field(capVal))
		return false
	}
	if m.metrics != nil {
		m.metrics.Counter(MailboxEnqueuedTotal).Inc()
	}
	emit(ctx, Instant{}, SignalMailboxEnqueue, FieldMailboxSize.Field(size), FieldMailboxCap.Field(capVal))
	m.signal()
	return true
}

func (m *Mailbox[M]) signal() {
	select {
	case m.notEmpty <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest message, its sequence number, and
// true, or zero values and false if the queue is empty. Non-blocking.
func (m *Mailbox[M]) Dequeue() (M, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		var zero M
		return zero, 0, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	if m.metrics != nil {
		m.metrics.Gauge(MailboxDepthGauge).Set(float64(len(m.queue)))
		m.metrics.Counter(MailboxDequeuedTotal).Inc()
	}
	return msg.value, msg.seq, true
}

// Wait returns a channel that receives a value whenever the mailbox
// transitions from empty to non-empty, for a pump goroutine to select on
// alongside other readiness signals. The channel is not guaranteed to fire
// exactly once per message; callers must drain with Dequeue in a loop.
func (m *Mailbox[M]) Wait() <-chan struct{} {
	return m.notEmpty
}

// Len returns the current queue length.
func (m *Mailbox[M]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Cap returns the mailbox's configured capacity.
func (m *Mailbox[M]) Cap() int {
	return m.cap
}
