package kernelz

import (
	"context"
	"sync"

	"github.com/zoobzio/hookz"
)

// CancelEvent is the payload delivered to hookz subscribers of a
// CancelToken's asynchronous observability channel (see CancelToken.Hooks).
type CancelEvent struct {
	ID     uint64
	Reason string
}

// CancelEventCanceled is the sole hookz key a CancelToken ever emits.
const CancelEventCanceled = hookz.Key("cancel.canceled")

var tokenSeq uint64

func nextTokenID() uint64 {
	// CancelToken identity only needs to be unique per process, not
	// cryptographically random, so a simple atomic-free counter guarded by
	// the package mutex below is enough.
	tokenMu.Lock()
	defer tokenMu.Unlock()
	tokenSeq++
	return tokenSeq
}

var tokenMu sync.Mutex

// CancelToken is a node in a parent-to-children cancellation tree
// (spec.md §3 "CancelToken", §4.2). Cancellation is monotonic and
// idempotent: the first Cancel call drains listeners in registration order
// and disconnects from the parent; every later call is a no-op. Listeners
// registered after cancellation fire immediately and synchronously.
type CancelToken struct {
	mu        sync.Mutex
	id        uint64
	reason    string
	canceled  bool
	listeners []cancelListener
	nextLID   uint64
	parent    *CancelToken
	children  map[uint64]*CancelToken

	hooks *hookz.Hooks[CancelEvent]
}

type cancelListener struct {
	id uint64
	fn func(reason string)
}

// NewCancelToken creates a root CancelToken with no parent.
func NewCancelToken() *CancelToken {
	return &CancelToken{
		id:       nextTokenID(),
		children: make(map[uint64]*CancelToken),
		hooks:    hookz.New[CancelEvent](),
	}
}

// Child creates a new CancelToken parented to t. Cancelling t cancels every
// descendant created this way, exactly once each; cancelling a child never
// affects its parent or siblings.
func (t *CancelToken) Child() *CancelToken {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		c := NewCancelToken()
		c.Cancel(t.reason)
		return c
	}
	c := &CancelToken{
		id:       nextTokenID(),
		parent:   t,
		children: make(map[uint64]*CancelToken),
		hooks:    hookz.New[CancelEvent](),
	}
	t.children[c.id] = c
	t.mu.Unlock()
	return c
}

// ID returns this token's unique identifier.
func (t *CancelToken) ID() uint64 {
	return t.id
}

// IsCanceled reports whether Cancel has been called on this token or an
// ancestor.
func (t *CancelToken) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Cancel marks the token canceled, disconnects it from its parent, and
// fires every registered listener exactly once, in registration order,
// before returning (spec.md invariants (a)-(c), P5). It then recursively
// cancels every child with the same reason. A listener panic is recovered
// and swallowed; the parent disconnect and remaining listeners still run.
func (t *CancelToken) Cancel(reason string) {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	t.reason = reason
	listeners := t.listeners
	t.listeners = nil
	children := make([]*CancelToken, 0, len(t.children))
	for _, c := range t.children {
		children = append(children, c)
	}
	t.children = nil
	parent := t.parent
	t.parent = nil
	t.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		delete(parent.children, t.id)
		parent.mu.Unlock()
	}

	for _, l := range listeners {
		invokeCancelListener(l, reason)
	}

	_ = t.hooks.Emit(context.Background(), CancelEventCanceled, CancelEvent{ID: t.id, Reason: reason}) //nolint:errcheck

	for _, c := range children {
		c.Cancel(reason)
	}
}

func invokeCancelListener(l cancelListener, reason string) {
	defer func() { _ = recover() }()
	l.fn(reason)
}

// OnCancel registers cb to run when the token is cancelled. If the token is
// already cancelled, cb runs synchronously before OnCancel returns (spec.md
// §4.2 "If already canceled, invoke cb synchronously"). The returned
// unsubscribe function removes cb; calling it after the token has already
// fired is a no-op.
func (t *CancelToken) OnCancel(cb func(reason string)) (unsubscribe func()) {
	t.mu.Lock()
	if t.canceled {
		reason := t.reason
		t.mu.Unlock()
		invokeCancelListener(cancelListener{fn: cb}, reason)
		return func() {}
	}
	lid := t.nextLID
	t.nextLID++
	t.listeners = append(t.listeners, cancelListener{id: lid, fn: cb})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == lid {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Hooks returns the token's hookz registry for asynchronous, best-effort
// observability of cancellation (e.g. metrics/logging subscribers). It is
// deliberately separate from OnCancel: OnCancel is the spec's
// correctness-critical, synchronous listener path; Hooks is additional,
// non-blocking fan-out grounded on the teacher's hookz usage in
// handle.go — a subscriber here must never be relied on for ordering or
// cleanup guarantees.
func (t *CancelToken) Hooks() *hookz.Hooks[CancelEvent] {
	return t.hooks
}

// Close releases the token's hookz registry. Safe to call even if the token
// was never cancelled; harmless to skip if the process is exiting anyway.
func (t *CancelToken) Close() error {
	return t.hooks.Close()
}
