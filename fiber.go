package kernelz

import "sync"

// Fiber is a handle to an Effect running concurrently in its own goroutine
// (spec.md §3 "Fiber", §4.5). It is created by Effect.Fork and joined,
// interrupted, or polled independently of the forking computation.
type Fiber[A any] struct {
	mu     sync.Mutex
	done   bool
	result Result[A]
	waiter chan struct{}
	cancel *CancelToken
}

// Fork starts e running in a new goroutine under a child of env's
// CancelToken, and returns immediately with a Fiber handle (spec.md §4.5
// "fork()"). The child scope closes when e completes: with CauseInterrupted
// if the child token was cancelled by then, otherwise with the Cause
// matching e's Result.
func (e Effect[A]) Fork() Effect[*Fiber[A]] {
	return Effect[*Fiber[A]]{name: e.name, run: func(env *EffectEnv) Result[*Fiber[A]] {
		child := env.child()
		f := &Fiber[A]{
			waiter: make(chan struct{}),
			cancel: child.Cancel,
		}
		go func() {
			res := e.checked(child)
			cause := causeOf(res)
			if child.Cancel.IsCanceled() {
				cause = CauseInterrupted
			}
			child.Scope.Close(cause)
			f.mu.Lock()
			f.done = true
			f.result = res
			f.mu.Unlock()
			close(f.waiter)
		}()
		return Succeeded(f)
	}}
}

// Join blocks until the fiber completes and returns its Result (spec.md
// §4.5 "join()"). Joining an already-completed fiber returns immediately.
func (f *Fiber[A]) Join() Result[A] {
	<-f.waiter
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Interrupt cancels the fiber's CancelToken, propagating to anything it in
// turn forked, and returns once the fiber has observed cancellation and
// completed (spec.md §4.5 "interrupt()"). A fiber that never checks for
// cancellation (no Sleep/Timeout/other core primitive) only stops once it
// naturally returns; Interrupt still waits for that.
func (f *Fiber[A]) Interrupt() Result[A] {
	f.cancel.Cancel("fiber interrupted")
	return f.Join()
}

// Poll returns the fiber's Result and true if it has completed, or the
// zero Result and false otherwise (spec.md §4.5 "poll()"). Non-blocking.
func (f *Fiber[A]) Poll() (Result[A], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		var zero Result[A]
		return zero, false
	}
	return f.result, true
}
