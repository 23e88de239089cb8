// Package kernelztesting provides test utilities for kernelz-based code: a
// scriptable Process Handle, chaos injection for Effects, and assertion and
// polling helpers to make testing processes and effects easier and more
// comprehensive.
//
// Example usage:
//
//	func TestCounter(t *testing.T) {
//		mock := kernelztesting.NewMockHandle[string, int](t, "mock-handle")
//		mock.WithReturn(1, nil)
//
//		ref := kernelz.Spawn(kernelz.ProcessSpec[string, int]{
//			ID:     "counter",
//			Init:   func(kernelz.Tools[string]) (int, error) { return 0, nil },
//			Handle: mock.Handle,
//		})
//		ref.Send("tick")
//
//		kernelztesting.WaitForHandled(mock, 1, time.Second)
//		kernelztesting.AssertHandled(t, mock, 1)
//	}
package kernelztesting

import (
	"context"
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/kernelz"
)

// MockCall records one call made to a MockHandle.
type MockCall[M any] struct {
	Msg       M
	Timestamp time.Time
}

// MockHandle is a configurable implementation of the func(S, M,
// kernelz.Tools[M]) (S, error) shape a kernelz.ProcessSpec expects for
// Handle. It records every call and lets a test script its returned state,
// an injected delay, or an induced panic, grounded on the teacher's
// MockProcessor[T] pattern for pipz.Chainable[T].
type MockHandle[M, S any] struct { //nolint:govet // fieldalignment: test helper struct optimized for functionality over memory efficiency
	t           *testing.T
	name        string
	callCount   int64
	lastMsg     M
	returnState S
	returnErr   error
	delay       time.Duration
	panicMsg    string
	mu          sync.RWMutex
	callHistory []MockCall[M]
	maxHistory  int
}

// NewMockHandle creates a new mock Handle for testing. The handle tracks
// all calls and provides configurable behavior.
func NewMockHandle[M, S any](t *testing.T, name string) *MockHandle[M, S] {
	return &MockHandle[M, S]{
		t:          t,
		name:       name,
		maxHistory: 100,
	}
}

// WithReturn configures the mock to return a specific state and error for
// all subsequent calls.
func (m *MockHandle[M, S]) WithReturn(state S, err error) *MockHandle[M, S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnState = state
	m.returnErr = err
	return m
}

// WithDelay configures the mock to wait d before returning, honoring
// ctx.Done() on the Tools passed to Handle. Useful for testing Ask timeouts
// and process stop-while-handling behavior.
func (m *MockHandle[M, S]) WithDelay(d time.Duration) *MockHandle[M, S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with msg, for testing a process's
// panic recovery around Handle.
func (m *MockHandle[M, S]) WithPanic(msg string) *MockHandle[M, S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize configures how many calls to keep in history. Zero
// disables history tracking.
func (m *MockHandle[M, S]) WithHistorySize(size int) *MockHandle[M, S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Name returns the mock handle's configured name.
func (m *MockHandle[M, S]) Name() string { return m.name }

// Handle implements the signature kernelz.ProcessSpec.Handle expects; pass
// it directly as spec.Handle = mock.Handle.
func (m *MockHandle[M, S]) Handle(_ S, msg M, tools kernelz.Tools[M]) (S, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastMsg = msg
	if m.maxHistory > 0 {
		call := MockCall[M]{Msg: msg, Timestamp: time.Now()}
		m.callHistory = append(m.callHistory, call)
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:]
		}
	}
	delay := m.delay
	state := m.returnState
	err := m.returnErr
	panicMsg := m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		ctx := tools.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}

	return state, err
}

// CallCount returns the number of times Handle has been called.
func (m *MockHandle[M, S]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastMsg returns the message from the most recent call.
func (m *MockHandle[M, S]) LastMsg() M {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMsg
}

// CallHistory returns a copy of all recorded calls. Returns nil if history
// tracking is disabled.
func (m *MockHandle[M, S]) CallHistory() []MockCall[M] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxHistory == 0 {
		return nil
	}
	history := make([]MockCall[M], len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// Reset clears all call tracking, restoring the mock to its initial state.
func (m *MockHandle[M, S]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.lastMsg = *new(M)
	m.callHistory = nil
}

// Assertion helpers.

// AssertHandled verifies that a mock handle was called exactly n times.
func AssertHandled[M, S any](t *testing.T, mock *MockHandle[M, S], expectedCalls int) {
	t.Helper()
	actualCalls := mock.CallCount()
	if actualCalls != expectedCalls {
		t.Errorf("expected mock handle %s to be called %d times, but was called %d times",
			mock.name, expectedCalls, actualCalls)
	}
}

// AssertNotHandled verifies that a mock handle was never called.
func AssertNotHandled[M, S any](t *testing.T, mock *MockHandle[M, S]) {
	t.Helper()
	AssertHandled(t, mock, 0)
}

// AssertHandledWith verifies that a mock handle was most recently called
// with the expected message.
func AssertHandledWith[M comparable, S any](t *testing.T, mock *MockHandle[M, S], expectedMsg M) {
	t.Helper()
	if mock.CallCount() == 0 {
		t.Errorf("expected mock handle %s to be called with %v, but it was never called",
			mock.name, expectedMsg)
		return
	}
	actualMsg := mock.LastMsg()
	if actualMsg != expectedMsg {
		t.Errorf("expected mock handle %s to be called with %v, but was called with %v",
			mock.name, expectedMsg, actualMsg)
	}
}

// AssertHandledBetween verifies that a mock handle was called between min
// and max times, inclusive.
func AssertHandledBetween[M, S any](t *testing.T, mock *MockHandle[M, S], minCalls, maxCalls int) {
	t.Helper()
	actualCalls := mock.CallCount()
	if actualCalls < minCalls || actualCalls > maxCalls {
		t.Errorf("expected mock handle %s to be called between %d and %d times, but was called %d times",
			mock.name, minCalls, maxCalls, actualCalls)
	}
}

// ChaosConfig configures probabilistic fault injection for WrapChaos,
// grounded on the teacher's ChaosProcessor/ChaosConfig shape.
type ChaosConfig struct {
	FailureRate float64       // probability Run returns an error (0.0 to 1.0)
	LatencyMin  time.Duration // minimum additional latency to inject
	LatencyMax  time.Duration // maximum additional latency to inject
	PanicRate   float64       // probability the wrapped body panics; the panic is recovered into an error result (0.0 to 1.0)
	Seed        int64         // random seed for reproducible chaos (0 for random seed)
}

// ChaosStats reports what a ChaosInjector actually did.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// FailureRate returns the observed failure rate.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// PanicRate returns the observed panic rate.
func (s ChaosStats) PanicRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.PanicCalls) / float64(s.TotalCalls)
}

// String returns a human-readable representation of the stats.
func (s ChaosStats) String() string {
	return fmt.Sprintf("ChaosStats{Total: %d, Failed: %d (%.1f%%), Panics: %d (%.1f%%)}",
		s.TotalCalls, s.FailedCalls, s.FailureRate()*100, s.PanicCalls, s.PanicRate()*100)
}

// ChaosInjector wraps Effects with configurable failure/latency/panic
// injection, for testing how Retry, Catch, Race, and Timeout behave against
// an unreliable dependency (grounded on the teacher's ChaosProcessor, which
// does the same for a wrapped pipz.Chainable[T]).
type ChaosInjector struct {
	failureRate float64
	latencyMin  time.Duration
	latencyMax  time.Duration
	panicRate   float64

	mu    sync.Mutex
	rng   *mathrand.Rand
	total int64
	fail  int64
	panic int64
}

// NewChaosInjector creates a ChaosInjector from config. A zero Seed draws a
// seed from crypto/rand, falling back to a time-based seed if that fails.
func NewChaosInjector(config ChaosConfig) *ChaosInjector {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			for _, b := range seedBytes {
				seed = seed<<8 | int64(b)
			}
		}
	}
	return &ChaosInjector{
		failureRate: config.FailureRate,
		latencyMin:  config.LatencyMin,
		latencyMax:  config.LatencyMax,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: test utility uses weak RNG for deterministic chaos scenarios
	}
}

// Stats returns the injector's call statistics so far.
func (c *ChaosInjector) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.total),
		FailedCalls: atomic.LoadInt64(&c.fail),
		PanicCalls:  atomic.LoadInt64(&c.panic),
	}
}

func (c *ChaosInjector) roll() (fail, induce bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng.Float64() < c.panicRate {
		induce = true
		return
	}
	if c.latencyMax > c.latencyMin {
		latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
	} else if c.latencyMin > 0 {
		latency = c.latencyMin
	}
	fail = c.rng.Float64() < c.failureRate
	return fail, induce, latency
}

// WrapChaos wraps wrapped with failure, latency, and panic injection per
// c's configuration. Injected latency runs through env.Clock.Sleep so it
// plays correctly against a ControlledClock under test instead of blocking
// the real wall clock. Go methods cannot introduce wrapped's type parameter
// beyond the receiver's, so this is a free function rather than a
// ChaosInjector method.
func WrapChaos[A any](c *ChaosInjector, wrapped kernelz.Effect[A]) kernelz.Effect[A] {
	return kernelz.FromFallible(wrapped.Name(), func(env *kernelz.EffectEnv) (A, error) {
		atomic.AddInt64(&c.total, 1)

		fail, induce, latency := c.roll()
		if induce {
			atomic.AddInt64(&c.panic, 1)
			panic("kernelztesting: chaos induced panic")
		}

		if latency > 0 {
			env.Clock.Sleep(kernelz.NewMillis(latency.Milliseconds())).Run(env)
		}

		res := wrapped.Run(env)
		if res.Err != nil {
			return res.Value, res.Err
		}
		if fail {
			atomic.AddInt64(&c.fail, 1)
			return res.Value, fmt.Errorf("kernelztesting: chaos induced failure")
		}
		return res.Value, nil
	})
}

// Polling and concurrency helpers.

// WaitForHandled waits for a mock handle to be called at least n times,
// polling with a short sleep, up to timeout. Returns true if the expected
// call count was reached.
func WaitForHandled[M, S any](mock *MockHandle[M, S], expectedCalls int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return mock.CallCount() >= expectedCalls
}

// WaitForStatus waits for ref to reach want, polling up to timeout. Returns
// true if the status was reached.
func WaitForStatus[M any](ref *kernelz.ProcessRef[M], want kernelz.Status, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if ref.Status() == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ref.Status() == want
}

// ParallelTest runs testFunc in parallel across goroutines goroutines,
// waiting for all of them to finish. Useful for testing a Process's
// single-threaded handling guarantee (P10) under concurrent Send callers.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}

	wg.Wait()
}

// MeasureLatency measures the wall-clock latency of a function call.
func MeasureLatency(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}

// MeasureLatencyWithResult measures the wall-clock latency of a function
// call and returns both its result and the duration.
func MeasureLatencyWithResult[T any](fn func() T) (T, time.Duration) {
	start := time.Now()
	result := fn()
	return result, time.Since(start)
}
