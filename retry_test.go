package kernelz

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	clock := NewSystemClock()
	env := NewEffectEnv(clock, nil)

	var calls int32
	e := FromFallible("ok", func(*EffectEnv) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}).Retry(DefaultRetryPolicy())

	val, err := e.Run(env).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 1 {
		t.Errorf("expected 1, got %d", val)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetrySucceedsOnNthAttempt(t *testing.T) {
	cc := NewControlledClock()
	env := NewEffectEnv(cc, nil)

	var calls int32
	e := FromFallible("flaky", func(*EffectEnv) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}).Retry(RetryPolicy{MaxAttempts: 5, BaseDelay: NewMillis(10), BackoffFactor: 1.0, MaxDelay: NewMillis(0)})

	done := make(chan Result[int], 1)
	go func() { done <- e.Run(env) }()

	for i := 0; i < 2; i++ {
		for cc.PendingTimerCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cc.AdvanceBy(NewMillis(10))
	}

	res := <-done
	val, err := res.Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", calls)
	}
}

func TestRetryExhaustsAfterMaxAttempts(t *testing.T) {
	cc := NewControlledClock()
	env := NewEffectEnv(cc, nil)
	boom := errors.New("always fails")

	var calls int32
	e := FromFallible("always-fails", func(*EffectEnv) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	}).Retry(RetryPolicy{MaxAttempts: 3, BaseDelay: NewMillis(5), BackoffFactor: 1.0, MaxDelay: NewMillis(0)})

	done := make(chan Result[int], 1)
	go func() { done <- e.Run(env) }()

	for i := 0; i < 2; i++ {
		for cc.PendingTimerCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cc.AdvanceBy(NewMillis(5))
	}

	res := <-done
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected %v, got %v", boom, res.Err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryDoesNotRetryInterruptedFault(t *testing.T) {
	clock := NewSystemClock()
	cancel := NewCancelToken()
	cancel.Cancel("already gone")
	env := NewEffectEnv(clock, cancel)

	var calls int32
	e := FromFallible("never-runs", func(*EffectEnv) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}).Retry(RetryPolicy{MaxAttempts: 5, BaseDelay: NewMillis(5), BackoffFactor: 1.0})

	res := e.Run(env)
	if calls != 0 {
		t.Errorf("expected the underlying effect to never run under a cancelled token, got %d calls", calls)
	}
	f, ok := res.Err.(*Fault[any])
	if !ok || !f.IsInterrupted() {
		t.Errorf("expected an interrupted Fault, got %v", res.Err)
	}
}

func TestRetryPolicyDelayForExponentialBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: NewMillis(100), BackoffFactor: 2.0, MaxDelay: NewMillis(1000)}

	cases := map[int]Millis{
		1: NewMillis(100),
		2: NewMillis(200),
		3: NewMillis(400),
		4: NewMillis(800),
		5: NewMillis(1000), // capped
	}
	for attempt, want := range cases {
		if got := p.delayFor(attempt); got != want {
			t.Errorf("delayFor(%d) = %d, want %d", attempt, got, want)
		}
	}
}

func TestRetryPolicyDelayForAppliesJitter(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:     NewMillis(100),
		BackoffFactor: 1.0,
		Jitter:        func(base Millis) Millis { return base + 7 },
	}
	if got := p.delayFor(1); got != NewMillis(107) {
		t.Errorf("expected jitter to be applied, got %d", got)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", p.MaxAttempts)
	}
	if p.Tracer == nil {
		t.Error("expected a default tracer to be set")
	}
}
