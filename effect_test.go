package kernelz

import (
	"errors"
	"testing"
	"time"
)

func TestRunRootSucceed(t *testing.T) {
	clock := NewSystemClock()
	res := RunRoot(clock, Succeed(42))
	val, err := res.Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestRunRootFail(t *testing.T) {
	clock := NewSystemClock()
	boom := errors.New("boom")
	res := RunRoot(clock, Fail[int](boom))
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected %v, got %v", boom, res.Err)
	}
}

func TestFromFallibleSuccess(t *testing.T) {
	clock := NewSystemClock()
	e := FromFallible("greet", func(*EffectEnv) (string, error) {
		return "hello", nil
	})
	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello" {
		t.Errorf("expected 'hello', got %q", val)
	}
}

func TestFromFallibleRecoversPanic(t *testing.T) {
	clock := NewSystemClock()
	e := FromFallible("panics", func(*EffectEnv) (int, error) {
		panic("kaboom")
	})
	res := RunRoot(clock, e)
	if res.Err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestMustRunPanicsOnError(t *testing.T) {
	clock := NewSystemClock()
	defer func() {
		if recover() == nil {
			t.Error("expected MustRun to panic on failure")
		}
	}()
	MustRun(clock, Fail[int](errors.New("boom")))
}

func TestMustRunReturnsValue(t *testing.T) {
	clock := NewSystemClock()
	if got := MustRun(clock, Succeed("ok")); got != "ok" {
		t.Errorf("expected 'ok', got %q", got)
	}
}

func TestMapEffectAppliesFunction(t *testing.T) {
	clock := NewSystemClock()
	e := MapEffect(Succeed(21), func(n int) int { return n * 2 })
	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestMapEffectShortCircuitsOnErr(t *testing.T) {
	clock := NewSystemClock()
	boom := errors.New("boom")
	called := false
	e := MapEffect(Fail[int](boom), func(n int) int { called = true; return n })
	res := RunRoot(clock, e)
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected %v, got %v", boom, res.Err)
	}
	if called {
		t.Error("expected map function to not run on a failed input")
	}
}

func TestMapEffectRecoversPanic(t *testing.T) {
	clock := NewSystemClock()
	e := MapEffect(Succeed(1), func(int) int { panic("boom") })
	res := RunRoot(clock, e)
	if res.Err == nil {
		t.Fatal("expected panic in map function to surface as an error")
	}
}

func TestFlatMapEffectChains(t *testing.T) {
	clock := NewSystemClock()
	e := FlatMapEffect(Succeed(10), func(n int) Effect[int] {
		return Succeed(n + 5)
	})
	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 15 {
		t.Errorf("expected 15, got %d", val)
	}
}

func TestFlatMapEffectShortCircuitsOnErr(t *testing.T) {
	clock := NewSystemClock()
	boom := errors.New("boom")
	e := FlatMapEffect(Fail[int](boom), func(n int) Effect[int] {
		return Succeed(n)
	})
	res := RunRoot(clock, e)
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected %v, got %v", boom, res.Err)
	}
}

func TestCatchReplacesError(t *testing.T) {
	clock := NewSystemClock()
	e := Fail[int](errors.New("boom")).Catch(func(error) Effect[int] {
		return Succeed(99)
	})
	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 99 {
		t.Errorf("expected 99, got %d", val)
	}
}

func TestCatchDoesNotRunOnSuccess(t *testing.T) {
	clock := NewSystemClock()
	called := false
	e := Succeed(1).Catch(func(error) Effect[int] {
		called = true
		return Succeed(2)
	})
	RunRoot(clock, e)
	if called {
		t.Error("expected catch handler to not run on success")
	}
}

func TestOnInterruptRunsCleanupWhenCancelled(t *testing.T) {
	cc := NewControlledClock()
	cancel := NewCancelToken()
	env := NewEffectEnv(cc, cancel)

	cleaned := false
	e := Sleep(NewMillis(1000)).OnInterrupt(func() { cleaned = true })

	done := make(chan Result[struct{}], 1)
	go func() { done <- e.Run(env) }()
	for cc.PendingTimerCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel.Cancel("stop")
	<-done

	if !cleaned {
		t.Error("expected OnInterrupt's cleanup to run when the token is cancelled")
	}
}

func TestWithContextIsVisibleToEffect(t *testing.T) {
	clock := NewSystemClock()
	e := FromFallible("reads-context", func(env *EffectEnv) (string, error) {
		v, ok := env.Value("k")
		if !ok {
			return "", errors.New("missing value")
		}
		return v.(string), nil
	}).WithContext("k", "v")

	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "v" {
		t.Errorf("expected 'v', got %q", val)
	}
}

func TestEffectTimeoutSucceedsBeforeDeadline(t *testing.T) {
	clock := NewSystemClock()
	e := Succeed(1).Timeout(NewMillis(1000))
	val, err := RunRoot(clock, e).Unpack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 1 {
		t.Errorf("expected 1, got %d", val)
	}
}

func TestEffectTimeoutFiresOnSlowEffect(t *testing.T) {
	cc := NewControlledClock()
	env := NewEffectEnv(cc, nil)

	blocked := make(chan struct{})
	slow := FromFallible("slow", func(innerEnv *EffectEnv) (int, error) {
		cc.Sleep(NewMillis(10000)).run(innerEnv)
		close(blocked)
		return 1, nil
	})

	done := make(chan Result[int], 1)
	go func() {
		done <- slow.Timeout(NewMillis(50)).Run(env)
	}()

	for cc.PendingTimerCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	cc.AdvanceBy(NewMillis(50))

	res := <-done
	if res.Err == nil {
		t.Fatal("expected a timeout error")
	}
	f, ok := res.Err.(*Fault[int])
	if !ok || !f.IsTimeout() {
		t.Errorf("expected a timeout Fault, got %v", res.Err)
	}
}

func TestCheckedShortCircuitsOnCancelledToken(t *testing.T) {
	clock := NewSystemClock()
	cancel := NewCancelToken()
	cancel.Cancel("already gone")
	env := NewEffectEnv(clock, cancel)

	ran := false
	e := FromFallible("never-runs", func(*EffectEnv) (int, error) {
		ran = true
		return 1, nil
	})

	res := e.Run(env)
	if ran {
		t.Error("expected effect body to not run under a cancelled token")
	}
	f, ok := res.Err.(*Fault[any])
	if !ok || !f.IsInterrupted() {
		t.Errorf("expected an interrupted Fault, got %v", res.Err)
	}
}
