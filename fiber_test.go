package kernelz

import (
	"errors"
	"testing"
	"time"
)

func TestForkJoinReturnsResult(t *testing.T) {
	clock := NewSystemClock()
	env := NewEffectEnv(clock, nil)

	forked := Succeed(42).Fork().Run(env)
	fiber, err := forked.Unpack()
	if err != nil {
		t.Fatalf("unexpected error forking: %v", err)
	}

	val, err := fiber.Join().Unpack()
	if err != nil {
		t.Fatalf("unexpected error joining: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestForkJoinPropagatesError(t *testing.T) {
	clock := NewSystemClock()
	env := NewEffectEnv(clock, nil)
	boom := errors.New("boom")

	forked := Fail[int](boom).Fork().Run(env)
	fiber, _ := forked.Unpack()

	if _, err := fiber.Join().Unpack(); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}

func TestFiberPollBeforeCompletion(t *testing.T) {
	cc := NewControlledClock()
	env := NewEffectEnv(cc, nil)

	forked := cc.Sleep(NewMillis(1000)).Fork().Run(env)
	fiber, _ := forked.Unpack()

	if _, done := fiber.Poll(); done {
		t.Error("expected fiber to not be done before its sleep completes")
	}

	for cc.PendingTimerCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cc.AdvanceBy(NewMillis(1000))

	deadline := time.Now().Add(time.Second)
	for {
		if _, done := fiber.Poll(); done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected fiber to complete after its sleep elapsed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFiberInterrupt(t *testing.T) {
	cc := NewControlledClock()
	env := NewEffectEnv(cc, nil)

	forked := cc.Sleep(NewMillis(10000)).Fork().Run(env)
	fiber, _ := forked.Unpack()
	for cc.PendingTimerCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	res := fiber.Interrupt()
	if !res.Ok() {
		t.Errorf("expected interrupted sleep to resolve Ok, got %v", res.Err)
	}
}
