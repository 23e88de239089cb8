package kernelz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// DeadlineTarget is the canonical form Clock.Deadline accepts: a bare wall
// time in milliseconds since epoch (spec.md §9 "the canonical form in this
// spec is {wallMs} only" — the source's relative-if-small-number overload is
// deliberately not implemented).
type DeadlineTarget struct {
	WallMs int64
}

// TimerHandle is returned by Clock.Interval. Cancel prevents all future
// ticks; if called from inside the callback it still prevents the next
// tick (spec.md §4.1).
type TimerHandle struct {
	cancel func()
}

// Cancel stops the interval. Idempotent.
func (h *TimerHandle) Cancel() {
	h.cancel()
}

// Clock is the single source of "now" (spec.md §4.1): a wall-time track and
// an independent monotonic track, plus scheduling operations. SystemClock
// and ControlledClock are the two implementations; every timer, retry
// delay, scheduled message, and deadline in this module flows through one.
type Clock interface {
	// Now returns the current Instant. Constant-time, never fails.
	Now() Instant

	// Sleep returns an Effect that completes after at least d monotonic
	// milliseconds. d <= 0 completes immediately, synchronously, with no
	// timer scheduled and no events emitted (spec.md B1).
	Sleep(d Millis) Effect[struct{}]

	// Timeout is an alias for Sleep (spec.md §4.1).
	Timeout(d Millis) Effect[struct{}]

	// Deadline returns an Effect that completes when Now().WallMs >=
	// target.WallMs. A target already before the current wall time
	// completes immediately and reports as missed (deadline:err); a target
	// equal to the current wall time completes immediately as deadline:ok.
	Deadline(target DeadlineTarget) Effect[struct{}]

	// Interval invokes fn every d milliseconds of monotonic time until the
	// returned handle is cancelled. Rejects d <= 0.
	Interval(d Millis, fn func(Instant)) (*TimerHandle, error)
}

// SystemClock is the real-time Clock, running on clockz.RealClock (the same
// default every teacher component falls back to via its getClock() helper):
// wall time from the host, monotonic time measured from construction so
// small values near 0 are admissible (spec.md §4.1).
type SystemClock struct {
	clock    clockz.Clock
	baseline time.Time
}

// NewSystemClock creates a SystemClock baselined at the current time,
// backed by clockz.RealClock.
func NewSystemClock() *SystemClock {
	return &SystemClock{clock: clockz.RealClock, baseline: clockz.RealClock.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() Instant {
	now := c.clock.Now()
	return Instant{
		WallMs: now.UnixMilli(),
		MonoMs: now.Sub(c.baseline).Milliseconds(),
	}
}

// Sleep implements Clock.
func (c *SystemClock) Sleep(d Millis) Effect[struct{}] {
	return Effect[struct{}]{
		name: "clock.sleep",
		run: func(env *EffectEnv) Result[struct{}] {
			return c.waitFor(env, d)
		},
	}
}

// Timeout implements Clock (alias for Sleep).
func (c *SystemClock) Timeout(d Millis) Effect[struct{}] {
	return c.Sleep(d)
}

// waitFor blocks the calling goroutine for d monotonic milliseconds, or
// until env.Cancel fires, whichever comes first; a cancelled wait still
// resolves Ok (spec.md §4.4 "a cancelled sleep resolves as Ok").
func (c *SystemClock) waitFor(env *EffectEnv, d Millis) Result[struct{}] {
	if !d.Positive() {
		return Succeeded(struct{}{})
	}
	if env.Cancel.IsCanceled() {
		return Succeeded(struct{}{})
	}

	start := c.Now()
	emit(env.Context(), start, SignalSleepStart, FieldDurationMs.Field(int64(d)))

	after := c.clock.After(time.Duration(d) * time.Millisecond)
	done := make(chan struct{})
	var once sync.Once
	unsub := env.Cancel.OnCancel(func(string) { once.Do(func() { close(done) }) })
	defer unsub()

	select {
	case <-after:
	case <-done:
	}

	end := c.Now()
	emit(env.Context(), end, SignalSleepEnd,
		FieldDurationMs.Field(int64(d)),
		FieldActualMs.Field(int64(end.Sub(start))))
	return Succeeded(struct{}{})
}

// Deadline implements Clock.
func (c *SystemClock) Deadline(target DeadlineTarget) Effect[struct{}] {
	return Effect[struct{}]{
		name: "clock.deadline",
		run: func(env *EffectEnv) Result[struct{}] {
			return runDeadline(env, c, target)
		},
	}
}

// runDeadline anchors the wait duration at call time: delay = target.WallMs
// - Now().WallMs. A subsequent wall jump (ControlledClock only) does not
// retroactively adjust an in-flight deadline — the deadline's delay was
// already computed against the live timer wheel when scheduled, matching
// how a real scheduled job behaves (see DESIGN.md "Deadline anchoring vs. wall-clock jumps").
func runDeadline(env *EffectEnv, clock Clock, target DeadlineTarget) Result[struct{}] {
	start := clock.Now()
	emit(env.Context(), start, SignalDeadlineStart, FieldTargetWallMs.Field(target.WallMs))

	delay := target.WallMs - start.WallMs
	if delay > 0 {
		sleepEffect := clock.Sleep(NewMillis(delay))
		sleepEffect.run(env)
	}

	end := clock.Now()
	if end.WallMs <= target.WallMs {
		emit(env.Context(), end, SignalDeadlineOK, FieldTargetWallMs.Field(target.WallMs))
	} else {
		emitErr(env.Context(), end, SignalDeadlineErr, FieldTargetWallMs.Field(target.WallMs))
	}
	return Succeeded(struct{}{})
}

// Interval implements Clock using a self-rescheduling timer so ticks never
// overlap; drift against wall time is expected for SystemClock (only
// ControlledClock guarantees stride-exact ticks, spec.md §4.1).
func (c *SystemClock) Interval(d Millis, fn func(Instant)) (*TimerHandle, error) {
	if !d.Positive() {
		return nil, errIntervalNonPositive
	}

	var cancelled atomic.Bool
	var tickCount atomic.Int64
	emit(context.Background(), c.Now(), SignalIntervalSet, FieldEveryMs.Field(int64(d)))

	stop := make(chan struct{})
	go func() {
		period := time.Duration(d) * time.Millisecond
		for {
			select {
			case <-c.clock.After(period):
			case <-stop:
				return
			}
			if cancelled.Load() {
				return
			}
			n := tickCount.Add(1)
			at := c.Now()
			emit(context.Background(), at, SignalIntervalTick, FieldTickCount.Field(n))
			invokeIntervalCallback(fn, at)
			if cancelled.Load() {
				return
			}
		}
	}()

	var once sync.Once
	return &TimerHandle{cancel: func() {
		if cancelled.CompareAndSwap(false, true) {
			once.Do(func() { close(stop) })
			emit(context.Background(), c.Now(), SignalIntervalCancel)
		}
	}}, nil
}

func invokeIntervalCallback(fn func(Instant), at Instant) {
	defer func() {
		if r := recover(); r != nil {
			emitErr(context.Background(), at, SignalIntervalError, FieldError.Field(recoverToString(r)))
		}
	}()
	fn(at)
}
