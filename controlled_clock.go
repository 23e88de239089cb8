package kernelz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// ControlledClock is the deterministic Clock: nothing moves until AdvanceBy,
// AdvanceTo, Tick, or Flush is called. It holds its own pending-timer wheel
// (registration order, interval cadence, tie-break on equal fireAt) on top
// of a clockz.FakeClock, which supplies the actual "now" and the Advance
// primitive that moves it (the same fake clock backoff.go, timeout.go, and
// the rest of the teacher's retry/circuit-breaking stack drive their tests
// with).
type ControlledClock struct {
	mu         sync.Mutex
	inner      *clockz.FakeClock
	start      time.Time
	wallOffset int64 // wallMs - monoMs, changed only by JumpWallTime

	nextID  uint64
	pending []*pendingTimer

	fireLock sync.Mutex // serializes AdvanceBy/AdvanceTo/Tick/Flush against each other
}

type pendingTimer struct {
	id        uint64
	fireAt    int64
	interval  Millis
	oneShot   chan<- struct{}
	repeating func(Instant)
	cancelled *cancelFlag
	ticks     uint64
}

type cancelFlag struct {
	mu        sync.Mutex
	cancelled bool
}

func (f *cancelFlag) set() { f.mu.Lock(); f.cancelled = true; f.mu.Unlock() }
func (f *cancelFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// NewControlledClock creates a ControlledClock zeroed at both WallMs and
// MonoMs 0.
func NewControlledClock() *ControlledClock {
	inner := clockz.NewFakeClock()
	return &ControlledClock{inner: inner, start: inner.Now()}
}

// monoMs reads the current monotonic offset straight from the fake clock,
// so it always reflects the latest Advance even from inside a callback that
// is itself mid-Advance.
func (c *ControlledClock) monoMs() int64 {
	return c.inner.Now().Sub(c.start).Milliseconds()
}

func (c *ControlledClock) Now() Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.monoMs()
	return Instant{WallMs: m + c.wallOffset, MonoMs: m}
}

func (c *ControlledClock) Sleep(d Millis) Effect[struct{}] {
	return Effect[struct{}]{name: "clock.sleep", run: func(env *EffectEnv) Result[struct{}] {
		if !d.Positive() {
			return Succeeded(struct{}{})
		}
		if env.Cancel.IsCanceled() {
			return Succeeded(struct{}{})
		}
		start := c.Now()
		emit(env.Context(), start, SignalSleepStart, FieldDurationMs.Field(int64(d)))
		fired := make(chan struct{})
		flag := &cancelFlag{}
		c.register(&pendingTimer{fireAt: start.MonoMs + int64(d), oneShot: fired, cancelled: flag})
		cancelled := make(chan struct{})
		var once sync.Once
		unsub := env.Cancel.OnCancel(func(string) { flag.set(); once.Do(func() { close(cancelled) }) })
		defer unsub()
		select {
		case <-fired:
		case <-cancelled:
		}
		end := c.Now()
		emit(env.Context(), end, SignalSleepEnd, FieldDurationMs.Field(int64(d)), FieldActualMs.Field(int64(end.Sub(start))))
		return Succeeded(struct{}{})
	}}
}

func (c *ControlledClock) Timeout(d Millis) Effect[struct{}] { return c.Sleep(d) }

func (c *ControlledClock) Deadline(target DeadlineTarget) Effect[struct{}] {
	return Effect[struct{}]{name: "clock.deadline", run: func(env *EffectEnv) Result[struct{}] {
		return runDeadline(env, c, target)
	}}
}

func (c *ControlledClock) Interval(d Millis, fn func(Instant)) (*TimerHandle, error) {
	if !d.Positive() {
		return nil, errIntervalNonPositive
	}
	now := c.Now()
	emit(context.Background(), now, SignalIntervalSet, FieldEveryMs.Field(int64(d)))
	flag := &cancelFlag{}
	c.register(&pendingTimer{fireAt: now.MonoMs + int64(d), interval: d, repeating: fn, cancelled: flag})
	return &TimerHandle{cancel: func() {
		if !flag.get() {
			flag.set()
			emit(context.Background(), c.Now(), SignalIntervalCancel)
		}
	}}, nil
}

func (c *ControlledClock) register(t *pendingTimer) {
	c.mu.Lock()
	c.nextID++
	t.id = c.nextID
	c.pending = append(c.pending, t)
	c.mu.Unlock()
}

// AdvanceBy moves the fake clock forward by d, draining every pending timer
// due at or before the resulting instant along the way.
func (c *ControlledClock) AdvanceBy(d Millis) {
	c.fireLock.Lock()
	target := c.monoMs() + int64(d)
	c.drainTo(target)
	c.fireLock.Unlock()

	emit(context.Background(), c.Now(), SignalAdvance, FieldAdvanceMs.Field(int64(d)))
}

// AdvanceTo drains and advances to an absolute monotonic instant. No-op if
// targetMono is at or before the current monoMs.
func (c *ControlledClock) AdvanceTo(targetMono int64) {
	cur := c.monoMs()
	if targetMono <= cur {
		return
	}
	c.AdvanceBy(NewMillis(targetMono - cur))
}

// drainTo repeatedly fires the earliest non-cancelled pending timer at or
// before target, then lands the fake clock exactly on target. The caller
// holds fireLock; a repeating timer's callback is invoked with fireLock
// released (see the interval branch below) so a callback that itself calls
// AdvanceBy does not deadlock on this clock's own lock — it simply runs its
// own advance to completion before this loop resumes.
func (c *ControlledClock) drainTo(target int64) {
	for {
		timer, idx := c.earliestDue(target)
		if timer == nil {
			if cur := c.monoMs(); target > cur {
				c.inner.Advance(time.Duration(target-cur) * time.Millisecond)
			}
			return
		}

		if delta := timer.fireAt - c.monoMs(); delta > 0 {
			c.inner.Advance(time.Duration(delta) * time.Millisecond)
		}
		now := c.Now()

		if timer.interval > 0 {
			c.mu.Lock()
			timer.fireAt += int64(timer.interval)
			c.mu.Unlock()

			c.fireLock.Unlock()
			c.fireInterval(timer, now)
			c.fireLock.Lock()
			continue
		}

		c.removeAt(idx)
		if timer.oneShot != nil {
			close(timer.oneShot)
		}
	}
}

func (c *ControlledClock) fireInterval(timer *pendingTimer, at Instant) {
	if timer.cancelled.get() {
		return
	}
	n := c.tickCount(timer)
	emit(context.Background(), at, SignalIntervalTick, FieldTickCount.Field(n))
	invokeIntervalCallback(timer.repeating, at)
}

func (c *ControlledClock) tickCount(timer *pendingTimer) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer.ticks++
	return int64(timer.ticks)
}

func (c *ControlledClock) earliestDue(target int64) (*pendingTimer, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneCancelledLocked()
	best := -1
	for i, t := range c.pending {
		if t.cancelled.get() {
			continue
		}
		if t.fireAt > target {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bt := c.pending[best]
		if t.fireAt < bt.fireAt || (t.fireAt == bt.fireAt && t.id < bt.id) {
			best = i
		}
	}
	if best == -1 {
		return nil, -1
	}
	return c.pending[best], best
}

func (c *ControlledClock) pruneCancelledLocked() {
	kept := c.pending[:0]
	for _, t := range c.pending {
		if t.cancelled.get() && t.interval == 0 {
			continue
		}
		kept = append(kept, t)
	}
	c.pending = kept
	sort.SliceStable(c.pending, func(i, j int) bool { return c.pending[i].fireAt < c.pending[j].fireAt })
}

func (c *ControlledClock) removeAt(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.pending) {
		return
	}
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
}

// JumpWallTime sets WallMs directly without moving MonoMs — every
// subsequent Now() keeps advancing both tracks in lockstep from this new
// offset.
func (c *ControlledClock) JumpWallTime(wallMs int64) {
	c.mu.Lock()
	c.wallOffset = wallMs - c.monoMs()
	now := Instant{WallMs: wallMs, MonoMs: c.monoMs()}
	c.mu.Unlock()
	emit(context.Background(), now, SignalWallJump, FieldNewWallMs.Field(wallMs))
}

// Tick advances to the next pending timer's fireAt and drains it; a clock
// with no pending timers is left untouched (spec §4.1 — no-op if none).
func (c *ControlledClock) Tick() {
	c.mu.Lock()
	next := int64(-1)
	for _, t := range c.pending {
		if t.cancelled.get() {
			continue
		}
		if next == -1 || t.fireAt < next {
			next = t.fireAt
		}
	}
	c.mu.Unlock()
	if next == -1 {
		return
	}
	c.AdvanceTo(next)
}

// PendingTimerCount returns the number of timers still registered and not
// cancelled (sleeps awaiting fire, intervals still ticking).
func (c *ControlledClock) PendingTimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.cancelled.get() {
			n++
		}
	}
	return n
}

// Flush drains every pending one-shot timer regardless of its fireAt,
// repeating until none remain (interval timers keep re-registering and are
// left running).
func (c *ControlledClock) Flush() {
	for {
		c.mu.Lock()
		maxFire := int64(-1)
		anyOneShot := false
		for _, t := range c.pending {
			if t.cancelled.get() {
				continue
			}
			if t.interval == 0 {
				anyOneShot = true
			}
			if t.fireAt > maxFire {
				maxFire = t.fireAt
			}
		}
		c.mu.Unlock()
		if !anyOneShot || maxFire < 0 {
			return
		}
		c.AdvanceTo(maxFire)
	}
}
