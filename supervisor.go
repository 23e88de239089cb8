package kernelz

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// StrategyType selects how a Supervisor reacts to a child's failure
// (spec.md §4.9 "SupervisionStrategy").
type StrategyType int

const (
	// StrategyNone never restarts.
	StrategyNone StrategyType = iota
	// StrategyOneForOne restarts only the failed process.
	StrategyOneForOne
)

// MaxRestarts bounds how many restarts a process may have within a rolling
// window before the supervisor gives up on it.
type MaxRestarts struct {
	Count  int
	Within Millis
}

// BackoffConfig configures GetRestartDelay's exponential-backoff-with-jitter
// schedule (spec.md §4.9 "backoff?: {initial, max, factor, jitter?}").
type BackoffConfig struct {
	Initial Millis
	Max     Millis
	Factor  float64
	// JitterPercent adds uniform noise in ±(delay * JitterPercent/100),
	// clamped to >= 0. Zero disables jitter.
	JitterPercent float64
}

// SupervisionStrategy configures a Supervisor (spec.md §4.9).
type SupervisionStrategy struct {
	Type        StrategyType
	MaxRestarts *MaxRestarts // nil means "always restart"
	Backoff     *BackoffConfig
}

// restartWindow tracks one process's rolling restart count (spec.md §3
// "Restart window (Supervisor)").
type restartWindow struct {
	windowStart int64 // wallMs
	restarts    int
	attempts    int // restart attempts in the current window, for backoff's exponent
}

// Supervisor holds no processes directly — it exposes pure decision
// primitives (plus window bookkeeping and event emission) that a parent
// runtime consults before actually restarting a process (spec.md §4.9 "The
// supervisor owns no processes directly in this spec").
type Supervisor struct {
	clock    Clock
	strategy SupervisionStrategy

	mu      sync.Mutex
	windows map[string]*restartWindow
}

// NewSupervisor creates a Supervisor applying strategy, timed by clock.
func NewSupervisor(clock Clock, strategy SupervisionStrategy) *Supervisor {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Supervisor{
		clock:    clock,
		strategy: strategy,
		windows:  make(map[string]*restartWindow),
	}
}

// ShouldRestart decides whether pid should be restarted right now, updating
// its restart window as a side effect (spec.md §4.9 "shouldRestart(pid)").
func (s *Supervisor) ShouldRestart(pid string) bool {
	if s.strategy.Type == StrategyNone {
		return false
	}
	if s.strategy.MaxRestarts == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().WallMs
	w, ok := s.windows[pid]
	within := int64(s.strategy.MaxRestarts.Within)
	if !ok || now-w.windowStart > within {
		w = &restartWindow{windowStart: now, restarts: 1, attempts: 0}
		s.windows[pid] = w
		return true
	}

	if w.restarts >= s.strategy.MaxRestarts.Count {
		emitErr(context.Background(), s.clock.Now(), SignalSupervisorGiveup,
			FieldProcessID.Field(pid), FieldRestartCount.Field(w.restarts))
		return false
	}

	w.restarts++
	return true
}

// GetRestartDelay computes the backoff delay before pid's next restart
// attempt, emitting supervisor:restart (spec.md §4.9 "getRestartDelay(pid)").
func (s *Supervisor) GetRestartDelay(pid string) Millis {
	if s.strategy.Backoff == nil {
		return 0
	}

	s.mu.Lock()
	w, ok := s.windows[pid]
	if !ok {
		w = &restartWindow{windowStart: s.clock.Now().WallMs}
		s.windows[pid] = w
	}
	w.attempts++
	attempt := w.attempts
	s.mu.Unlock()

	b := s.strategy.Backoff
	delay := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if b.Max.Positive() && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.JitterPercent > 0 {
		spread := delay * b.JitterPercent / 100
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = 0
		}
	}

	result := NewMillis(int64(delay))
	emit(context.Background(), s.clock.Now(), SignalSupervisorRestart,
		FieldProcessID.Field(pid), FieldAttempt.Field(attempt), FieldDelayMs.Field(int64(result)))
	return result
}
