// Package kernelz provides composable runtime primitives for building
// deterministic, observable, concurrent systems: a virtual clock, an
// effect/fiber runtime with structured concurrency, and an actor-style
// process model with supervision.
//
// # Core concepts
//
// Three parts form the execution model, and every other piece in this
// package is built on top of them:
//
//   - Clock: the single source of "now" — SystemClock for real wall and
//     monotonic time, ControlledClock for a deterministic, manually-driven
//     timer wheel used in tests.
//   - Effect[A]: a lazy, suspendable computation yielding Result[A]. Effects
//     compose with MapEffect, FlatMapEffect, Catch, Timeout, Retry, and run
//     concurrently via Fork, All, and Race. Cancellation flows through a
//     CancelToken tree; cleanup flows through a FinalizerScope.
//   - Process[M, S]: a long-lived actor with a bounded Mailbox, private
//     state S, and a single-threaded message pump. ProcessRef is the only
//     handle outsiders get. A Supervisor decides when and how long to wait
//     before restarting one.
//
// # Usage
//
// Build an Effect and run it against a Clock:
//
//	clock := kernelz.NewSystemClock()
//	greet := kernelz.FromFallible("greet", func(_ *kernelz.EffectEnv) (string, error) {
//	    return "hello", nil
//	})
//	res := kernelz.RunRoot(clock, greet)
//	value, err := res.Unpack()
//
// Spawn a process against a Runtime, which owns one Clock and the table of
// processes created through it:
//
//	rt := kernelz.NewRuntime(kernelz.NewSystemClock())
//	ref := kernelz.SpawnProcess(rt, kernelz.ProcessSpec[string, int]{
//	    ID:     "counter",
//	    Init:   func(kernelz.Tools[string]) (int, error) { return 0, nil },
//	    Handle: func(n int, _ string, _ kernelz.Tools[string]) (int, error) { return n + 1, nil },
//	})
//	ref.Send("tick")
//
// Tests that need deterministic time construct a ControlledClock instead of
// a SystemClock and drive it explicitly with AdvanceBy/AdvanceTo/Flush; see
// the kernelztesting subpackage for process- and effect-level test helpers
// built on top of it.
package kernelz
