package kernelz

import "sync"

// Sleep builds an Effect that delegates to whatever Clock is in the running
// EffectEnv (spec.md §4.1/§4.4). Unlike Clock.Sleep, which is bound to one
// concrete clock instance, this reads env.Clock at run time — the usual way
// to write clock-agnostic code that a test can later run under a
// ControlledClock.
func Sleep(d Millis) Effect[struct{}] {
	return Effect[struct{}]{name: "sleep", run: func(env *EffectEnv) Result[struct{}] {
		return env.Clock.Sleep(d).run(env)
	}}
}

// Deadline is Sleep's counterpart for Clock.Deadline.
func Deadline(target DeadlineTarget) Effect[struct{}] {
	return Effect[struct{}]{name: "deadline", run: func(env *EffectEnv) Result[struct{}] {
		return env.Clock.Deadline(target).run(env)
	}}
}

// All runs every effect in xs concurrently under children of env's
// CancelToken and waits for all of them (spec.md §4.5 "all(effects)"). On
// the first Err, All interrupts every other still-running participant and
// returns that Err; on success it returns every value in input order.
func All[A any](xs []Effect[A]) Effect[[]A] {
	return Effect[[]A]{name: "all", run: func(env *EffectEnv) Result[[]A] {
		if len(xs) == 0 {
			return Succeeded([]A{})
		}

		fibers := make([]*Fiber[A], len(xs))
		for i, x := range xs {
			forkRes := x.Fork().checked(env)
			fibers[i] = forkRes.Value
		}

		results := make([]Result[A], len(xs))
		var firstErr error
		var errOnce sync.Once
		var wg sync.WaitGroup
		wg.Add(len(fibers))
		for i, f := range fibers {
			go func(i int, f *Fiber[A]) {
				defer wg.Done()
				results[i] = f.Join()
				if results[i].Err != nil {
					errOnce.Do(func() {
						firstErr = results[i].Err
						for j, g := range fibers {
							if j != i {
								g.cancel.Cancel("all: sibling failed")
							}
						}
					})
				}
			}(i, f)
		}
		wg.Wait()

		if firstErr != nil {
			return Failed[[]A](firstErr)
		}

		values := make([]A, len(xs))
		for i, r := range results {
			values[i] = r.Value
		}
		return Succeeded(values)
	}}
}

// Race runs every effect in xs concurrently and returns as soon as one
// completes (success or failure), cancelling every loser's token (spec.md
// §4.5 "race(effects)"). A loser still running when it is cancelled closes
// its scope with cause=interrupted, even if its own result is Ok; a loser
// that had already completed before the winner was picked keeps the cause
// of its own result. Race does not wait for losers to finish. Race on an
// empty slice never completes, matching the spec's explicit "empty input
// never completes."
func Race[A any](xs []Effect[A]) Effect[A] {
	return Effect[A]{name: "race", run: func(env *EffectEnv) Result[A] {
		if len(xs) == 0 {
			select {} // spec.md §4.5: race([]) never completes
		}

		fibers := make([]*Fiber[A], len(xs))
		winnerCh := make(chan int, len(xs))
		for i, x := range xs {
			forkRes := x.Fork().checked(env)
			f := forkRes.Value
			fibers[i] = f
			go func(i int, f *Fiber[A]) {
				f.Join()
				winnerCh <- i
			}(i, f)
		}

		winner := <-winnerCh
		for i, f := range fibers {
			if i != winner {
				f.cancel.Cancel("race: lost")
			}
		}
		return fibers[winner].Join()
	}}
}

// Bracket runs acquire, then use(resource), and guarantees release(resource)
// runs exactly once afterward regardless of how use completes — success,
// Err, or interruption (spec.md §4.4 "bracket(acquire, use, release)"). If
// acquire itself fails, release never runs. release's own error, if any,
// only surfaces if use succeeded; a use failure takes priority.
func Bracket[R, A any](acquire Effect[R], use func(R) Effect[A], release func(R) Effect[struct{}]) Effect[A] {
	return Effect[A]{name: "bracket", run: func(env *EffectEnv) Result[A] {
		acq := acquire.checked(env)
		if acq.Err != nil {
			return Failed[A](acq.Err)
		}

		useRes := use(acq.Value).checked(env)
		relRes := release(acq.Value).run(env)

		if useRes.Err != nil {
			return useRes
		}
		if relRes.Err != nil {
			return Failed[A](relRes.Err)
		}
		return useRes
	}}
}
