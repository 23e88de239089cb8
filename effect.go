package kernelz

import (
	"fmt"
	"time"
)

// Effect is a lazy, suspendable computation: a value carrying a function
// env → Result<A> plus a name for diagnostics (spec.md §3 "Effect<E,A>").
// Constructing an Effect never does work; work only happens when Run (or a
// combinator that runs it internally) is called with an EffectEnv.
type Effect[A any] struct {
	name Name
	run  func(*EffectEnv) Result[A]
}

// Name returns the effect's diagnostic name.
func (e Effect[A]) Name() Name { return e.name }

// Succeed builds an Effect that always succeeds with value.
func Succeed[A any](value A) Effect[A] {
	return Effect[A]{name: "succeed", run: func(*EffectEnv) Result[A] {
		return Succeeded(value)
	}}
}

// Fail builds an Effect that always fails with err.
func Fail[A any](err error) Effect[A] {
	return Effect[A]{name: "fail", run: func(*EffectEnv) Result[A] {
		return Failed[A](err)
	}}
}

// FromFallible wraps a possibly-failing producer function as an Effect. fn
// may block; it runs synchronously in whatever goroutine ultimately drives
// this Effect (the calling goroutine for a direct Run, a forked goroutine
// under Fork/All/Race).
func FromFallible[A any](name Name, fn func(*EffectEnv) (A, error)) Effect[A] {
	return Effect[A]{name: name, run: func(env *EffectEnv) (res Result[A]) {
		defer func() {
			if r := recover(); r != nil {
				res = Failed[A](fmt.Errorf("kernelz: panic in %s: %s", name, recoverToString(r)))
			}
		}()
		v, err := fn(env)
		if err != nil {
			return Failed[A](err)
		}
		return Succeeded(v)
	}}
}

// checked runs e under env, short-circuiting to Interrupted without
// invoking the underlying function if env's CancelToken is already
// cancelled (spec.md §4.4 "An effect run under a cancelled token returns
// Err(Interrupted) without invoking the underlying function").
func (e Effect[A]) checked(env *EffectEnv) Result[A] {
	if env.Cancel.IsCanceled() {
		return Failed[A](interruptedFault[any](pathOf(e.name), nil, 0))
	}
	return e.run(env)
}

// Run executes e as a fresh top-level computation: allocates nothing new
// (env is supplied by the caller, typically via NewEffectEnv), emits
// effect:start/effect:success/effect:error, and returns the Result without
// closing env.Scope — callers that own the env are responsible for closing
// its scope with the right Cause (RunRoot does this for you).
func (e Effect[A]) Run(env *EffectEnv) Result[A] {
	start := env.Clock.Now()
	emit(env.Context(), start, SignalEffectStart, FieldName.Field(e.name))
	res := e.checked(env)
	end := env.Clock.Now()
	if res.Err != nil {
		emitErr(env.Context(), end, SignalEffectError, FieldName.Field(e.name), FieldError.Field(res.Err.Error()))
	} else {
		emit(env.Context(), end, SignalEffectSuccess, FieldName.Field(e.name))
	}
	return res
}

// RunRoot allocates a fresh root EffectEnv over clock, runs e to
// completion, closes the root scope with the Cause matching the outcome,
// and returns the Result. This is the spec's "unsafeRunPromise" boundary:
// it never throws, it returns a Result (spec.md §3 "Effect" lifecycle).
func RunRoot[A any](clock Clock, e Effect[A]) Result[A] {
	env := NewEffectEnv(clock, nil)
	res := e.Run(env)
	env.Scope.Close(causeOf(res))
	return res
}

// MustRun is the spec's "unsafe" entry point (spec.md §7): it panics if e
// fails, for callers that want Go's usual happy-path style instead of
// checking a Result. Prefer RunRoot.
func MustRun[A any](clock Clock, e Effect[A]) A {
	res := RunRoot(clock, e)
	if res.Err != nil {
		panic(res.Err)
	}
	return res.Value
}

func causeOf[A any](r Result[A]) Cause {
	if r.Err == nil {
		return CauseOK
	}
	if f, ok := r.Err.(interface{ IsInterrupted() bool }); ok && f.IsInterrupted() {
		return CauseInterrupted
	}
	return CauseError
}

// MapEffect applies f to a successful result. If f panics, the panic is
// recovered and converted to an Err (spec.md §4.4 "map(f)"). Go methods
// cannot introduce a new type parameter, so Map/FlatMap are free functions.
func MapEffect[A, B any](e Effect[A], f func(A) B) Effect[B] {
	return Effect[B]{name: e.name, run: func(env *EffectEnv) (res Result[B]) {
		in := e.checked(env)
		if in.Err != nil {
			return Failed[B](in.Err)
		}
		defer func() {
			if r := recover(); r != nil {
				res = Failed[B](fmt.Errorf("kernelz: panic in map(%s): %s", e.name, recoverToString(r)))
			}
		}()
		return Succeeded(f(in.Value))
	}}
}

// FlatMapEffect chains e into f, short-circuiting on Err (spec.md §4.4
// "flatMap(f)").
func FlatMapEffect[A, B any](e Effect[A], f func(A) Effect[B]) Effect[B] {
	return Effect[B]{name: e.name, run: func(env *EffectEnv) (res Result[B]) {
		in := e.checked(env)
		if in.Err != nil {
			return Failed[B](in.Err)
		}
		defer func() {
			if r := recover(); r != nil {
				res = Failed[B](fmt.Errorf("kernelz: panic in flatMap(%s): %s", e.name, recoverToString(r)))
			}
		}()
		next := f(in.Value)
		return next.checked(env)
	}}
}

// Catch replaces an Err(e) outcome with the effect produced by h (spec.md
// §4.4 "catch(h)").
func (e Effect[A]) Catch(h func(error) Effect[A]) Effect[A] {
	return Effect[A]{name: e.name, run: func(env *EffectEnv) Result[A] {
		in := e.checked(env)
		if in.Err == nil {
			return in
		}
		return h(in.Err).checked(env)
	}}
}

// OnInterrupt registers cleanup as a cancel listener on env's CancelToken
// for the duration of e's execution, unregistering it again on normal
// completion (spec.md §4.4 "onInterrupt(cleanup)").
func (e Effect[A]) OnInterrupt(cleanup func()) Effect[A] {
	return Effect[A]{name: e.name, run: func(env *EffectEnv) Result[A] {
		unsub := env.Cancel.OnCancel(func(string) { cleanup() })
		defer unsub()
		return e.checked(env)
	}}
}

// WithContext extends the environment e runs under with a typed key/value
// pair (spec.md §4.4 "withContext(k,v)").
func (e Effect[A]) WithContext(key string, value any) Effect[A] {
	return Effect[A]{name: e.name, run: func(env *EffectEnv) Result[A] {
		return e.checked(env.WithContext(key, value))
	}}
}

// Timeout runs e in a child cancel token + fresh scope, racing it against
// env.Clock.Sleep(d). On timeout it cancels the child and returns
// Err(Timeout); the child scope is always closed with CauseInterrupted on
// timeout, and with the matching cause otherwise (spec.md §4.4 "timeout(d)").
func (e Effect[A]) Timeout(d Millis) Effect[A] {
	return Effect[A]{name: e.name, run: func(env *EffectEnv) Result[A] {
		start := env.Clock.Now()
		emit(env.Context(), start, SignalEffectTimeoutStart, FieldName.Field(e.name), FieldDurationMs.Field(int64(d)))

		child := env.child()
		resultCh := make(chan Result[A], 1)
		go func() {
			resultCh <- e.checked(child)
		}()

		delayDone := make(chan struct{}, 1)
		go func() {
			env.Clock.Sleep(d).run(child)
			delayDone <- struct{}{}
		}()

		select {
		case res := <-resultCh:
			child.Cancel.Cancel("timeout:completed")
			child.Scope.Close(causeOf(res))
			return res
		case <-delayDone:
			child.Cancel.Cancel("timeout")
			child.Scope.Close(CauseInterrupted)
			end := env.Clock.Now()
			emitErr(env.Context(), end, SignalEffectTimeoutHit, FieldName.Field(e.name), FieldDurationMs.Field(int64(d)))
			var zero A
			return Result[A]{Value: zero, Err: timeoutFault(pathOf(e.name), zero, time.Duration(d)*time.Millisecond)}
		}
	}}
}

func pathOf(name Name) []Name {
	return []Name{name}
}
