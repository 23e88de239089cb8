package kernelz

import (
	"fmt"

	"github.com/zoobzio/tracez"
)

// Tracing spans and tags for Retry, grounded on the teacher's backoff.go
// StartSpan/SetTag/Finish shape: one span covering the whole retry loop,
// one child span per attempt.
var (
	RetryProcessSpan = tracez.Key("retry.process")
	RetryAttemptSpan = tracez.Key("retry.attempt")

	RetryTagMaxAttempts = tracez.Tag("retry.max_attempts")
	RetryTagAttemptNum  = tracez.Tag("retry.attempt_num")
	RetryTagDelay       = tracez.Tag("retry.delay")
	RetryTagSuccess     = tracez.Tag("retry.success")
	RetryTagError       = tracez.Tag("retry.error")
	RetryTagExhausted   = tracez.Tag("retry.exhausted")
)

// RetryPolicy configures Retry's backoff schedule (spec.md §4.6, grounded on
// the teacher's backoff.go exponential-backoff shape; jitter is an optional
// hook added here).
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     Millis
	BackoffFactor float64
	MaxDelay      Millis
	Jitter        func(base Millis) Millis // optional; identity if nil
	Tracer        *tracez.Tracer           // defaults to a fresh tracez.Tracer if nil
}

// DefaultRetryPolicy is a conservative starting point: 3 attempts, 100ms
// base delay, doubling, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     NewMillis(100),
		BackoffFactor: 2.0,
		MaxDelay:      NewMillis(2000),
		Tracer:        tracez.New(),
	}
}

func (p RetryPolicy) delayFor(attempt int) Millis {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	capped := NewMillis(int64(d))
	if p.MaxDelay.Positive() && capped > p.MaxDelay {
		capped = p.MaxDelay
	}
	if p.Jitter != nil {
		return p.Jitter(capped)
	}
	return capped
}

func (p RetryPolicy) tracer() *tracez.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return tracez.New()
}

// Retry runs e under policy: on Err it sleeps the backoff delay (via
// env.Clock) and tries again, up to MaxAttempts total attempts, emitting
// retry:attempt/delay/success/exhausted along the way (spec.md §4.6
// "retry(policy)"). An Interrupted failure is never retried — it propagates
// immediately, same as a cancelled effect anywhere else in the tree.
func (e Effect[A]) Retry(policy RetryPolicy) Effect[A] {
	return Effect[A]{name: e.name, run: func(env *EffectEnv) Result[A] {
		tracer := policy.tracer()
		ctx, span := tracer.StartSpan(env.Context(), RetryProcessSpan)
		span.SetTag(RetryTagMaxAttempts, fmt.Sprintf("%d", policy.MaxAttempts))
		defer span.Finish()

		var last Result[A]
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			attemptCtx, attemptSpan := tracer.StartSpan(ctx, RetryAttemptSpan)
			attemptSpan.SetTag(RetryTagAttemptNum, fmt.Sprintf("%d", attempt))

			emit(attemptCtx, env.Clock.Now(), SignalRetryAttempt,
				FieldName.Field(e.name), FieldAttempt.Field(attempt), FieldMaxAttempts.Field(policy.MaxAttempts))

			last = e.checked(env)
			if last.Err == nil {
				attemptSpan.SetTag(RetryTagSuccess, "true")
				attemptSpan.Finish()
				span.SetTag(RetryTagSuccess, "true")
				if attempt > 1 {
					emit(ctx, env.Clock.Now(), SignalRetrySuccess,
						FieldName.Field(e.name), FieldAttempt.Field(attempt))
				}
				return last
			}

			attemptSpan.SetTag(RetryTagSuccess, "false")
			attemptSpan.SetTag(RetryTagError, last.Err.Error())
			attemptSpan.Finish()

			if f, ok := last.Err.(interface{ IsInterrupted() bool }); ok && f.IsInterrupted() {
				span.SetTag(RetryTagSuccess, "false")
				return last
			}
			if attempt == policy.MaxAttempts {
				break
			}

			delay := policy.delayFor(attempt)
			emit(ctx, env.Clock.Now(), SignalRetryDelay,
				FieldName.Field(e.name), FieldAttempt.Field(attempt), FieldDelayMs.Field(int64(delay)))
			env.Clock.Sleep(delay).run(env)
		}

		span.SetTag(RetryTagSuccess, "false")
		span.SetTag(RetryTagExhausted, "true")
		emitErr(ctx, env.Clock.Now(), SignalRetryExhausted,
			FieldName.Field(e.name), FieldMaxAttempts.Field(policy.MaxAttempts))
		return last
	}}
}
