package kernelz

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Signal constants for kernelz runtime events. Signals follow the spec's
// "<domain>:<event>" naming (spec.md §6); capitan.Signal values below use a
// dot instead of a colon only because ':' collides with capitan's own
// hierarchy separator — the domain/event split is unchanged.
const (
	// Clock signals (spec §4.1).
	SignalSleepStart     capitan.Signal = "time.sleep.start"
	SignalSleepEnd       capitan.Signal = "time.sleep.end"
	SignalDeadlineStart  capitan.Signal = "time.deadline.start"
	SignalDeadlineOK     capitan.Signal = "time.deadline.ok"
	SignalDeadlineErr    capitan.Signal = "time.deadline.err"
	SignalIntervalSet    capitan.Signal = "time.interval.set"
	SignalIntervalTick   capitan.Signal = "time.interval.tick"
	SignalIntervalCancel capitan.Signal = "time.interval.cancel"
	SignalIntervalError  capitan.Signal = "time.interval.error"
	SignalAdvance        capitan.Signal = "time.advance"
	SignalWallJump       capitan.Signal = "time.wall_jump"

	// Effect signals (spec §4.4-4.6).
	SignalEffectStart        capitan.Signal = "effect.start"
	SignalEffectSuccess      capitan.Signal = "effect.success"
	SignalEffectError        capitan.Signal = "effect.error"
	SignalEffectTimeoutStart capitan.Signal = "effect.timeout.start"
	SignalEffectTimeoutHit   capitan.Signal = "effect.timeout.triggered"
	SignalRetryAttempt       capitan.Signal = "effect.retry.attempt"
	SignalRetryDelay         capitan.Signal = "effect.retry.delay"
	SignalRetrySuccess       capitan.Signal = "effect.retry.success"
	SignalRetryExhausted     capitan.Signal = "effect.retry.exhausted"

	// Process signals (spec §4.8).
	SignalProcessStart   capitan.Signal = "process.start"
	SignalProcessReady   capitan.Signal = "process.ready"
	SignalProcessStop    capitan.Signal = "process.stop"
	SignalProcessFail    capitan.Signal = "process.fail"
	SignalMsgStart       capitan.Signal = "process.msg.start"
	SignalMsgEnd         capitan.Signal = "process.msg.end"
	SignalMsgError       capitan.Signal = "process.msg.error"
	SignalMailboxFull    capitan.Signal = "process.mailbox.full"
	SignalMailboxEnqueue capitan.Signal = "process.mailbox.enqueue"

	// Supervisor signals (spec §4.9).
	SignalSupervisorRestart capitan.Signal = "supervisor.restart"
	SignalSupervisorGiveup  capitan.Signal = "supervisor.giveup"
)

// Field keys shared by every signal above. Every emitted event carries an
// Instant "at" (spec §6's "source of truth: the Clock"); Mailbox events
// carry the zero Instant, since a Mailbox holds no Clock. Numeric fields are
// integer milliseconds except where noted.
var (
	FieldAtWallMs     = capitan.NewInt64Key("at_wall_ms")
	FieldAtMonoMs     = capitan.NewInt64Key("at_mono_ms")
	FieldName         = capitan.NewStringKey("name")
	FieldError        = capitan.NewStringKey("error")
	FieldDurationMs   = capitan.NewInt64Key("duration_ms")
	FieldActualMs     = capitan.NewInt64Key("actual_ms")
	FieldTargetWallMs = capitan.NewInt64Key("target_wall_ms")
	FieldEveryMs      = capitan.NewInt64Key("every_ms")
	FieldTickCount    = capitan.NewInt64Key("tick_count")
	FieldAdvanceMs    = capitan.NewInt64Key("advance_ms")
	FieldNewWallMs    = capitan.NewInt64Key("new_wall_ms")

	FieldAttempt     = capitan.NewIntKey("attempt")
	FieldMaxAttempts = capitan.NewIntKey("max_attempts")
	FieldDelayMs     = capitan.NewInt64Key("delay_ms")

	FieldProcessID   = capitan.NewStringKey("process_id")
	FieldMsgSeq      = capitan.NewInt64Key("msg_seq")
	FieldReason      = capitan.NewStringKey("reason")
	FieldMailboxSize = capitan.NewIntKey("mailbox_size")
	FieldMailboxCap  = capitan.NewIntKey("mailbox_cap")

	FieldRestartCount = capitan.NewIntKey("restart_count")
)

// emit reports signal through capitan with the standard Instant fields
// prepended. ctx may be nil, in which case context.Background() is used —
// every call site in this package already has a context except the
// Clock/CancelToken internals that predate any request context.
func emit(ctx context.Context, at Instant, signal capitan.Signal, fields ...capitan.Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	all := make([]capitan.Field, 0, len(fields)+2)
	all = append(all, FieldAtWallMs.Field(at.WallMs), FieldAtMonoMs.Field(at.MonoMs))
	all = append(all, fields...)
	capitan.Info(ctx, signal, all...)
}

// emitErr is like emit but reports at Warn level, for events signaling a
// degraded-but-handled condition (mailbox full, interval callback error,
// deadline missed, retry exhausted, process failure).
func emitErr(ctx context.Context, at Instant, signal capitan.Signal, fields ...capitan.Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	all := make([]capitan.Field, 0, len(fields)+2)
	all = append(all, FieldAtWallMs.Field(at.WallMs), FieldAtMonoMs.Field(at.MonoMs))
	all = append(all, fields...)
	capitan.Warn(ctx, signal, all...)
}
