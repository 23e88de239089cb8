package kernelz

import "fmt"

// Instant is a two-track timestamp produced atomically by a Clock: WallMs is
// calendar time in milliseconds since epoch and may jump in either
// direction; MonoMs is a monotonic counter in milliseconds from an
// arbitrary per-Clock baseline and never decreases across two Instants
// produced by the same Clock in program order.
type Instant struct {
	WallMs int64
	MonoMs int64
}

// Sub returns the monotonic distance between two Instants produced by the
// same Clock, as a Millis duration. Negative results are clamped to zero —
// callers measuring elapsed time should always subtract an earlier Instant
// from a later one.
func (i Instant) Sub(earlier Instant) Millis {
	d := i.MonoMs - earlier.MonoMs
	if d < 0 {
		d = 0
	}
	return Millis(d)
}

func (i Instant) String() string {
	return fmt.Sprintf("Instant{wall=%dms mono=%dms}", i.WallMs, i.MonoMs)
}

// Millis is a branded, non-negative count of milliseconds. Construct one
// with NewMillis rather than a bare int64 conversion so negative durations
// are caught at the boundary instead of silently propagating into timers.
type Millis int64

// NewMillis converts a raw integer into a Millis duration. Negative input is
// clamped to zero: the spec treats non-positive durations as "complete
// immediately," never as an error.
func NewMillis(n int64) Millis {
	if n < 0 {
		return 0
	}
	return Millis(n)
}

// Positive reports whether the duration would require scheduling a timer at
// all, per the spec's "non-positive d completes immediately" rule.
func (m Millis) Positive() bool {
	return m > 0
}
