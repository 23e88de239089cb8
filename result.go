package kernelz

// Result is the tagged Ok(A) | Err(E) outcome every Effect produces
// (spec.md §3). Go already expresses this as a (value, error) pair at call
// boundaries; Result exists as a single addressable value for the places
// the spec needs to pass an outcome around as data — channels in fork/join,
// slices in All, and Fiber.Poll's "maybe a result yet" — without losing the
// distinction between "didn't fail" and "the zero value."
type Result[A any] struct {
	Value A
	Err   error
}

// Ok reports whether the Result succeeded.
func (r Result[A]) Ok() bool {
	return r.Err == nil
}

// Unpack returns the (value, error) pair Go code actually wants to range
// over with `if err != nil`.
func (r Result[A]) Unpack() (A, error) {
	return r.Value, r.Err
}

// Succeeded constructs a successful Result.
func Succeeded[A any](value A) Result[A] {
	return Result[A]{Value: value}
}

// Failed constructs a failed Result.
func Failed[A any](err error) Result[A] {
	var zero A
	return Result[A]{Value: zero, Err: err}
}
