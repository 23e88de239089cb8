package kernelz

import "context"

// EffectEnv is the environment an Effect runs under (spec.md §3). It is
// constructed once per top-level Run and threaded through every combinator;
// Fork, Timeout, and Race build child envs that inherit Clock and a child
// CancelToken but get a fresh FinalizerScope, per spec.md §4.4.
type EffectEnv struct {
	Clock  Clock
	Cancel *CancelToken
	Scope  *FinalizerScope
	ctx    context.Context
	values map[string]any
}

// NewEffectEnv builds a fresh root environment. A nil clock defaults to a
// *SystemClock; a nil cancel token gets its own root CancelToken.
func NewEffectEnv(clock Clock, cancel *CancelToken) *EffectEnv {
	if clock == nil {
		clock = NewSystemClock()
	}
	if cancel == nil {
		cancel = NewCancelToken()
	}
	return &EffectEnv{
		Clock:  clock,
		Cancel: cancel,
		Scope:  NewFinalizerScope(),
		ctx:    context.Background(),
	}
}

// Context returns the context.Context carried for event emission; it is not
// used for cancellation (CancelToken is), only so emitted events can flow
// through capitan's context-carrying API.
func (e *EffectEnv) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// WithContext extends the env with a typed key/value pair (spec.md §4.4).
// Keys are implementation-opaque strings; the one well-known key this
// package reserves is "clock": when its value is a Clock, the returned env
// also runs under that Clock.
func (e *EffectEnv) WithContext(key string, value any) *EffectEnv {
	child := &EffectEnv{
		Clock:  e.Clock,
		Cancel: e.Cancel,
		Scope:  e.Scope,
		ctx:    e.ctx,
		values: make(map[string]any, len(e.values)+1),
	}
	for k, v := range e.values {
		child.values[k] = v
	}
	child.values[key] = value
	if key == "clock" {
		if c, ok := value.(Clock); ok {
			child.Clock = c
		}
	}
	return child
}

// Value looks up a key set by WithContext.
func (e *EffectEnv) Value(key string) (any, bool) {
	if e.values == nil {
		return nil, false
	}
	v, ok := e.values[key]
	return v, ok
}

// child builds a descendant environment for Fork/Timeout/Race: same Clock
// and context, a child CancelToken parented to e.Cancel, and a fresh scope.
func (e *EffectEnv) child() *EffectEnv {
	return &EffectEnv{
		Clock:  e.Clock,
		Cancel: e.Cancel.Child(),
		Scope:  NewFinalizerScope(),
		ctx:    e.ctx,
		values: e.values,
	}
}
