package kernelz

import (
	"sync"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Runtime is the single owner of a Clock and the table of Processes spawned
// against it (spec.md §9 "the only 'process-wide' pieces are the runtime's
// own registries; these must be owned by a Runtime value created by the
// caller", §2 "Process registry/root"). The only package-level mutable
// state is the counter that numbers CancelTokens; every Process, Mailbox,
// and Supervisor a caller creates should be reached through one Runtime.
type Runtime struct {
	clock   Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer

	mu    sync.Mutex
	procs map[string]processHandle
}

// processHandle erases a spawned Process's (M, S) type parameters down to
// the handful of operations the Runtime itself needs: status and stop.
type processHandle struct {
	status func() Status
	stop   func(reason string) Effect[struct{}]
}

// NewRuntime creates a Runtime over clock (a *SystemClock if nil), sharing
// one metricz.Registry and tracez.Tracer across every Process spawned
// through it.
func NewRuntime(clock Clock) *Runtime {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Runtime{
		clock:   clock,
		metrics: metricz.New(),
		tracer:  tracez.New(),
		procs:   make(map[string]processHandle),
	}
}

// Clock returns the runtime's shared Clock.
func (rt *Runtime) Clock() Clock { return rt.clock }

// Metrics returns the runtime's shared metricz.Registry.
func (rt *Runtime) Metrics() *metricz.Registry { return rt.metrics }

// Tracer returns the runtime's shared tracez.Tracer.
func (rt *Runtime) Tracer() *tracez.Tracer { return rt.tracer }

// SpawnProcess spawns a Process against this runtime's Clock and shared
// observability registries (overriding spec.Clock/Metrics/Tracer if unset),
// registers it for Lookup/Processes/Shutdown, and returns its ProcessRef.
func SpawnProcess[M, S any](rt *Runtime, spec ProcessSpec[M, S]) *ProcessRef[M] {
	if spec.Clock == nil {
		spec.Clock = rt.clock
	}
	if spec.Metrics == nil {
		spec.Metrics = rt.metrics
	}
	if spec.Tracer == nil {
		spec.Tracer = rt.tracer
	}
	ref := Spawn(spec)

	rt.mu.Lock()
	rt.procs[ref.id] = processHandle{status: ref.Status, stop: ref.Stop}
	rt.mu.Unlock()

	return ref
}

// Lookup returns the Status function and Stop capability registered for id,
// or false if no such process was ever spawned through this runtime.
func (rt *Runtime) Lookup(id string) (status func() Status, stop func(reason string) Effect[struct{}], ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.procs[id]
	if !ok {
		return nil, nil, false
	}
	return h.status, h.stop, true
}

// Processes returns the ids of every process ever spawned through this
// runtime (including ones that have since stopped or failed).
func (rt *Runtime) Processes() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.procs))
	for id := range rt.procs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every registered process with reason, waiting for each
// Stop Effect to complete in turn.
func (rt *Runtime) Shutdown(reason string) {
	rt.mu.Lock()
	handles := make([]processHandle, 0, len(rt.procs))
	for _, h := range rt.procs {
		handles = append(handles, h)
	}
	rt.mu.Unlock()

	env := NewEffectEnv(rt.clock, nil)
	for _, h := range handles {
		h.stop(reason).run(env)
	}
}
