package kernelz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Status is a Process's position in its state machine (spec.md §3
// "Process<M,S,C>", §4.8 "starting -> running -> stopping -> stopped").
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Process tracing spans, grounded on the teacher's backoff.go StartSpan
// shape.
var (
	ProcessMsgSpan = tracez.Key("process.msg")

	ProcessTagMsgSeq  = tracez.Tag("process.msg_seq")
	ProcessTagSuccess = tracez.Tag("process.success")
	ProcessTagError   = tracez.Tag("process.error")
)

// Tools is the capability set passed into Init/Handle/OnStop (spec.md §4.8
// "Tools (passed to handle)"). Ask and Spawn are free functions
// (Ask[M,Resp], Spawn[M,S]) rather than Tools fields, since Go methods and
// struct fields cannot introduce the extra type parameter a differently-typed
// ask/spawn call needs per call site.
type Tools[M any] struct {
	Clock    Clock
	Ctx      context.Context
	Emit     func(signal capitan.Signal, fields ...capitan.Field)
	Schedule func(after Millis, msg M)
}

// ReplyRef is the one-shot resolver handed to a message built for Ask: the
// handler that eventually processes the asked message calls Reply or Fail
// exactly once (spec.md §4.8 "ask(desc, f, timeout?)").
type ReplyRef[Resp any] struct {
	once    *sync.Once
	deliver func(Result[Resp])
}

// Reply resolves the ask with v. A second call (Reply or Fail) is a no-op.
func (r ReplyRef[Resp]) Reply(v Resp) {
	r.once.Do(func() { r.deliver(Succeeded(v)) })
}

// Fail resolves the ask with err. A second call (Reply or Fail) is a no-op.
func (r ReplyRef[Resp]) Fail(err error) {
	r.once.Do(func() { r.deliver(Failed[Resp](err)) })
}

// ProcessRef is the only handle outsiders hold to a Process: id plus
// send/ask/stop capabilities, never direct access to its private state
// (spec.md §3 "Ownership: ... outsiders hold only a ProcessRef").
type ProcessRef[M any] struct {
	id                    string
	send                  func(M) bool
	stop                  func(reason string) Effect[struct{}]
	status                func() Status
	registerPendingAsk    func(onStop func()) uint64
	unregisterPendingAsk  func(uint64)
}

// ID returns the process's identifier.
func (r *ProcessRef[M]) ID() string { return r.id }

// Send enqueues msg, returning false if the process is not running or its
// mailbox rejects under pressure (spec.md §4.8 "send(msg) -> bool").
func (r *ProcessRef[M]) Send(msg M) bool { return r.send(msg) }

// Stop requests an orderly shutdown (spec.md §4.8 "stop(reason=normal)").
func (r *ProcessRef[M]) Stop(reason string) Effect[struct{}] { return r.stop(reason) }

// Status reports the process's current state.
func (r *ProcessRef[M]) Status() Status { return r.status() }

// Ask builds a message via build (which receives a ReplyRef the eventual
// handler uses to resolve this call), sends it, and waits for the first of
// {reply, timeout, process stop} (spec.md §4.8 "ask(buildMsg, timeout=5s)").
func Ask[M, Resp any](ref *ProcessRef[M], build func(ReplyRef[Resp]) M, timeout Millis) Effect[Resp] {
	return Effect[Resp]{name: "process.ask", run: func(env *EffectEnv) Result[Resp] {
		replyCh := make(chan Result[Resp], 1)
		once := &sync.Once{}
		deliver := func(r Result[Resp]) { once.Do(func() { replyCh <- r }) }
		reply := ReplyRef[Resp]{once: once, deliver: deliver}

		msg := build(reply)
		if !ref.send(msg) {
			return Failed[Resp](ErrNotRunning)
		}

		askID := ref.registerPendingAsk(func() { deliver(Failed[Resp](ErrProcessStopping)) })
		defer ref.unregisterPendingAsk(askID)

		timedOut := make(chan struct{}, 1)
		go func() {
			env.Clock.Sleep(timeout).run(NewEffectEnv(env.Clock, env.Cancel))
			timedOut <- struct{}{}
		}()

		select {
		case r := <-replyCh:
			return r
		case <-timedOut:
			var zero Resp
			return Failed[Resp](timeoutFault(pathOf("ask"), zero, time.Duration(timeout)*time.Millisecond))
		}
	}}
}

// DefaultAskTimeout is the spec's default Ask timeout (spec.md §4.8).
const DefaultAskTimeout Millis = 5000

// ProcessSpec configures Spawn.
type ProcessSpec[M, S any] struct {
	ID      string
	Mailbox *Mailbox[M]
	Init    func(Tools[M]) (S, error)
	Handle  func(S, M, Tools[M]) (S, error)
	OnStop  func(S, reason string, tools Tools[M]) error
	Clock   Clock
	Metrics *metricz.Registry
	Tracer  *tracez.Tracer
}

// Process is a long-lived, single-threaded actor: a pump goroutine drains
// its Mailbox and invokes Handle, one message at a time, never re-entrantly
// (spec.md §3 "Process<M,S,C>", §4.8, P10).
type Process[M, S any] struct {
	id       string
	clock    Clock
	mailbox  *Mailbox[M]
	initFn   func(Tools[M]) (S, error)
	handleFn func(S, M, Tools[M]) (S, error)
	onStopFn func(S, string, Tools[M]) error

	mu     sync.Mutex
	status Status
	state  S

	cancel *CancelToken
	scope  *FinalizerScope

	shouldStop   atomic.Bool
	isProcessing atomic.Bool

	pendingMu   sync.Mutex
	pendingAsks map[uint64]func()
	nextAskID   uint64

	metrics *metricz.Registry
	tracer  *tracez.Tracer

	pumpDone chan struct{}
}

// Spawn creates a Process per spec, starts its pump goroutine, and returns a
// ProcessRef (spec.md §4.9's "process registry/root spawn entry point").
func Spawn[M, S any](spec ProcessSpec[M, S]) *ProcessRef[M] {
	clock := spec.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	mailbox := spec.Mailbox
	if mailbox == nil {
		mailbox = NewMailbox[M](64, OverflowReject, spec.Metrics)
	}

	p := &Process[M, S]{
		id:          spec.ID,
		clock:       clock,
		mailbox:     mailbox,
		initFn:      spec.Init,
		handleFn:    spec.Handle,
		onStopFn:    spec.OnStop,
		status:      StatusStarting,
		cancel:      NewCancelToken(),
		scope:       NewFinalizerScope(),
		pendingAsks: make(map[uint64]func()),
		metrics:     spec.Metrics,
		tracer:      spec.Tracer,
		pumpDone:    make(chan struct{}),
	}
	if p.tracer == nil {
		p.tracer = tracez.New()
	}

	ref := &ProcessRef[M]{
		id:                   p.id,
		send:                 p.send,
		stop:                 p.stopEffect,
		status:               p.getStatus,
		registerPendingAsk:   p.registerPendingAsk,
		unregisterPendingAsk: p.unregisterPendingAsk,
	}

	go p.run()
	return ref
}

func (p *Process[M, S]) getStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process[M, S]) tools() Tools[M] {
	return Tools[M]{
		Clock: p.clock,
		Ctx:   context.Background(),
		Emit: func(signal capitan.Signal, fields ...capitan.Field) {
			emit(context.Background(), p.clock.Now(), signal, fields...)
		},
		Schedule: p.schedule,
	}
}

// schedule records a self-message to appear in the mailbox at or after
// now + after (spec.md §4.8 "schedule(after, msg)"). The scheduled timer is
// tied to the process's CancelToken so Stop cancels it before it fires.
func (p *Process[M, S]) schedule(after Millis, msg M) {
	go func() {
		env := NewEffectEnv(p.clock, p.cancel)
		p.clock.Sleep(after).run(env)
		if p.cancel.IsCanceled() {
			return
		}
		p.mailbox.Enqueue(context.Background(), msg)
	}()
}

func (p *Process[M, S]) send(msg M) bool {
	if p.getStatus() != StatusRunning {
		return false
	}
	return p.mailbox.Enqueue(context.Background(), msg)
}

func (p *Process[M, S]) registerPendingAsk(onStop func()) uint64 {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.nextAskID++
	id := p.nextAskID
	p.pendingAsks[id] = onStop
	return id
}

func (p *Process[M, S]) unregisterPendingAsk(id uint64) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	delete(p.pendingAsks, id)
}

func (p *Process[M, S]) failPendingAsks() {
	p.pendingMu.Lock()
	asks := make([]func(), 0, len(p.pendingAsks))
	for _, f := range p.pendingAsks {
		asks = append(asks, f)
	}
	p.pendingAsks = make(map[uint64]func())
	p.pendingMu.Unlock()
	for _, f := range asks {
		f()
	}
}

// run is the pump goroutine: init, then loop dequeuing and handling one
// message at a time until told to stop or a handler fails (spec.md §4.8
// "Pump protocol").
func (p *Process[M, S]) run() {
	defer close(p.pumpDone)

	tools := p.tools()
	emit(context.Background(), p.clock.Now(), SignalProcessStart, FieldProcessID.Field(p.id))

	if p.initFn != nil {
		s, err := p.runInit(tools)
		if err != nil {
			p.fail(err)
			return
		}
		p.mu.Lock()
		p.state = s
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.status = StatusRunning
	p.mu.Unlock()
	emit(context.Background(), p.clock.Now(), SignalProcessReady, FieldProcessID.Field(p.id))

	for {
		if p.shouldStop.Load() {
			return
		}

		msg, seq, ok := p.mailbox.Dequeue()
		if !ok {
			select {
			case <-p.mailbox.Wait():
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if err := p.handleOne(msg, seq, tools); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Process[M, S]) handleOne(msg M, seq int64, tools Tools[M]) (err error) {
	p.isProcessing.Store(true)
	defer p.isProcessing.Store(false)

	_, span := p.tracer.StartSpan(context.Background(), ProcessMsgSpan)
	span.SetTag(ProcessTagMsgSeq, fmt.Sprintf("%d", seq))
	defer span.Finish()

	start := p.clock.Now()
	emit(context.Background(), start, SignalMsgStart, FieldProcessID.Field(p.id), FieldMsgSeq.Field(seq))

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	newState, herr := p.safeHandle(state, msg, tools)
	end := p.clock.Now()
	if herr != nil {
		span.SetTag(ProcessTagSuccess, "false")
		span.SetTag(ProcessTagError, herr.Error())
		emitErr(context.Background(), end, SignalMsgError,
			FieldProcessID.Field(p.id), FieldMsgSeq.Field(seq), FieldError.Field(herr.Error()))
		return herr
	}

	span.SetTag(ProcessTagSuccess, "true")
	p.mu.Lock()
	p.state = newState
	p.mu.Unlock()
	emit(context.Background(), end, SignalMsgEnd,
		FieldProcessID.Field(p.id), FieldMsgSeq.Field(seq), FieldDurationMs.Field(int64(end.Sub(start))))
	return nil
}

func (p *Process[M, S]) safeHandle(state S, msg M, tools Tools[M]) (result S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernelz: panic in process %s handle: %s", p.id, recoverToString(r))
		}
	}()
	return p.handleFn(state, msg, tools)
}

func (p *Process[M, S]) runInit(tools Tools[M]) (result S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernelz: panic in process %s init: %s", p.id, recoverToString(r))
		}
	}()
	return p.initFn(tools)
}

func (p *Process[M, S]) runOnStop(state S, reason string, tools Tools[M]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernelz: panic in process %s onStop: %s", p.id, recoverToString(r))
		}
	}()
	return p.onStopFn(state, reason, tools)
}

// fail transitions the process directly to failed (bypassing OnStop, which
// only runs for an explicit Stop) and releases everything waiting on it.
func (p *Process[M, S]) fail(err error) {
	p.mu.Lock()
	if p.status == StatusStopped || p.status == StatusFailed {
		p.mu.Unlock()
		return
	}
	p.status = StatusFailed
	p.mu.Unlock()

	p.shouldStop.Store(true)
	p.cancel.Cancel("process failed")
	p.failPendingAsks()
	emitErr(context.Background(), p.clock.Now(), SignalProcessFail, FieldProcessID.Field(p.id), FieldError.Field(err.Error()))
	p.scope.Close(CauseError)
}

// stopEffect implements ProcessRef.Stop (spec.md §4.8 "stop(reason=normal)").
func (p *Process[M, S]) stopEffect(reason string) Effect[struct{}] {
	return Effect[struct{}]{name: "process.stop", run: func(env *EffectEnv) Result[struct{}] {
		p.mu.Lock()
		switch p.status {
		case StatusStopping, StatusStopped, StatusFailed:
			p.mu.Unlock()
			return Succeeded(struct{}{})
		}
		p.status = StatusStopping
		p.mu.Unlock()

		p.shouldStop.Store(true)
		p.cancel.Cancel(reason)
		p.failPendingAsks()

		<-p.pumpDone

		p.mu.Lock()
		state := p.state
		p.mu.Unlock()

		if p.onStopFn != nil {
			if err := p.runOnStop(state, reason, p.tools()); err != nil {
				emitErr(env.Context(), p.clock.Now(), SignalProcessFail,
					FieldProcessID.Field(p.id), FieldError.Field(err.Error()))
			}
		}

		p.mu.Lock()
		p.status = StatusStopped
		p.mu.Unlock()
		emit(env.Context(), p.clock.Now(), SignalProcessStop, FieldProcessID.Field(p.id), FieldReason.Field(reason))
		p.scope.Close(CauseOK)
		return Succeeded(struct{}{})
	}}
}
