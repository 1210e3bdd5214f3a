// Package route implements the route executor: wires a source driver
// through a processor chain to one or more sink drivers, enforcing a
// bounded queue, sequential processing, and concurrent fan-out with a
// per-sink delivery timeout.
package route

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/metrics"
	"github.com/flowctl/flowctl/pkg/processor"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// State is the route lifecycle state machine: Created -> Starting ->
// Running -> (Stopping -> Stopped) | Failed. Transitions are monotone
// except Running -> Starting never occurs. A route stopped before it was
// started goes Created -> Stopped.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// signalStep is satisfied by processor steps (aggregate) that can emit
// output asynchronously, independent of new inbound messages.
type signalStep interface {
	Signals() <-chan []message.Message
}

// Route owns one source driver, its processor chain, and its sink
// drivers. It is not safe for concurrent use beyond Start/Stop/State.
type Route struct {
	Name           string
	spec           config.RouteSpec
	reg            *registry.Registry
	env            uri.Env
	log            *logrus.Entry
	queueCapacity  int
	defaultTimeout time.Duration

	mu    sync.RWMutex
	state State
	err   error

	source registry.Source
	sinks  []registry.Sink
	steps  []processor.Step

	cancel context.CancelFunc
}

// New constructs a Route in the Created state from its declaration. The
// source/sinks/processor chain are resolved lazily in Start so a
// misconfigured route fails there, not at construction.
func New(spec config.RouteSpec, reg *registry.Registry, env uri.Env, log *logrus.Entry, queueCapacity int, defaultTimeout time.Duration) *Route {
	return &Route{
		Name:           spec.Name,
		spec:           spec,
		reg:            reg,
		env:            env,
		log:            log.WithField("route", spec.Name),
		queueCapacity:  queueCapacity,
		defaultTimeout: defaultTimeout,
		state:          StateCreated,
	}
}

// State returns the route's current lifecycle state.
func (r *Route) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Err returns the error that caused Failed, if any.
func (r *Route) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

var allStates = []string{
	string(StateCreated), string(StateStarting), string(StateRunning),
	string(StateStopping), string(StateStopped), string(StateFailed),
}

func (r *Route) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	metrics.SetRouteState(r.Name, string(s), allStates)
}

func (r *Route) fail(err error) {
	r.mu.Lock()
	r.state = StateFailed
	r.err = err
	r.mu.Unlock()
	metrics.SetRouteState(r.Name, string(StateFailed), allStates)
}

// resolve builds the source, sinks, and processor chain from the route's
// declaration. ConfigError/EndpointStartError here is fatal to this route
// only; other routes continue.
func (r *Route) resolve(ctx context.Context) error {
	fromEP, err := uri.Parse(r.spec.From, r.env)
	if err != nil {
		return err
	}
	src, err := r.reg.Source(fromEP, registry.Deps{Route: r.Name, Log: r.log, Env: r.env})
	if err != nil {
		return ferrors.EndpointStart(r.Name, "route.resolve.source", err)
	}
	r.source = src

	for _, rawTo := range r.spec.To {
		toEP, err := uri.Parse(rawTo, r.env)
		if err != nil {
			return err
		}
		sink, err := r.reg.Sink(toEP, registry.Deps{Route: r.Name, Log: r.log, Env: r.env})
		if err != nil {
			return ferrors.EndpointStart(r.Name, "route.resolve.sink", err)
		}
		r.sinks = append(r.sinks, sink)
	}

	steps, err := processor.Build(r.Name, r.spec.Processors, r.env)
	if err != nil {
		return err
	}
	r.steps = steps

	return nil
}

// Start resolves endpoints and processors, then runs the route until ctx
// is cancelled or the source hits an unrecoverable error. It blocks until
// the route has fully stopped.
func (r *Route) Start(ctx context.Context) error {
	r.setState(StateStarting)

	if err := r.resolve(ctx); err != nil {
		r.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	queue := make(chan message.Message, r.queueCapacity)
	metrics.SetQueueDepth(r.Name, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.consume(runCtx, queue)
	}()

	r.setState(StateRunning)

	emit := func(ctx context.Context, msg message.Message) error {
		metrics.MessageIn(r.Name, "source")
		select {
		case queue <- msg:
			metrics.SetQueueDepth(r.Name, len(queue))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	srcErr := r.source.Start(runCtx, emit)
	close(queue)
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), r.defaultTimeout)
	defer stopCancel()
	_ = r.source.Stop(stopCtx)
	for _, s := range r.steps {
		s.Stop()
	}
	for _, sink := range r.sinks {
		_ = sink.Stop(stopCtx)
	}

	if srcErr != nil {
		r.fail(srcErr)
		return srcErr
	}
	r.setState(StateStopped)
	return nil
}

// Stop requests cancellation of a running route; Start returns once
// teardown completes. A route that was never started moves straight to
// Stopped, and a route that has already stopped or failed keeps its state.
func (r *Route) Stop() {
	r.mu.Lock()
	switch r.state {
	case StateCreated:
		r.state = StateStopped
	case StateStarting, StateRunning:
		r.state = StateStopping
	}
	st, cancel := r.state, r.cancel
	r.mu.Unlock()
	metrics.SetRouteState(r.Name, string(st), allStates)
	if cancel != nil {
		cancel()
	}
}

// consume pulls messages off queue in order, runs them through the
// processor chain, and fans each surviving message out to every sink. It
// also drains any aggregate step's asynchronous timeout-triggered flushes
// and, on cancellation or source EOF, flushes every stateful step once.
func (r *Route) consume(ctx context.Context, queue <-chan message.Message) {
	signalers := make([]signalStep, 0)
	for _, s := range r.steps {
		if sig, ok := s.(signalStep); ok {
			signalers = append(signalers, sig)
		}
	}
	merged := signalFrom(ctx, signalers)
	resumeAt := signalIndex(r.steps, signalers)

	for {
		select {
		case msg, ok := <-queue:
			if !ok {
				r.flushAll(ctx)
				return
			}
			metrics.SetQueueDepth(r.Name, len(queue))
			r.runChain(ctx, msg, 0)
		case batch, ok := <-merged:
			if !ok {
				merged = nil
				continue
			}
			for _, m := range batch {
				r.runChainFrom(ctx, m, resumeAt)
			}
		}
	}
}

// signalFrom merges every signaler's channel into one receive; returns a
// nil channel (blocks forever) when there are no signalers, which is safe
// in a select. Relay goroutines exit once ctx is cancelled so they never
// outlive the route.
func signalFrom(ctx context.Context, signalers []signalStep) <-chan []message.Message {
	if len(signalers) == 0 {
		return nil
	}
	out := make(chan []message.Message)
	for _, s := range signalers {
		go func(s signalStep) {
			for {
				select {
				case batch, ok := <-s.Signals():
					if !ok {
						return
					}
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(s)
	}
	return out
}

// signalIndex finds where to resume chain processing for asynchronously
// flushed output: immediately after the first step that can signal.
func signalIndex(steps []processor.Step, signalers []signalStep) int {
	if len(signalers) == 0 {
		return 0
	}
	for i, s := range steps {
		if sig, ok := s.(signalStep); ok && sig == signalers[0] {
			return i + 1
		}
	}
	return 0
}

// runChain runs msg through the processor chain starting at index from.
func (r *Route) runChain(ctx context.Context, msg message.Message, from int) {
	r.runChainFrom(ctx, msg, from)
}

func (r *Route) runChainFrom(ctx context.Context, msg message.Message, from int) {
	current := []message.Message{msg}
	for i := from; i < len(r.steps); i++ {
		step := r.steps[i]
		name := r.processorName(i)
		var next []message.Message
		for _, m := range current {
			metrics.MessageIn(r.Name, name)
			start := time.Now()
			out, err := step.Process(ctx, m)
			metrics.ObserveProcessingTime(r.Name, name, time.Since(start))
			if err != nil {
				kind, ok := ferrors.KindOf(err)
				if !ok {
					kind = ferrors.KindProcessing
				}
				if kind == ferrors.KindExternalTimeout {
					metrics.ExternalTimeout(r.Name, name)
				}
				metrics.RecordError(r.Name, name, string(kind))
				r.log.WithError(err).Warn("processor error, dropping message")
				continue
			}
			if len(out) == 0 {
				metrics.Drop(r.Name, name)
				continue
			}
			metrics.MessageOut(r.Name, name)
			next = append(next, out...)
		}
		current = next
		if len(current) == 0 {
			return
		}
	}
	for _, m := range current {
		r.fanOut(ctx, m)
	}
}

// processorName returns the declared processor type at chain index i, or
// "chain" if out of range (defensive; should not happen in practice).
func (r *Route) processorName(i int) string {
	if i >= 0 && i < len(r.spec.Processors) {
		return r.spec.Processors[i].Type
	}
	return "chain"
}

// flushAll flushes every step with buffered state, best-effort, once.
func (r *Route) flushAll(ctx context.Context) {
	for i, step := range r.steps {
		out, err := step.Flush(ctx)
		if err != nil {
			r.log.WithError(err).Warn("flush error")
			continue
		}
		for _, m := range out {
			r.runChainFrom(ctx, m, i+1)
		}
	}
}

// fanOut concurrently delivers msg to every sink, each bounded by the
// route's default timeout. A per-sink failure is logged and counted but
// never cancels peer sinks or the route.
func (r *Route) fanOut(ctx context.Context, msg message.Message) {
	if len(r.sinks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for idx, sink := range r.sinks {
		wg.Add(1)
		go func(i int, s registry.Sink) {
			defer wg.Done()
			deliverCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
			defer cancel()
			err := s.Deliver(deliverCtx, msg)
			sinkLabel := fmt.Sprintf("sink[%d]", i)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("delivery timeout after %s: %w", r.defaultTimeout, err)
				}
				metrics.RecordError(r.Name, sinkLabel, string(ferrors.KindDelivery))
				r.log.WithError(err).Warn("sink delivery error")
				return
			}
			metrics.MessageOut(r.Name, sinkLabel)
		}(idx, sink)
	}
	wg.Wait()
}
