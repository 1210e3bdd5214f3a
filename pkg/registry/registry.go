// Package registry maps an endpoint URI scheme to the source/sink driver
// factory that implements it.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/uri"
)

// EmitFunc is how a Source hands a produced message to the route executor.
// It blocks while the route's queue is full (cooperative backpressure) and
// returns ctx.Err() if ctx is cancelled while waiting.
type EmitFunc func(ctx context.Context, msg message.Message) error

// Source is a long-lived producer. Start blocks until ctx is cancelled (a
// clean shutdown, returns nil) or the source hits an unrecoverable
// condition (returns a non-nil error, which the route reports as
// SourceFatalError). Stop performs any additional teardown after Start has
// returned.
type Source interface {
	Start(ctx context.Context, emit EmitFunc) error
	Stop(ctx context.Context) error
}

// Sink accepts one finalized message at a time.
type Sink interface {
	Deliver(ctx context.Context, msg message.Message) error
	Stop(ctx context.Context) error
}

// Deps bundles what a driver factory needs beyond the endpoint URI itself.
type Deps struct {
	Route  string
	Log    *logrus.Entry
	Env    uri.Env
}

// SourceFactory builds a Source for an endpoint.
type SourceFactory func(ep uri.Endpoint, deps Deps) (Source, error)

// SinkFactory builds a Sink for an endpoint.
type SinkFactory func(ep uri.Endpoint, deps Deps) (Sink, error)

// Registry maps scheme -> factory for each role.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
	}
}

// RegisterSource installs the factory for scheme's source role.
// Re-registering a scheme overwrites the previous factory (last writer
// wins).
func (r *Registry) RegisterSource(scheme string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[scheme] = f
}

// RegisterSink installs the factory for scheme's sink role.
func (r *Registry) RegisterSink(scheme string, f SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[scheme] = f
}

// Schemes returns every scheme with at least one registered role, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for s := range r.sources {
		seen[s] = true
	}
	for s := range r.sinks {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Source resolves and instantiates a source driver for ep. Unknown scheme
// is a ConfigError, deferred until this lookup per the URI parser contract.
func (r *Registry) Source(ep uri.Endpoint, deps Deps) (Source, error) {
	r.mu.RLock()
	f, ok := r.sources[ep.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.Configf("registry.source", "unknown source scheme %q", ep.Scheme)
	}
	src, err := f(ep, deps)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Sink resolves and instantiates a sink driver for ep.
func (r *Registry) Sink(ep uri.Endpoint, deps Deps) (Sink, error) {
	r.mu.RLock()
	f, ok := r.sinks[ep.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.Configf("registry.sink", "unknown sink scheme %q", ep.Scheme)
	}
	snk, err := f(ep, deps)
	if err != nil {
		return nil, err
	}
	return snk, nil
}

// ErrNotImplemented is returned by stub driver factories for schemes the
// core only reserves (grpc, rtsp, email) unless a real implementation has
// been registered over them.
var ErrNotImplemented = fmt.Errorf("not implemented")
