package route

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// memSource replays a fixed slice of messages then reports clean EOF.
type memSource struct {
	msgs []message.Message
}

func (s *memSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	for _, m := range s.msgs {
		if err := emit(ctx, m); err != nil {
			return nil
		}
	}
	return nil
}
func (s *memSource) Stop(ctx context.Context) error { return nil }

// memSink records every delivered message in order.
type memSink struct {
	mu  sync.Mutex
	got []message.Message
}

func (s *memSink) Deliver(ctx context.Context, msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return nil
}
func (s *memSink) Stop(ctx context.Context) error { return nil }

func (s *memSink) messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.got))
	copy(out, s.got)
	return out
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newTestRegistry registers "mem://<name>" sources/sinks backed by the
// given fixtures, keyed by host so a route's from/to URIs can pick a
// distinct fixture per test.
func newTestRegistry(sources map[string]*memSource, sinks map[string]*memSink) *registry.Registry {
	reg := registry.New()
	reg.RegisterSource("mem", func(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
		return sources[ep.Host], nil
	})
	reg.RegisterSink("mem", func(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
		return sinks[ep.Host], nil
	})
	return reg
}

// S2: filter forwards only messages whose predicate is true.
func TestRoute_Filter(t *testing.T) {
	src := &memSource{msgs: []message.Message{
		message.FromMap(map[string]any{"v": int64(5)}),
		message.FromMap(map[string]any{"v": int64(15)}),
		message.FromMap(map[string]any{"v": int64(8)}),
		message.FromMap(map[string]any{"v": int64(20)}),
	}}
	sink := &memSink{}
	reg := newTestRegistry(map[string]*memSource{"a": src}, map[string]*memSink{"b": sink})

	spec := config.RouteSpec{
		Name: "filter-route",
		From: "mem://a",
		Processors: []config.ProcessorSpec{
			{Type: "filter", Raw: map[string]any{"type": "filter", "predicate": "{{v}} > 10"}},
		},
		To: []string{"mem://b"},
	}

	r := New(spec, reg, uri.Env{}, testLog(), 64, 5*time.Second)
	err := r.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, r.State())

	got := sink.messages()
	require.Len(t, got, 2)
	v0, _ := got[0].Int("v")
	v1, _ := got[1].Int("v")
	assert.Equal(t, int64(15), v0)
	assert.Equal(t, int64(20), v1)
}

// S3: transform renders the template into "body" and preserves other keys.
func TestRoute_Transform(t *testing.T) {
	src := &memSource{msgs: []message.Message{
		message.FromMap(map[string]any{"name": "Ada", "n": int64(3)}),
	}}
	sink := &memSink{}
	reg := newTestRegistry(map[string]*memSource{"a": src}, map[string]*memSink{"b": sink})

	spec := config.RouteSpec{
		Name: "transform-route",
		From: "mem://a",
		Processors: []config.ProcessorSpec{
			{Type: "transform", Raw: map[string]any{"type": "transform", "template": "Hi {{name}} ({{n}})"}},
		},
		To: []string{"mem://b"},
	}

	r := New(spec, reg, uri.Env{}, testLog(), 64, 5*time.Second)
	require.NoError(t, r.Start(context.Background()))

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "Hi Ada (3)", got[0].String("body"))
	assert.Equal(t, "Ada", got[0].String("name"))
}

// S4-shaped: aggregate emits a full window once max_size is reached and
// never exceeds it.
func TestRoute_Aggregate_MaxSize(t *testing.T) {
	msgs := make([]message.Message, 7)
	for i := range msgs {
		msgs[i] = message.FromMap(map[string]any{"i": int64(i)})
	}
	src := &memSource{msgs: msgs}
	sink := &memSink{}
	reg := newTestRegistry(map[string]*memSource{"a": src}, map[string]*memSink{"b": sink})

	spec := config.RouteSpec{
		Name: "agg-route",
		From: "mem://a",
		Processors: []config.ProcessorSpec{
			{Type: "aggregate", Raw: map[string]any{"type": "aggregate", "strategy": "collect", "timeout": "10s", "max_size": 3}},
		},
		To: []string{"mem://b"},
	}

	r := New(spec, reg, uri.Env{}, testLog(), 64, 5*time.Second)
	require.NoError(t, r.Start(context.Background()))

	got := sink.messages()
	// 7 inputs / max_size 3 => two full windows flushed synchronously; the
	// trailing partial window (1 message) is flushed on route stop.
	require.Len(t, got, 3)
	for _, m := range got[:2] {
		count, _ := m.Int("count")
		assert.Equal(t, int64(3), count)
		items, ok := m.Array("items")
		require.True(t, ok)
		assert.Len(t, items, 3)
	}
	lastCount, _ := got[2].Int("count")
	assert.Equal(t, int64(1), lastCount)
}

// Property 5: fan-out to multiple sinks each see the full post-processor
// stream in the same relative order.
func TestRoute_FanOut_MultipleSinks(t *testing.T) {
	src := &memSource{msgs: []message.Message{
		message.FromMap(map[string]any{"i": int64(0)}),
		message.FromMap(map[string]any{"i": int64(1)}),
		message.FromMap(map[string]any{"i": int64(2)}),
	}}
	sinkA := &memSink{}
	sinkB := &memSink{}
	reg := newTestRegistry(map[string]*memSource{"a": src}, map[string]*memSink{"b": sinkA, "c": sinkB})

	spec := config.RouteSpec{
		Name: "fanout-route",
		From: "mem://a",
		To:   []string{"mem://b", "mem://c"},
	}

	r := New(spec, reg, uri.Env{}, testLog(), 64, 5*time.Second)
	require.NoError(t, r.Start(context.Background()))

	for _, sink := range []*memSink{sinkA, sinkB} {
		got := sink.messages()
		require.Len(t, got, 3)
		for i, m := range got {
			v, _ := m.Int("i")
			assert.Equal(t, int64(i), v)
		}
	}
}

// Cancellation: stopping a running route transitions it to Stopped and
// best-effort flushes any open aggregate window.
func TestRoute_Cancel_FlushesAggregate(t *testing.T) {
	blocker := make(chan struct{})
	src := &blockingSource{unblock: blocker, msgs: []message.Message{
		message.FromMap(map[string]any{"i": int64(0)}),
	}}
	sink := &memSink{}
	reg := newTestRegistry(map[string]*memSource{}, map[string]*memSink{"b": sink})
	reg.RegisterSource("mem", func(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
		return src, nil
	})

	spec := config.RouteSpec{
		Name: "cancel-route",
		From: "mem://a",
		Processors: []config.ProcessorSpec{
			{Type: "aggregate", Raw: map[string]any{"type": "aggregate", "strategy": "collect", "timeout": "10s", "max_size": 100}},
		},
		To: []string{"mem://b"},
	}

	r := New(spec, reg, uri.Env{}, testLog(), 64, 2*time.Second)
	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	// Give the source time to emit its one message and the chain time to
	// buffer it into the aggregate window, then cancel the route.
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	close(blocker)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("route did not stop within grace period")
	}
	assert.Equal(t, StateStopped, r.State())

	got := sink.messages()
	require.Len(t, got, 1)
	count, _ := got[0].Int("count")
	assert.Equal(t, int64(1), count)
}

// blockingSource emits its fixed messages, then blocks until unblock is
// closed or ctx is cancelled, simulating a long-lived source under test.
type blockingSource struct {
	unblock chan struct{}
	msgs    []message.Message
}

func (s *blockingSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	for _, m := range s.msgs {
		if err := emit(ctx, m); err != nil {
			return nil
		}
	}
	select {
	case <-s.unblock:
		return nil
	case <-ctx.Done():
		return nil
	}
}
func (s *blockingSource) Stop(ctx context.Context) error { return nil }
