package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/uri"
)

type stubSource struct{}

func (stubSource) Start(ctx context.Context, emit EmitFunc) error { return nil }
func (stubSource) Stop(ctx context.Context) error                 { return nil }

type stubSink struct{}

func (stubSink) Deliver(ctx context.Context, msg message.Message) error { return nil }
func (stubSink) Stop(ctx context.Context) error                         { return nil }

func TestRegistry_UnknownScheme(t *testing.T) {
	reg := New()
	ep, err := uri.Parse("bogus://host", uri.Env{})
	require.NoError(t, err)

	_, err = reg.Source(ep, Deps{})
	assert.Error(t, err)

	_, err = reg.Sink(ep, Deps{})
	assert.Error(t, err)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := New()
	reg.RegisterSource("timer", func(ep uri.Endpoint, deps Deps) (Source, error) {
		return stubSource{}, nil
	})
	reg.RegisterSink("log", func(ep uri.Endpoint, deps Deps) (Sink, error) {
		return stubSink{}, nil
	})

	ep, err := uri.Parse("timer://1s", uri.Env{})
	require.NoError(t, err)
	src, err := reg.Source(ep, Deps{})
	require.NoError(t, err)
	assert.NotNil(t, src)

	ep2, err := uri.Parse("log://", uri.Env{})
	require.NoError(t, err)
	sink, err := reg.Sink(ep2, Deps{})
	require.NoError(t, err)
	assert.NotNil(t, sink)

	assert.Contains(t, reg.Schemes(), "timer")
	assert.Contains(t, reg.Schemes(), "log")
}

func TestRegistry_LastWriterWins(t *testing.T) {
	reg := New()
	reg.RegisterSource("x", func(ep uri.Endpoint, deps Deps) (Source, error) {
		return nil, assert.AnError
	})
	reg.RegisterSource("x", func(ep uri.Endpoint, deps Deps) (Source, error) {
		return stubSource{}, nil
	})

	ep, err := uri.Parse("x://host", uri.Env{})
	require.NoError(t, err)
	src, err := reg.Source(ep, Deps{})
	require.NoError(t, err)
	assert.NotNil(t, src)
}
