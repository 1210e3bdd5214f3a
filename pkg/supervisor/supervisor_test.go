package supervisor_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/endpoint"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/route"
	"github.com/flowctl/flowctl/pkg/supervisor"
	"github.com/flowctl/flowctl/pkg/uri"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func newTimerToLogRoute(t *testing.T, reg *registry.Registry, name string) *route.Route {
	t.Helper()
	sinkPath := filepath.Join(t.TempDir(), name+".log")
	spec := config.RouteSpec{
		Name: name,
		From: "timer://20ms",
		To:   config.StringOrSlice{"log://" + sinkPath},
	}
	return route.New(spec, reg, uri.Env{}, testLog(), 16, time.Second)
}

func TestSupervisorRunsRoutesConcurrently(t *testing.T) {
	reg := registry.New()
	endpoint.RegisterAll(reg)

	sup := supervisor.New(2, time.Second, testLog())

	names := []string{"a", "b", "c"}
	for _, n := range names {
		require.NoError(t, sup.Register(newTimerToLogRoute(t, reg, n)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := sup.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, n := range names {
		st := sup.Route(n).State()
		assert.Contains(t, []route.State{route.StateStopped, route.StateFailed}, st)
	}
}

func TestSupervisorStatusReflectsLifecycle(t *testing.T) {
	reg := registry.New()
	endpoint.RegisterAll(reg)

	sup := supervisor.New(1, 500*time.Millisecond, testLog())
	require.NoError(t, sup.Register(newTimerToLogRoute(t, reg, "only")))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	status := sup.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "only", status[0].Name)
	assert.Contains(t, []route.State{route.StateStopped, route.StateFailed}, status[0].State)
	assert.False(t, status[0].UpdatedAt.IsZero())
}

func TestSupervisorRespectsMaxConcurrentRoutes(t *testing.T) {
	reg := registry.New()
	endpoint.RegisterAll(reg)

	sup := supervisor.New(1, time.Second, testLog())
	for _, n := range []string{"x", "y"} {
		require.NoError(t, sup.Register(newTimerToLogRoute(t, reg, n)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	for _, n := range []string{"x", "y"} {
		st := sup.Route(n).State()
		assert.NotEqual(t, route.StateCreated, st)
	}

	started := 0
	for _, h := range sup.Status() {
		if h.StartedAt != nil {
			started++
		}
	}
	assert.Equal(t, 1, started, "with max_concurrent_routes=1 only one route should have started")
}

func TestSupervisorRunWithNoRoutesReturnsImmediately(t *testing.T) {
	sup := supervisor.New(4, time.Second, testLog())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run did not return promptly with zero routes")
	}
}
