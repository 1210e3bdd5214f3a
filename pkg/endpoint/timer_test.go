package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// S1: timer://250ms run for ~1.1s yields tick_id 0..3 with increasing
// timestamps.
func TestTimerSource_NonDrifting(t *testing.T) {
	ep, err := uri.Parse("timer://250ms", uri.Env{})
	require.NoError(t, err)

	src, err := newTimerSource(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1100*time.Millisecond)
	defer cancel()

	var got []message.Message
	emit := func(ctx context.Context, msg message.Message) error {
		got = append(got, msg)
		return nil
	}

	_ = src.Start(ctx, emit)

	require.GreaterOrEqual(t, len(got), 4)
	var lastTS time.Time
	for i, m := range got[:4] {
		id, ok := m.Int("tick_id")
		require.True(t, ok)
		assert.Equal(t, int64(i), id)

		tsStr := m.String("timestamp")
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, ts.After(lastTS))
		}
		lastTS = ts
	}
}

func TestTimerSource_RejectsNonPositivePeriod(t *testing.T) {
	ep, err := uri.Parse("timer://0s", uri.Env{})
	require.NoError(t, err)
	_, err = newTimerSource(ep, registry.Deps{Route: "r"})
	assert.Error(t, err)
}

func TestTimerSource_StopsOnCancel(t *testing.T) {
	ep, err := uri.Parse("timer://50ms", uri.Env{})
	require.NoError(t, err)
	src, err := newTimerSource(ep, registry.Deps{Route: "r"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, func(ctx context.Context, msg message.Message) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timer source did not stop on cancellation")
	}
}
