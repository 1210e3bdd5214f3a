package endpoint

import (
	"context"
	"strings"
	"time"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// timerSource emits {tick_id, timestamp} every period, starting one period
// after Start. Tick n is scheduled at start + n*period, computed from the
// start time rather than by sleeping for `period` in a loop, which would
// drift by the loop's own processing time.
type timerSource struct {
	period time.Duration
	route  string
}

func newTimerSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	period, err := parseDuration(ep.Authority())
	if err != nil {
		return nil, ferrors.Configf("endpoint.timer", "invalid timer period %q: %v", ep.Authority(), err)
	}
	if period <= 0 {
		return nil, ferrors.Configf("endpoint.timer", "timer period must be positive, got %v", period)
	}
	return &timerSource{period: period, route: deps.Route}, nil
}

func (t *timerSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	start := time.Now()

	var tickID int64
	for {
		next := start.Add(time.Duration(tickID+1) * t.period)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case now := <-timer.C:
			msg := message.New("timer://"+t.period.String(), t.route, map[string]any{
				"tick_id":   tickID,
				"timestamp": now.UTC().Format(time.RFC3339Nano),
			})
			if err := emit(ctx, msg); err != nil {
				return nil
			}
			tickID++
		}
	}
}

func (t *timerSource) Stop(ctx context.Context) error { return nil }

// parseDuration accepts the URI grammar's <number><unit> form (ms|s|m|h) in
// addition to whatever time.ParseDuration already accepts, since a bare
// authority like "250ms" parses identically either way.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	return time.ParseDuration(s)
}
