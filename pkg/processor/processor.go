// Package processor implements the built-in processor chain: filter,
// transform, aggregate, debug, script, and external. Each processor is a Step that
// consumes one message and produces zero or more messages; aggregate is
// the only stateful kind.
package processor

import (
	"context"
	"time"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// Step is one stage of a route's processor chain. Process returns the
// messages to forward downstream (zero for a drop or while aggregate is
// buffering, one otherwise) and an error for ProcessingError conditions.
// Flush is called once, best-effort, when the route is cancelled, so
// stateful steps (aggregate) can emit a partial window.
type Step interface {
	Process(ctx context.Context, msg message.Message) ([]message.Message, error)
	Flush(ctx context.Context) ([]message.Message, error)
	Stop()
}

// noFlush is embedded by stateless steps that have nothing to flush.
type noFlush struct{}

func (noFlush) Flush(ctx context.Context) ([]message.Message, error) { return nil, nil }
func (noFlush) Stop()                                                {}

// Build constructs the ordered Step chain for a route's processor
// declarations. Unrecognized processor type is a ConfigError, caught at
// route-start time per the spec's fail-fast contract.
func Build(route string, specs []config.ProcessorSpec, env map[string]string) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	for i, spec := range specs {
		step, err := build(route, i, spec, env)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func build(route string, index int, spec config.ProcessorSpec, env map[string]string) (Step, error) {
	switch spec.Type {
	case "filter":
		return newFilterStep(route, spec)
	case "transform":
		return newTransformStep(route, spec)
	case "aggregate":
		return newAggregateStep(route, spec)
	case "debug":
		return newDebugStep(route, spec)
	case "script":
		return newScriptStep(route, spec)
	case "external":
		return newExternalStep(route, spec, env)
	default:
		return nil, ferrors.Configf("processor.build", "route %q processor %d: unknown processor type %q", route, index, spec.Type)
	}
}

// durationField reads a duration-shaped config entry, accepting both a Go
// duration string ("500ms") and a bare number of milliseconds.
func durationField(fields map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := fields[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, err
		}
		return d, nil
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		return time.Duration(t * float64(time.Millisecond)), nil
	default:
		return def, nil
	}
}

func stringField(fields map[string]any, key, def string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func intField(fields map[string]any, key string, def int) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
