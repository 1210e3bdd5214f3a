package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/expr"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

const defaultGroupKey = ""

// aggregateWindow buffers messages for one group key.
type aggregateWindow struct {
	messages []message.Message
	start    time.Time
}

// aggregateStep is the only stateful processor. It accumulates messages
// into one window per distinct group_by value (or a single window when
// group_by is unset) and emits {count, window_start, window_end, items}
// when either max_size is reached (checked synchronously on Process) or
// timeout elapses since the window's first message (checked by a
// background ticker, since no new message may arrive to trigger it).
type aggregateStep struct {
	route    string
	maxSize  int
	timeout  time.Duration
	groupBy  string

	mu      sync.Mutex
	windows map[string]*aggregateWindow

	signals  chan []message.Message
	stopOnce sync.Once
	done     chan struct{}
}

func newAggregateStep(route string, spec config.ProcessorSpec) (Step, error) {
	strategy := stringField(spec.Raw, "strategy", "collect")
	if strategy != "collect" {
		return nil, ferrors.Configf("processor.aggregate", "route %q: unsupported aggregate strategy %q", route, strategy)
	}
	timeout, err := durationField(spec.Raw, "timeout", 0)
	if err != nil || timeout <= 0 {
		return nil, ferrors.Configf("processor.aggregate", "route %q: aggregate requires a positive timeout", route)
	}
	maxSize := intField(spec.Raw, "max_size", 0)
	if maxSize <= 0 {
		return nil, ferrors.Configf("processor.aggregate", "route %q: aggregate requires a positive max_size", route)
	}
	groupBy := stringField(spec.Raw, "group_by", "")

	a := &aggregateStep{
		route:   route,
		maxSize: maxSize,
		timeout: timeout,
		groupBy: groupBy,
		windows: make(map[string]*aggregateWindow),
		signals: make(chan []message.Message, 8),
		done:    make(chan struct{}),
	}
	go a.tick()
	return a, nil
}

// Signals exposes timeout-triggered window flushes, emitted independently
// of Process calls. The route executor selects on this alongside normal
// chain output.
func (a *aggregateStep) Signals() <-chan []message.Message {
	return a.signals
}

func (a *aggregateStep) tick() {
	interval := a.timeout / 4
	if interval <= 0 || interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			for _, out := range a.sweepExpired() {
				select {
				case a.signals <- out:
				case <-a.done:
					return
				}
			}
		}
	}
}

func (a *aggregateStep) sweepExpired() [][]message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	var flushed [][]message.Message
	now := time.Now()
	for key, w := range a.windows {
		if now.Sub(w.start) >= a.timeout {
			flushed = append(flushed, []message.Message{a.emit(w)})
			delete(a.windows, key)
		}
	}
	return flushed
}

func (a *aggregateStep) emit(w *aggregateWindow) message.Message {
	return message.FromMap(map[string]any{
		"count":        int64(len(w.messages)),
		"window_start": w.start.UTC().Format(time.RFC3339Nano),
		"window_end":   time.Now().UTC().Format(time.RFC3339Nano),
		"items":        messagesToAny(w.messages),
	})
}

func messagesToAny(msgs []message.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = m.Map()
	}
	return out
}

func (a *aggregateStep) groupKey(msg message.Message) string {
	if a.groupBy == "" {
		return defaultGroupKey
	}
	v, ok := expr.Lookup(a.groupBy, msg)
	if !ok {
		return defaultGroupKey
	}
	return toGroupString(v)
}

func toGroupString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (a *aggregateStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.groupKey(msg)
	w, ok := a.windows[key]
	if !ok {
		w = &aggregateWindow{start: time.Now()}
		a.windows[key] = w
	}
	w.messages = append(w.messages, msg)

	if len(w.messages) >= a.maxSize {
		out := a.emit(w)
		delete(a.windows, key)
		return []message.Message{out}, nil
	}
	return nil, nil
}

// Flush drains every non-empty window once, best-effort, on route
// cancellation.
func (a *aggregateStep) Flush(ctx context.Context) ([]message.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []message.Message
	for key, w := range a.windows {
		if len(w.messages) > 0 {
			out = append(out, a.emit(w))
		}
		delete(a.windows, key)
	}
	return out, nil
}

func (a *aggregateStep) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}
