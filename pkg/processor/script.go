package processor

import (
	"context"

	"github.com/dop251/goja"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// scriptStep runs source in a fresh goja VM per message, exposing the
// message's fields as the global "msg" object. The (possibly mutated)
// object becomes the new message. This sits between transform (too
// limited for structural changes) and external (too heavy for a one-line
// tweak).
type scriptStep struct {
	noFlush
	route  string
	source string
}

func newScriptStep(route string, spec config.ProcessorSpec) (Step, error) {
	source := stringField(spec.Raw, "source", "")
	if source == "" {
		return nil, ferrors.Configf("processor.script", "route %q: script requires a source", route)
	}
	return &scriptStep{route: route, source: source}, nil
}

func (s *scriptStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	vm := goja.New()
	if err := vm.Set("msg", msg.Map()); err != nil {
		return nil, ferrors.Processing(s.route, "processor.script", err)
	}

	if _, err := vm.RunString(s.source); err != nil {
		return nil, ferrors.Processing(s.route, "processor.script", err)
	}

	out := vm.Get("msg")
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return nil, ferrors.Processing(s.route, "processor.script", errScriptMissingMsg)
	}
	exported, ok := out.Export().(map[string]interface{})
	if !ok {
		return nil, ferrors.Processing(s.route, "processor.script", errScriptNotObject)
	}

	return []message.Message{message.FromMap(exported)}, nil
}

var (
	errScriptMissingMsg = scriptError("script cleared the global msg object")
	errScriptNotObject  = scriptError("script's msg global is no longer an object")
)

type scriptError string

func (e scriptError) Error() string { return string(e) }
