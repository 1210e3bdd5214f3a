package processor

import (
	"context"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/expr"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// transformStep renders template against the message and sets the result
// as the new "body", preserving every other key.
type transformStep struct {
	noFlush
	route    string
	template string
}

func newTransformStep(route string, spec config.ProcessorSpec) (Step, error) {
	template := stringField(spec.Raw, "template", "")
	if template == "" {
		return nil, ferrors.Configf("processor.transform", "route %q: transform requires a template", route)
	}
	return &transformStep{route: route, template: template}, nil
}

func (t *transformStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	rendered, err := expr.Render(t.template, msg)
	if err != nil {
		return nil, ferrors.Processing(t.route, "processor.transform", err)
	}
	return []message.Message{msg.With("body", rendered)}, nil
}
