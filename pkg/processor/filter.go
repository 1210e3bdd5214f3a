package processor

import (
	"context"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/expr"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// filterStep forwards a message unchanged when its predicate evaluates
// true, drops it silently when false, and reports ProcessingError on
// evaluation failure (missing variable, type mismatch).
type filterStep struct {
	noFlush
	route     string
	predicate string
}

func newFilterStep(route string, spec config.ProcessorSpec) (Step, error) {
	predicate := stringField(spec.Raw, "predicate", "")
	if predicate == "" {
		return nil, ferrors.Configf("processor.filter", "route %q: filter requires a predicate", route)
	}
	return &filterStep{route: route, predicate: predicate}, nil
}

func (f *filterStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	ok, err := expr.EvalPredicate(f.predicate, msg)
	if err != nil {
		return nil, ferrors.Processing(f.route, "processor.filter", err)
	}
	if !ok {
		return nil, nil
	}
	return []message.Message{msg}, nil
}
