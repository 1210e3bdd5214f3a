package processor

import (
	"context"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/external"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// externalStep delegates one message at a time to a subprocess via the
// external package's per-message temp-file JSON driver.
type externalStep struct {
	noFlush
	route string
	drv   *external.Driver
}

func newExternalStep(route string, spec config.ProcessorSpec, env map[string]string) (Step, error) {
	drv, err := external.New(route, spec, env)
	if err != nil {
		return nil, err
	}
	return &externalStep{route: route, drv: drv}, nil
}

func (e *externalStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	out, err := e.drv.Run(ctx, msg)
	if err != nil {
		if _, ok := ferrors.KindOf(err); ok {
			return nil, err
		}
		return nil, ferrors.Processing(e.route, "processor.external", err)
	}
	return []message.Message{out}, nil
}
