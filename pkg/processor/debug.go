package processor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/message"
)

// debugStep writes the message verbatim to the log stream and forwards it
// unchanged.
type debugStep struct {
	noFlush
	route  string
	prefix string
}

func newDebugStep(route string, spec config.ProcessorSpec) (Step, error) {
	return &debugStep{route: route, prefix: stringField(spec.Raw, "prefix", "")}, nil
}

func (d *debugStep) Process(ctx context.Context, msg message.Message) ([]message.Message, error) {
	logrus.WithFields(logrus.Fields{
		"route":  d.route,
		"prefix": d.prefix,
	}).Infof("%s%v", d.prefix, msg.Map())
	return []message.Message{msg}, nil
}
