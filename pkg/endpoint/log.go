package endpoint

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// logSink writes one line per message to stdout, or to a file if a path is
// given, formatted as the stringified body.
type logSink struct {
	mu   sync.Mutex
	file *os.File
}

func newLogSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	if ep.Path == "" || ep.Path == "/" {
		return &logSink{}, nil
	}
	f, err := os.OpenFile(ep.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ferrors.EndpointStart(deps.Route, "endpoint.log", err)
	}
	return &logSink{file: f}, nil
}

func (s *logSink) Deliver(ctx context.Context, msg message.Message) error {
	line := string(bodyBytes(msg)) + "\n"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_, err := s.file.WriteString(line)
		return err
	}
	_, err := fmt.Fprint(os.Stdout, line)
	return err
}

func (s *logSink) Stop(ctx context.Context) error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
