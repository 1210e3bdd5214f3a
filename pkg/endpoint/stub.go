package endpoint

import (
	"fmt"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// newNotImplementedSource/Sink back schemes the engine recognizes but does
// not yet wire a transport for (grpc, rtsp, email). They exist so a route
// referencing one of these schemes fails fast with a clear ConfigError
// instead of "unknown scheme".
func newNotImplementedSource(scheme string) registry.SourceFactory {
	return func(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
		return nil, ferrors.Config("endpoint."+scheme, fmt.Errorf("%s source: %w", scheme, registry.ErrNotImplemented))
	}
}

func newNotImplementedSink(scheme string) registry.SinkFactory {
	return func(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
		return nil, ferrors.Config("endpoint."+scheme, fmt.Errorf("%s sink: %w", scheme, registry.ErrNotImplemented))
	}
}
