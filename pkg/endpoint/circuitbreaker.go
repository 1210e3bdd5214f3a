package endpoint

import (
	"context"

	"github.com/flowctl/flowctl/infrastructure/resilience"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// circuitBreakerSink wraps a Sink with a resilience.CircuitBreaker,
// honoring the destination URI's `circuit_breaker=true` query parameter. It
// never re-attempts a delivery; it only short-circuits further Deliver
// calls once a downstream has failed repeatedly, turning a slow timeout
// into a fast DeliveryError so one flaky sink can't stall a route's
// fan-out budget.
type circuitBreakerSink struct {
	inner registry.Sink
	cb    *resilience.CircuitBreaker
}

// withCircuitBreaker wraps sink in a circuitBreakerSink when ep requests
// one, otherwise returns sink unchanged.
func withCircuitBreaker(sink registry.Sink, ep uri.Endpoint) registry.Sink {
	if !ep.QueryBool("circuit_breaker", false) {
		return sink
	}
	return &circuitBreakerSink{inner: sink, cb: resilience.New(resilience.DefaultConfig())}
}

func (s *circuitBreakerSink) Deliver(ctx context.Context, msg message.Message) error {
	err := s.cb.Execute(ctx, func() error {
		return s.inner.Deliver(ctx, msg)
	})
	if err != nil {
		if _, ok := ferrors.KindOf(err); ok {
			return err
		}
		return ferrors.Delivery("", "endpoint.circuit_breaker", err)
	}
	return nil
}

func (s *circuitBreakerSink) Stop(ctx context.Context) error {
	return s.inner.Stop(ctx)
}
