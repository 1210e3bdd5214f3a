package endpoint

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/uri"
)

type failingSink struct {
	calls int32
}

func (s *failingSink) Deliver(ctx context.Context, msg message.Message) error {
	atomic.AddInt32(&s.calls, 1)
	return errors.New("downstream unavailable")
}

func (s *failingSink) Stop(ctx context.Context) error { return nil }

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &failingSink{}
	ep := uri.Endpoint{Query: url.Values{"circuit_breaker": {"true"}}}
	sink := withCircuitBreaker(inner, ep)

	msg := message.New("test://", "r1", map[string]any{"v": int64(1)})
	for i := 0; i < 5; i++ {
		_ = sink.Deliver(context.Background(), msg)
	}
	callsBeforeOpen := atomic.LoadInt32(&inner.calls)

	for i := 0; i < 5; i++ {
		err := sink.Deliver(context.Background(), msg)
		if err == nil {
			t.Fatal("expected delivery error once circuit is open")
		}
	}
	if atomic.LoadInt32(&inner.calls) != callsBeforeOpen {
		t.Fatalf("expected no further calls to the inner sink once the circuit is open, got %d more", atomic.LoadInt32(&inner.calls)-callsBeforeOpen)
	}
}

func TestCircuitBreakerDisabledByDefault(t *testing.T) {
	inner := &failingSink{}
	ep := uri.Endpoint{Query: url.Values{}}
	sink := withCircuitBreaker(inner, ep)
	if sink != inner {
		t.Fatal("expected the sink to be returned unwrapped when circuit_breaker is absent")
	}
}
