package endpoint

import (
	"context"

	"github.com/flowctl/flowctl/infrastructure/ratelimit"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// rateLimitedSink wraps a Sink with a requests-per-second limiter, honoring
// the destination URI's `rate=` query parameter. Unlimited (no wrapping)
// when `rate=` is absent or non-positive.
type rateLimitedSink struct {
	inner   registry.Sink
	limiter *ratelimit.RateLimiter
}

// withRateLimit wraps sink in a rateLimitedSink when ep requests one,
// otherwise returns sink unchanged.
func withRateLimit(sink registry.Sink, ep uri.Endpoint) registry.Sink {
	rps := ep.QueryFloat("rate", 0)
	if rps <= 0 {
		return sink
	}
	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerSecond = rps
	cfg.Burst = int(rps) + 1
	return &rateLimitedSink{inner: sink, limiter: ratelimit.New(cfg)}
}

func (s *rateLimitedSink) Deliver(ctx context.Context, msg message.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.inner.Deliver(ctx, msg)
}

func (s *rateLimitedSink) Stop(ctx context.Context) error {
	return s.inner.Stop(ctx)
}
