package endpoint

import (
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// RegisterAll installs every built-in source/sink driver into reg. Sinks
// that honor a `rate=` query parameter are wrapped with withRateLimit, and
// sinks that honor `circuit_breaker=true` are wrapped with
// withCircuitBreaker, at registration time so each driver stays ignorant
// of rate limiting and failure isolation.
func RegisterAll(reg *registry.Registry) {
	reg.RegisterSource("timer", newTimerSource)
	reg.RegisterSource("file", newFileSource)
	reg.RegisterSource("http", newHTTPSource)
	reg.RegisterSource("webhook", newHTTPSource)
	reg.RegisterSource("mqtt", newMQTTSource)
	reg.RegisterSource("redis", newRedisSource)
	reg.RegisterSource("ws", newWSSource)
	reg.RegisterSource("grpc", newNotImplementedSource("grpc"))
	reg.RegisterSource("rtsp", newNotImplementedSource("rtsp"))
	reg.RegisterSource("email", newNotImplementedSource("email"))

	reg.RegisterSink("file", newFileSink)
	reg.RegisterSink("log", newLogSink)
	reg.RegisterSink("http", guarded(newHTTPSink))
	reg.RegisterSink("webhook", guarded(newWebhookSink))
	reg.RegisterSink("mqtt", guarded(newMQTTSink))
	reg.RegisterSink("redis", guarded(newRedisSink))
	reg.RegisterSink("ws", guarded(newWSSink))
	reg.RegisterSink("grpc", newNotImplementedSink("grpc"))
	reg.RegisterSink("rtsp", newNotImplementedSink("rtsp"))
	reg.RegisterSink("email", newNotImplementedSink("email"))
}

// guarded adapts a SinkFactory so its product is wrapped with
// withRateLimit and withCircuitBreaker, honoring the destination URI's
// `rate=` and `circuit_breaker=` parameters.
func guarded(f registry.SinkFactory) registry.SinkFactory {
	return func(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
		sink, err := f(ep, deps)
		if err != nil {
			return nil, err
		}
		return withCircuitBreaker(withRateLimit(sink, ep), ep), nil
	}
}
