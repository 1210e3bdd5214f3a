package endpoint

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

// redisSource subscribes to a pub/sub channel (the endpoint path) and
// emits {channel, payload} per message, the natural pub/sub analogue of
// mqtt for a different wire protocol.
type redisSource struct {
	client  *redis.Client
	channel string
	route   string
}

func newRedisSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	channel := trimLeadingSlash(ep.Path)
	if channel == "" {
		return nil, ferrors.Configf("endpoint.redis", "redis source requires a channel path")
	}
	client := redis.NewClient(&redis.Options{Addr: ep.Authority(), Password: ep.Password})
	return &redisSource{client: client, channel: channel, route: deps.Route}, nil
}

func (r *redisSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return ferrors.SourceFatal(r.route, "endpoint.redis.subscribe", errChannelClosed)
			}
			msg := message.New("redis://"+r.channel, r.route, map[string]any{
				"channel": m.Channel,
				"payload": m.Payload,
			})
			if err := emit(ctx, msg); err != nil {
				return nil
			}
		}
	}
}

func (r *redisSource) Stop(ctx context.Context) error {
	return r.client.Close()
}

// redisSink publishes the message body to a channel.
type redisSink struct {
	client  *redis.Client
	channel string
}

func newRedisSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	channel := trimLeadingSlash(ep.Path)
	if channel == "" {
		return nil, ferrors.Configf("endpoint.redis", "redis sink requires a channel path")
	}
	client := redis.NewClient(&redis.Options{Addr: ep.Authority(), Password: ep.Password})
	return &redisSink{client: client, channel: channel}, nil
}

func (r *redisSink) Deliver(ctx context.Context, msg message.Message) error {
	if err := r.client.Publish(ctx, r.channel, bodyBytes(msg)).Err(); err != nil {
		return ferrors.Delivery("", "endpoint.redis.publish", err)
	}
	return nil
}

func (r *redisSink) Stop(ctx context.Context) error {
	return r.client.Close()
}

var errChannelClosed = errors.New("redis subscription channel closed")
