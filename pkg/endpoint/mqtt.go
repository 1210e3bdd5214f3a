package endpoint

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
	"github.com/flowctl/flowctl/pkg/registry"
	"github.com/flowctl/flowctl/pkg/uri"
)

func brokerURL(ep uri.Endpoint) string {
	return fmt.Sprintf("tcp://%s", ep.Authority())
}

// mqttSource subscribes to topic (the endpoint path) and emits one message
// per received payload.
type mqttSource struct {
	client mqtt.Client
	topic  string
	route  string
}

func newMQTTSource(ep uri.Endpoint, deps registry.Deps) (registry.Source, error) {
	topic := trimLeadingSlash(ep.Path)
	if topic == "" {
		return nil, ferrors.Configf("endpoint.mqtt", "mqtt source requires a topic path")
	}
	opts := mqtt.NewClientOptions().AddBroker(brokerURL(ep)).SetClientID("flowctl-" + deps.Route)
	if ep.User != "" {
		opts.SetUsername(ep.User).SetPassword(ep.Password)
	}
	return &mqttSource{client: mqtt.NewClient(opts), topic: topic, route: deps.Route}, nil
}

func (m *mqttSource) Start(ctx context.Context, emit registry.EmitFunc) error {
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return ferrors.SourceFatal(m.route, "endpoint.mqtt.connect", token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		out := message.New("mqtt://"+m.topic, m.route, map[string]any{
			"topic":   msg.Topic(),
			"payload": string(msg.Payload()),
			"qos":     int64(msg.Qos()),
		})
		_ = emit(ctx, out)
	}
	if token := m.client.Subscribe(m.topic, 0, handler); token.Wait() && token.Error() != nil {
		return ferrors.SourceFatal(m.route, "endpoint.mqtt.subscribe", token.Error())
	}

	<-ctx.Done()
	m.client.Unsubscribe(m.topic)
	m.client.Disconnect(250)
	return nil
}

func (m *mqttSource) Stop(ctx context.Context) error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

// mqttSink publishes the message body to topic at QoS 0.
type mqttSink struct {
	client mqtt.Client
	topic  string
}

func newMQTTSink(ep uri.Endpoint, deps registry.Deps) (registry.Sink, error) {
	topic := trimLeadingSlash(ep.Path)
	if topic == "" {
		return nil, ferrors.Configf("endpoint.mqtt", "mqtt sink requires a topic path")
	}
	opts := mqtt.NewClientOptions().AddBroker(brokerURL(ep)).SetClientID("flowctl-sink-" + deps.Route)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, ferrors.EndpointStart(deps.Route, "endpoint.mqtt.connect", token.Error())
	}
	return &mqttSink{client: client, topic: topic}, nil
}

func (m *mqttSink) Deliver(ctx context.Context, msg message.Message) error {
	token := m.client.Publish(m.topic, 0, false, bodyBytes(msg))
	if !token.WaitTimeout(30 * time.Second) {
		return ferrors.Delivery("", "endpoint.mqtt.publish", fmt.Errorf("publish timed out"))
	}
	if err := token.Error(); err != nil {
		return ferrors.Delivery("", "endpoint.mqtt.publish", err)
	}
	return nil
}

func (m *mqttSink) Stop(ctx context.Context) error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
