package mq

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttQoS           = 0
	mqttQuiesceMillis = 250
)

// MQTTSession is a Session over MQTT (tcp://, ssl://, ws:// or wss:// URLs)
type MQTTSession struct {
	client mqtt.Client
	url    string
	logger *zap.Logger
}

// NewMQTTSession creates an MQTT session. The paho client handles
// reconnects itself; the retry interval is capped at the reconnect period.
func NewMQTTSession(opts SessionOptions, events SessionEvents) (Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker.URL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Broker.Username).
		SetPassword(opts.Broker.Password).
		SetKeepAlive(opts.Broker.KeepAlive).
		SetCleanSession(opts.Broker.CleanSession).
		SetConnectTimeout(opts.Broker.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(opts.Broker.ReconnectPeriod).
		SetConnectRetry(false).
		SetOrderMatters(true)

	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		if events.OnConnect != nil {
			events.OnConnect()
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if events.OnConnectionLost != nil {
			events.OnConnectionLost(err)
		}
	})
	clientOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("reconnecting to mqtt broker", zap.String("client_id", opts.ClientID))
	})
	clientOpts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if events.OnMessage != nil {
			events.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	return &MQTTSession{
		client: mqtt.NewClient(clientOpts),
		url:    opts.Broker.URL,
		logger: logger,
	}, nil
}

// Connect performs the MQTT handshake
func (s *MQTTSession) Connect(ctx context.Context) error {
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.url, err)
	}
	return nil
}

// Subscribe subscribes to a single topic; messages arrive on OnMessage
func (s *MQTTSession) Subscribe(ctx context.Context, topic string) error {
	if err := waitToken(ctx, s.client.Subscribe(topic, mqttQoS, nil)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload on topic
func (s *MQTTSession) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := waitToken(ctx, s.client.Publish(topic, mqttQoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects and stops the paho reconnect loop
func (s *MQTTSession) Close() {
	s.client.Disconnect(mqttQuiesceMillis)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
