package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/pawtelligent-feeder/internal/config"
	"go.uber.org/zap"
)

// Session is one underlying pub/sub session to the broker. Implementations
// own their reconnect policy and report transitions through SessionEvents.
type Session interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// SessionEvents are the callbacks a Session invokes. OnConnect fires after
// every successful (re)connection, OnConnectionLost after every drop.
type SessionEvents struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte)
}

// SessionOptions holds what a Session needs to dial the broker
type SessionOptions struct {
	Broker   config.BrokerConfig
	ClientID string
	Logger   *zap.Logger
}

// SessionFactory builds an unconnected Session
type SessionFactory func(opts SessionOptions, events SessionEvents) (Session, error)

// FactoryFor returns the session factory for the configured transport
func FactoryFor(transport string) (SessionFactory, error) {
	switch transport {
	case "mqtt":
		return NewMQTTSession, nil
	case "amqp":
		return NewAMQPSession, nil
	default:
		return nil, fmt.Errorf("unknown broker transport %q", transport)
	}
}

// NewClientID returns a per-launch client identifier so that two running
// instances never share a broker session
func NewClientID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if prefix == "" {
		return suffix
	}
	return prefix + "_" + suffix
}
