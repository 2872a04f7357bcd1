package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned when an AMQP session is opened after Close
var ErrSessionClosed = errors.New("amqp session closed")

// AMQPSession is a Session against RabbitMQ. Device firmware talks MQTT to
// the broker's MQTT plugin, which maps every MQTT topic onto a routing key
// of the topic exchange (amq.topic by default), so both sides meet on the
// same bindings.
type AMQPSession struct {
	opts   SessionOptions
	events SessionEvents
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	done      chan struct{}
	closeOnce sync.Once
}

// NewAMQPSession creates an AMQP session
func NewAMQPSession(opts SessionOptions, events SessionEvents) (Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Broker.Exchange == "" {
		return nil, errors.New("amqp transport requires an exchange")
	}
	return &AMQPSession{
		opts:   opts,
		events: events,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// RoutingKeyFor converts an MQTT topic to its AMQP routing key. The MQTT
// plugin swaps '/' and '.', so "/device/storage" becomes ".device.storage".
func RoutingKeyFor(topic string) string {
	return swapSeparators(topic)
}

// TopicForRoutingKey is the inverse of RoutingKeyFor
func TopicForRoutingKey(key string) string {
	return swapSeparators(key)
}

func swapSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/':
			return '.'
		case '.':
			return '/'
		}
		return r
	}, s)
}

// Connect dials the broker and starts consuming on a private queue
func (s *AMQPSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.open()
}

func (s *AMQPSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *AMQPSession) open() error {
	if s.closed() {
		return ErrSessionClosed
	}

	cfg := amqp.Config{
		Heartbeat: s.opts.Broker.KeepAlive,
		Dial:      amqp.DefaultDial(s.opts.Broker.ConnectTimeout),
		Properties: amqp.Table{
			"connection_name": s.opts.ClientID,
		},
	}
	if s.opts.Broker.Username != "" {
		cfg.SASL = []amqp.Authentication{&amqp.PlainAuth{
			Username: s.opts.Broker.Username,
			Password: s.opts.Broker.Password,
		}}
	}

	conn, err := amqp.DialConfig(s.opts.Broker.URL, cfg)
	if err != nil {
		return fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) BROKER_URL is correct, 3) Credentials are valid. Error: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := s.declareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	// Server-named queue that lives only as long as this connection,
	// which is what a clean session means on the MQTT side
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		s.opts.ClientID, // consumer tag
		true,            // auto-ack
		true,            // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.mu.Lock()
	if s.closed() {
		// Close ran while dialing
		s.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.channel = ch
	s.queue = q.Name
	s.mu.Unlock()

	go s.consume(msgs)
	go s.watch(conn)

	return nil
}

func (s *AMQPSession) declareExchange(ch *amqp.Channel) error {
	var err error
	if strings.HasPrefix(s.opts.Broker.Exchange, "amq.") {
		// amq.* exchanges are predeclared and reserved
		err = ch.ExchangeDeclarePassive(s.opts.Broker.Exchange, "topic", true, false, false, false, nil)
	} else {
		err = ch.ExchangeDeclare(
			s.opts.Broker.Exchange,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
	}
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func (s *AMQPSession) consume(msgs <-chan amqp.Delivery) {
	for msg := range msgs {
		if s.events.OnMessage != nil {
			s.events.OnMessage(TopicForRoutingKey(msg.RoutingKey), msg.Body)
		}
	}
}

func (s *AMQPSession) watch(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-s.done:
		return
	case amqpErr, ok := <-closed:
		var err error = amqp.ErrClosed
		if ok && amqpErr != nil {
			err = amqpErr
		}
		select {
		case <-s.done:
			return
		default:
		}
		if s.events.OnConnectionLost != nil {
			s.events.OnConnectionLost(err)
		}
		s.reconnect()
	}
}

// reconnect retries at a fixed interval until it succeeds or Close is called
func (s *AMQPSession) reconnect() {
	period := s.opts.Broker.ReconnectPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.logger.Info("reconnecting to rabbitmq", zap.String("client_id", s.opts.ClientID))
			if err := s.open(); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return
				}
				s.logger.Warn("rabbitmq reconnect failed", zap.Error(err))
				continue
			}
			if s.events.OnConnect != nil {
				s.events.OnConnect()
			}
			return
		}
	}
}

// Subscribe binds the private queue to the topic's routing key
func (s *AMQPSession) Subscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return amqp.ErrClosed
	}
	if err := s.channel.QueueBind(s.queue, RoutingKeyFor(topic), s.opts.Broker.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload to the exchange under the topic's routing key
func (s *AMQPSession) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return amqp.ErrClosed
	}
	err := s.channel.PublishWithContext(
		ctx,
		s.opts.Broker.Exchange,
		RoutingKeyFor(topic),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close stops reconnecting and closes the channel and connection
func (s *AMQPSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			s.logger.Warn("failed to close rabbitmq channel", zap.Error(err))
		}
		s.channel = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			s.logger.Warn("failed to close rabbitmq connection", zap.Error(err))
		}
		s.conn = nil
	}
}
