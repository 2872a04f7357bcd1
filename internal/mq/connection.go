package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyConnected is returned by Connect while a session is open
	ErrAlreadyConnected = errors.New("broker session already open")
	// ErrNotConnected is returned when sending without a live session
	ErrNotConnected = errors.New("broker not connected")
)

// Status is a point-in-time view of the broker connection
type Status struct {
	Connected bool   `json:"connected"`
	ClientID  string `json:"client_id,omitempty"`
	Transport string `json:"transport"`
	Broker    string `json:"broker"`
}

// Manager owns the single broker session of the process
type Manager struct {
	cfg     config.BrokerConfig
	factory SessionFactory
	router  *Router
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	session  Session
	clientID string
	hooks    []func()

	connected atomic.Bool
}

// NewManager creates a disconnected manager
func NewManager(cfg config.BrokerConfig, factory SessionFactory, router *Router, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		factory: factory,
		router:  router,
		logger:  logger,
		metrics: m,
	}
}

// Router returns the router inbound messages are dispatched to
func (m *Manager) Router() *Router {
	return m.router
}

// IsConnected reports whether the session is currently up
func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// Status returns the current connection status
func (m *Manager) Status() Status {
	m.mu.Lock()
	clientID := m.clientID
	m.mu.Unlock()

	return Status{
		Connected: m.IsConnected(),
		ClientID:  clientID,
		Transport: m.cfg.Transport,
		Broker:    logging.RedactURL(m.cfg.URL),
	}
}

// OnConnect registers a hook run after every successful (re)connection,
// once the inbound topics are subscribed. Hooks survive Disconnect.
func (m *Manager) OnConnect(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook)
}

// Connect opens the broker session and waits for the handshake, bounded by
// the configured connect timeout. It does not retry on failure.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}

	clientID := NewClientID(m.cfg.ClientIDPrefix)
	var sess Session
	events := SessionEvents{
		OnConnect:        func() { m.handleConnect(sess) },
		OnConnectionLost: func(err error) { m.handleConnectionLost(sess, err) },
		OnMessage:        m.router.Dispatch,
	}

	sess, err := m.factory(SessionOptions{Broker: m.cfg, ClientID: clientID, Logger: m.logger}, events)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to create broker session: %w", err)
	}
	m.session = sess
	m.clientID = clientID
	m.mu.Unlock()

	m.logger.Info("attempting to connect to broker...",
		zap.String("transport", m.cfg.Transport),
		zap.String("broker", logging.RedactURL(m.cfg.URL)),
		zap.String("client_id", clientID),
	)

	connectCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := sess.Connect(connectCtx); err != nil {
		m.logger.Error("broker connection failed", zap.Error(err))
		sess.Close()

		m.mu.Lock()
		if m.session == sess {
			m.session = nil
		}
		m.mu.Unlock()

		return fmt.Errorf("[BROKER CONNECTION FAILED] cannot connect to %s: %w", logging.RedactURL(m.cfg.URL), err)
	}

	m.handleConnect(sess)
	return nil
}

// Disconnect closes the session and clears every registered listener
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	if sess == nil {
		return
	}

	sess.Close()
	m.connected.Store(false)
	m.metrics.BrokerConnected.Set(0)
	m.router.Clear()
	m.logger.Info("broker connection closed")
}

// Send hands payload to the live session
func (m *Manager) Send(ctx context.Context, topic string, payload []byte) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}
	return sess.Publish(ctx, topic, payload)
}

func (m *Manager) current(sess Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sess != nil && m.session == sess
}

// handleConnect runs on the initial connect and on every reconnect. Both
// Connect and the session callback may report the same handshake; only the
// first transition to connected does the work.
func (m *Manager) handleConnect(sess Session) {
	if !m.current(sess) {
		return
	}
	if !m.connected.CompareAndSwap(false, true) {
		return
	}

	m.metrics.BrokerConnected.Set(1)
	m.logger.Info("broker connection established successfully")

	m.subscribeToTopics(sess)

	m.mu.Lock()
	hooks := make([]func(), len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// handleConnectionLost keeps listeners so delivery resumes after reconnect
func (m *Manager) handleConnectionLost(sess Session, err error) {
	if !m.current(sess) {
		return
	}
	if m.connected.CompareAndSwap(true, false) {
		m.metrics.BrokerConnected.Set(0)
		m.logger.Warn("broker connection lost", zap.Error(err))
	}
}

func (m *Manager) subscribeToTopics(sess Session) {
	ctx := context.Background()
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	for _, topic := range InboundTopics {
		if err := sess.Subscribe(ctx, topic); err != nil {
			m.logger.Error("failed to subscribe", zap.String("topic", topic), zap.Error(err))
			continue
		}
		m.logger.Info("subscribed", zap.String("topic", topic))
	}
}
