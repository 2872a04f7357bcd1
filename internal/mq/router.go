package mq

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"go.uber.org/zap"
)

// Message is a parsed inbound broker message
type Message struct {
	Topic string
	Data  map[string]any
	Raw   []byte
}

// Decode unmarshals the raw payload into v
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Number returns a numeric field of the payload
func (m Message) Number(key string) (float64, bool) {
	v, ok := m.Data[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Listener receives messages for the topics it is registered on. Listener
// values are compared with ==, so registering the same value twice is a
// no-op; use pointer receivers.
type Listener interface {
	HandleMessage(msg Message)
}

type funcListener struct {
	fn func(Message)
}

func (l *funcListener) HandleMessage(msg Message) { l.fn(msg) }

// Registration is the token returned by AddListener
type Registration struct {
	router   *Router
	topic    string
	listener Listener
}

// Remove unregisters the listener; safe to call more than once. A token
// that was already removed leaves a later registration of the same
// listener in place.
func (r *Registration) Remove() {
	if r == nil {
		return
	}
	r.router.remove(r.topic, r.listener, r)
}

// Topic returns the topic the registration is bound to
func (r *Registration) Topic() string {
	return r.topic
}

// Router fans inbound messages out to the listeners of their topic
type Router struct {
	mu        sync.RWMutex
	listeners map[string]map[Listener]*Registration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		listeners: make(map[string]map[Listener]*Registration),
		logger:    logger,
		metrics:   m,
	}
}

// AddListener registers l on topic. Adding a listener that is already
// registered returns the existing registration. A nil listener is ignored
// and yields a nil registration.
func (r *Router) AddListener(topic string, l Listener) *Registration {
	if isNil(l) {
		return nil
	}
	if !reflect.TypeOf(l).Comparable() {
		// Non-comparable values (func types, slices) cannot be map keys
		l = &funcListener{fn: l.HandleMessage}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[topic]
	if !ok {
		set = make(map[Listener]*Registration)
		r.listeners[topic] = set
	}
	if reg, exists := set[l]; exists {
		return reg
	}
	reg := &Registration{router: r, topic: topic, listener: l}
	set[l] = reg
	return reg
}

// HandleFunc registers fn on topic. Every call creates a new registration.
func (r *Router) HandleFunc(topic string, fn func(Message)) *Registration {
	if fn == nil {
		return nil
	}
	return r.AddListener(topic, &funcListener{fn: fn})
}

// RemoveListener unregisters l from topic; no-op if it is not registered
func (r *Router) RemoveListener(topic string, l Listener) {
	r.remove(topic, l, nil)
}

// remove drops l from topic. With a non-nil token only that registration
// is dropped.
func (r *Router) remove(topic string, l Listener, token *Registration) {
	if isNil(l) || !reflect.TypeOf(l).Comparable() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[topic]
	if !ok {
		return
	}
	reg, ok := set[l]
	if !ok || (token != nil && reg != token) {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.listeners, topic)
	}
}

func isNil(l Listener) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Clear removes every listener
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = make(map[string]map[Listener]*Registration)
}

// ListenerCount returns how many listeners are registered on topic
func (r *Router) ListenerCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.listeners[topic])
}

// Dispatch parses raw as a JSON object and invokes every listener of topic
// with it. Malformed payloads are dropped. Dispatch never panics.
func (r *Router) Dispatch(topic string, raw []byte) {
	logger := logging.WithTopic(r.logger, topic)

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		logger.Error("invalid broker message, dropping",
			zap.Error(err),
			zap.Int("body_size", len(raw)),
		)
		r.metrics.MessagesDropped.WithLabelValues(topic, "invalid_json").Inc()
		return
	}

	r.mu.RLock()
	targets := make([]Listener, 0, len(r.listeners[topic]))
	for l := range r.listeners[topic] {
		targets = append(targets, l)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		logger.Debug("no listeners for topic")
		return
	}

	msg := Message{Topic: topic, Data: data, Raw: raw}
	for _, l := range targets {
		r.invoke(logger, l, msg)
	}
	r.metrics.MessagesDispatched.WithLabelValues(topic).Inc()
}

func (r *Router) invoke(logger *zap.Logger, l Listener, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("listener panicked", zap.Any("panic", rec))
		}
	}()
	l.HandleMessage(msg)
}
