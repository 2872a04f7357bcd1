package mq

import (
	"context"
	"sync"
)

type publishedMessage struct {
	topic   string
	payload []byte
}

type fakeSession struct {
	mu         sync.Mutex
	events     SessionEvents
	opts       SessionOptions
	connectErr error
	fireOnOpen bool

	connects   int
	subscribed []string
	published  []publishedMessage
	closed     bool
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	err := f.connectErr
	fire := f.fireOnOpen
	f.mu.Unlock()

	if err == nil && fire {
		// paho reports the first handshake through OnConnect as well
		f.events.OnConnect()
	}
	return err
}

func (f *fakeSession) Subscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeSession) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
}

func (f *fakeSession) dropConnection(err error) { f.events.OnConnectionLost(err) }

func (f *fakeSession) reconnect() { f.events.OnConnect() }

func (f *fakeSession) deliver(topic string, payload []byte) { f.events.OnMessage(topic, payload) }

func (f *fakeSession) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published)
}

func (f *fakeSession) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

type fakeFactory struct {
	mu         sync.Mutex
	sessions   []*fakeSession
	connectErr error
	fireOnOpen bool
}

func (ff *fakeFactory) New(opts SessionOptions, events SessionEvents) (Session, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	s := &fakeSession{
		events:     events,
		opts:       opts,
		connectErr: ff.connectErr,
		fireOnOpen: ff.fireOnOpen,
	}
	ff.sessions = append(ff.sessions, s)
	return s, nil
}

func (ff *fakeFactory) last() *fakeSession {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if len(ff.sessions) == 0 {
		return nil
	}
	return ff.sessions[len(ff.sessions)-1]
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []publishedMessage
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

func (t *fakeTransport) Send(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, publishedMessage{topic: topic, payload: payload})
	return nil
}
