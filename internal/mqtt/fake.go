package mqtt

import "sync"

// Message is a published message recorded by FakeClient.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// FakeClient records publishes and lets tests deliver inbound messages.
// It is safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// messages contains everything that was published.
	messages []Message

	// subs maps topic to handler.
	subs map[string]MessageHandler

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		subs:      make(map[string]MessageHandler),
		Connected: true,
	}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

// Subscribe records the handler for topic.
func (f *FakeClient) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subs[topic] = handler
	return nil
}

// Deliver invokes the handler subscribed to topic, as the broker would.
// It reports whether a handler was found.
func (f *FakeClient) Deliver(topic, payload string) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, []byte(payload))
	return true
}

// Subscriptions returns the subscribed topics.
func (f *FakeClient) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for t := range f.subs {
		out = append(out, t)
	}
	return out
}

// Messages returns a copy of everything published.
func (f *FakeClient) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// On returns the payloads published on topic, in order.
func (f *FakeClient) On(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.Connected = false
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.PublishError = nil
	f.SubscribeError = nil
}
