package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	defaultBufferSize = 256
)

// Options configures a RealClient.
type Options struct {
	Broker   string // e.g. "tcp://192.168.1.200:1883"
	ClientID string
	Username string
	Password string
	QoS      byte
	Topics   Topics

	// BufferSize bounds the number of publishes held while disconnected.
	BufferSize int

	Logger *slog.Logger
}

// RealClient talks to an actual MQTT broker.
//
// It publishes "online" on the availability topic at every connect and
// registers "offline" as the last will. Subscriptions are restored after a
// reconnect, and publishes made while disconnected are buffered and replayed.
type RealClient struct {
	client paho.Client
	opts   Options
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
	buf  *ringBuffer
}

// Connect creates a client and connects to the broker. If the broker does not
// answer within the connect timeout the client keeps retrying in the
// background and Connect returns it anyway, so the agent can run offline.
func Connect(opts Options) (*RealClient, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	c := &RealClient{
		opts: opts,
		log:  opts.Logger,
		subs: make(map[string]MessageHandler),
		buf:  newRingBuffer(opts.BufferSize),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.Availability(), PayloadOffline, opts.QoS, true).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("mqtt connection lost", "error", err)
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.log.Warn("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// handleConnect runs on every (re)connect.
func (c *RealClient) handleConnect() {
	c.log.Info("mqtt connected", "broker", c.opts.Broker)

	if err := c.publishNow(c.opts.Topics.Availability(), []byte(PayloadOnline), true); err != nil {
		c.log.Warn("failed to publish availability", "error", err)
	}

	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	pending := c.buf.drainAll()
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribeNow(topic, h); err != nil {
			c.log.Warn("failed to restore subscription", "topic", topic, "error", err)
		}
	}

	if len(pending) > 0 {
		c.log.Info("replaying buffered messages", "count", len(pending))
	}
	for _, m := range pending {
		if err := c.publishNow(m.topic, m.payload, m.retained); err != nil {
			c.log.Warn("replay failed", "topic", m.topic, "error", err)
		}
	}
}

// Publish sends payload to topic, or buffers it while disconnected.
func (c *RealClient) Publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		if c.buf.push(bufferedMsg{topic: topic, payload: payload, retained: retained}) {
			c.log.Warn("mqtt buffer full, dropping oldest", "capacity", c.opts.BufferSize)
		}
		c.mu.Unlock()
		return nil
	}
	return c.publishNow(topic, payload, retained)
}

func (c *RealClient) publishNow(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, c.opts.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. While disconnected the subscription
// is recorded and made on the next connect.
func (c *RealClient) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribeNow(topic, handler)
}

func (c *RealClient) subscribeNow(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.opts.QoS, c.wrap(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Debug("subscribed", "topic", topic)
	return nil
}

// wrap adapts a MessageHandler and keeps a panicking handler from taking
// down the client's goroutine.
func (c *RealClient) wrap(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}

// IsConnected reports whether the connection to the broker is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close publishes a graceful offline status and disconnects.
func (c *RealClient) Close() error {
	if c.client.IsConnectionOpen() {
		if err := c.publishNow(c.opts.Topics.Availability(), []byte(PayloadOffline), true); err != nil {
			c.log.Warn("failed to publish offline status", "error", err)
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
