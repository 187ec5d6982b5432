// Package mqtt provides MQTT publish/subscribe with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// TopicHAStatus is where Home Assistant announces its own availability.
// An "online" message means it restarted and needs state republished.
const TopicHAStatus = "homeassistant/status"

// Availability payloads published on the agent's availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// MessageHandler is called for each message received on a subscribed topic.
// Handlers run in arrival order on the MQTT library's goroutine and must not
// block for long.
type MessageHandler func(topic string, payload []byte)

// Client publishes and subscribes on an MQTT broker.
type Client interface {
	// Publish sends payload to topic. Retained messages are kept by the broker
	// for late subscribers. Returns error if publishing fails (should not crash
	// the process).
	Publish(topic string, payload []byte, retained bool) error

	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, handler MessageHandler) error

	// Close disconnects from the broker.
	Close() error

	ConnectionStatus
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics derives the agent's own topics from a prefix such as
// "gpio-agent/kitchen".
type Topics struct {
	Prefix string
}

// Availability is the LWT topic carrying online/offline.
func (t Topics) Availability() string { return t.Prefix + "/availability" }

// System is the topic for lifecycle events.
func (t Topics) System() string { return t.Prefix + "/system" }

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// PublishSystem formats event and publishes it on the system topic.
func PublishSystem(c Client, topics Topics, event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	return c.Publish(topics.System(), payload, event.Retained)
}
