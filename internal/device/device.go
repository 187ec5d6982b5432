// Package device binds GPIO lines to Home Assistant entities over MQTT.
//
// The set of devices is closed: a Buzzer drives an output pin through
// actuation profiles, a BinarySensor reports a debounced input, and a
// ValueSensor reports a temperature or humidity read through sysfs. All
// satisfy Device, and a Registry builds them from the entity file, routes
// inbound messages to them and tears them down.
//
// Devices are not safe for concurrent use. The agent calls them from a single
// dispatcher goroutine; engine results are handed back to that goroutine
// through Registry.Results.
package device

import (
	"context"
	"time"
)

// Kind names a device variant as it appears in the entity file.
type Kind string

const (
	KindBuzzer       Kind = "buzzer"
	KindBinarySensor Kind = "binary_sensor"
	KindTemperature  Kind = "temperature_sensor"
	KindHumidity     Kind = "humidity_sensor"
)

// Device is the capability shared by all device variants.
type Device interface {
	Name() string
	Kind() Kind

	// Register publishes the device's discovery payloads.
	Register() error

	// CommandTopics lists the topics the device accepts commands on.
	CommandTopics() []string

	// HandleMessage applies an inbound command. It reports whether the topic
	// belonged to this device.
	HandleMessage(topic string, payload []byte) bool

	// PublishState publishes the device state if it changed since the last
	// publish, or unconditionally when force is set.
	PublishState(force bool)

	// Status returns a snapshot for the status page.
	Status() Status

	// Teardown stops activity, drives outputs to their safe level and
	// releases lines. Lines still in use when ctx ends are not released.
	Teardown(ctx context.Context) error
}

// Status is a point-in-time view of one device.
type Status struct {
	Name      string
	Kind      Kind
	State     string // "ON", "OFF", a reading, or "" when unknown
	Unit      string // value sensors only
	Profile   string // buzzer only
	LastError string
	UpdatedAt time.Time
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
