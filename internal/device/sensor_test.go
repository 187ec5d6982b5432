package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/mqtt"
)

func sensorDiscovery() Discovery {
	return Discovery{
		Topic: "homeassistant/binary_sensor/kitchen/door/config",
		Payload: map[string]any{
			"name":        "Door",
			"state_topic": "kitchen/door/state",
		},
	}
}

func newTestSensor(t *testing.T, in *gpio.FakeInput, debounceMs int) (*BinarySensor, *mqtt.FakeClient) {
	t.Helper()
	client := mqtt.NewFakeClient()
	s, err := NewBinarySensor(BinarySensorConfig{
		Name:      "door",
		Client:    client,
		Input:     in,
		Discovery: sensorDiscovery(),
		Debounce:  ms(debounceMs),
		Logger:    discard,
	})
	require.NoError(t, err)
	return s, client
}

func TestSensorRegister(t *testing.T) {
	s, client := newTestSensor(t, gpio.NewFakeInput(false), 0)
	require.NoError(t, s.Register())

	msgs := client.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "homeassistant/binary_sensor/kitchen/door/config", msgs[0].Topic)
	assert.JSONEq(t, `{"name":"Door","state_topic":"kitchen/door/state"}`, msgs[0].Payload)
	assert.True(t, msgs[0].Retained)

	assert.Empty(t, s.CommandTopics())
	assert.False(t, s.HandleMessage("kitchen/door/state", []byte("ON")))
}

func TestSensorRequiresStateTopic(t *testing.T) {
	_, err := NewBinarySensor(BinarySensorConfig{
		Name:      "door",
		Client:    mqtt.NewFakeClient(),
		Input:     gpio.NewFakeInput(false),
		Discovery: Discovery{Topic: "x", Payload: map[string]any{}},
	})
	assert.Error(t, err)
}

func TestSensorPublishesDebouncedChanges(t *testing.T) {
	in := gpio.NewFakeInput(false, false, true, true, true)
	s, client := newTestSensor(t, in, 50)

	s.Poll(t0)
	assert.Empty(t, client.Messages(), "no state before baseline")

	s.Poll(t0.Add(ms(60)))
	assert.Equal(t, []string{"OFF"}, client.On("kitchen/door/state"))

	s.Poll(t0.Add(ms(70)))
	s.Poll(t0.Add(ms(100)))
	assert.Equal(t, []string{"OFF"}, client.On("kitchen/door/state"), "still debouncing")

	s.Poll(t0.Add(ms(130)))
	assert.Equal(t, []string{"OFF", "ON"}, client.On("kitchen/door/state"))
	assert.Equal(t, "ON", s.Status().State)
}

func TestSensorForcedRepublish(t *testing.T) {
	s, client := newTestSensor(t, gpio.NewFakeInput(true), 0)

	s.PublishState(true)
	assert.Empty(t, client.Messages(), "unknown state is never published")

	s.Poll(t0)
	s.Poll(t0.Add(ms(10)))
	s.PublishState(true)
	assert.Equal(t, []string{"ON", "ON"}, client.On("kitchen/door/state"))
}

func TestSensorReadError(t *testing.T) {
	in := gpio.NewFakeInput(false)
	in.ReadError = errors.New("io error")
	s, client := newTestSensor(t, in, 0)

	s.Poll(t0)
	assert.Empty(t, client.Messages())
	assert.Equal(t, "io error", s.Status().LastError)

	in.ReadError = nil
	s.Poll(t0.Add(ms(10)))
	assert.Empty(t, s.Status().LastError)
	assert.Equal(t, []string{"OFF"}, client.On("kitchen/door/state"))
}

func TestSensorTeardownClosesInput(t *testing.T) {
	in := gpio.NewFakeInput(false)
	s, _ := newTestSensor(t, in, 0)
	require.NoError(t, s.Teardown(context.Background()))
	assert.True(t, in.Closed)
}
