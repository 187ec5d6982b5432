package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "gpio-agent/kitchen"}
	assert.Equal(t, "gpio-agent/kitchen/availability", topics.Availability())
	assert.Equal(t, "gpio-agent/kitchen/system", topics.System())
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	require.NoError(t, err)

	var parsed SystemPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "2026-02-02T22:18:12Z", parsed.System.Timestamp)
	assert.Equal(t, "SHUTDOWN", parsed.System.Event)
	assert.Equal(t, "SIGTERM", parsed.System.Reason)
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "reason")
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestPublishSystem(t *testing.T) {
	f := NewFakeClient()
	topics := Topics{Prefix: "gpio-agent/hall"}

	err := PublishSystem(f, topics, SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	require.NoError(t, err)

	msgs := f.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "gpio-agent/hall/system", msgs[0].Topic)
	assert.True(t, msgs[0].Retained)
	assert.Contains(t, msgs[0].Payload, `"event":"STARTUP"`)
}

func TestFakeClientPublish(t *testing.T) {
	f := NewFakeClient()
	require.NoError(t, f.Publish("a/state", []byte("ON"), true))
	require.NoError(t, f.Publish("b/state", []byte("x"), false))
	require.NoError(t, f.Publish("a/state", []byte("OFF"), true))

	assert.Equal(t, []string{"ON", "OFF"}, f.On("a/state"))
	assert.Len(t, f.Messages(), 3)

	f.PublishError = errors.New("simulated error")
	assert.Error(t, f.Publish("a/state", []byte("ON"), true))
	assert.Len(t, f.Messages(), 3, "nothing recorded on error")

	f.Reset()
	assert.Empty(t, f.Messages())
	assert.NoError(t, f.Publish("a/state", []byte("ON"), true))
}

func TestFakeClientDeliver(t *testing.T) {
	f := NewFakeClient()
	var got []string
	require.NoError(t, f.Subscribe("cmd/set", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))

	assert.True(t, f.Deliver("cmd/set", "ON"))
	assert.False(t, f.Deliver("other/set", "ON"))
	assert.Equal(t, []string{"cmd/set=ON"}, got)
	assert.Equal(t, []string{"cmd/set"}, f.Subscriptions())
}

func TestFakeClientClose(t *testing.T) {
	f := NewFakeClient()
	assert.True(t, f.IsConnected())
	require.NoError(t, f.Close())
	assert.True(t, f.Closed)
	assert.False(t, f.IsConnected())
}
