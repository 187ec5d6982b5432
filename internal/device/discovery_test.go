package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entitiesJSON = `[
  {
    "entities": [
      {
        "type": "buzzer",
        "name": "buzzer",
        "pin": 17,
        "buzzer_switch": {
          "ha_discovery_topic": "homeassistant/switch/{device_id}/buzzer/config",
          "ha_discovery_payload": {
            "name": "Buzzer {device_id}",
            "command_topic": "{device_id}/buzzer/set",
            "state_topic": "{device_id}/buzzer/state"
          }
        },
        "buzzer_profile": {
          "ha_discovery_topic": "homeassistant/select/{device_id}/buzzer_profile/config",
          "ha_discovery_payload": {
            "command_topic": "{device_id}/buzzer/profile/set",
            "state_topic": "{device_id}/buzzer/profile/state"
          }
        }
      }
    ]
  },
  {
    "entities": [
      {
        "type": "binary_sensor",
        "name": "door",
        "pin": 27,
        "active_low": true,
        "debounce_ms": 250,
        "ha_discovery_topic": "homeassistant/binary_sensor/{device_id}/door/config",
        "ha_discovery_payload": {
          "state_topic": "{device_id}/door/state",
          "device": {"identifiers": ["{device_id}"]}
        }
      }
    ]
  }
]`

func TestParseEntitiesSubstitutesPlaceholders(t *testing.T) {
	entities, err := ParseEntities([]byte(entitiesJSON), map[string]string{"device_id": "kitchen"})
	require.NoError(t, err)
	require.Len(t, entities, 2)

	b := entities[0]
	assert.Equal(t, "buzzer", b.Type)
	require.NotNil(t, b.Pin)
	assert.Equal(t, 17, *b.Pin)
	require.NotNil(t, b.BuzzerSwitch)
	assert.Equal(t, "homeassistant/switch/kitchen/buzzer/config", b.BuzzerSwitch.Topic)
	assert.Equal(t, "Buzzer kitchen", b.BuzzerSwitch.Field("name"))
	assert.Equal(t, "kitchen/buzzer/profile/set", b.BuzzerProfile.Field("command_topic"))

	s := entities[1]
	assert.Equal(t, "binary_sensor", s.Type)
	assert.True(t, s.ActiveLow)
	assert.Equal(t, 250, s.DebounceMs)
	assert.Equal(t, "homeassistant/binary_sensor/kitchen/door/config", s.Topic)
	assert.Equal(t, "kitchen/door/state", s.Field("state_topic"))

	device := s.Payload["device"].(map[string]any)
	assert.Equal(t, []any{"kitchen"}, device["identifiers"])
}

func TestParseEntitiesMalformed(t *testing.T) {
	_, err := ParseEntities([]byte(`[{"entities": [`), nil)
	assert.Error(t, err)

	_, err = ParseEntities([]byte(`{"entities": []}`), nil)
	assert.Error(t, err, "top level must be a list of groups")
}

func TestLoadEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mqtt_topics.json")
	require.NoError(t, os.WriteFile(path, []byte(entitiesJSON), 0o644))

	entities, err := LoadEntities(path, map[string]string{"device_id": "na"})
	require.NoError(t, err)
	assert.Len(t, entities, 2)

	_, err = LoadEntities(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestReplacePlaceholdersLeavesOtherValues(t *testing.T) {
	in := map[string]any{
		"n":    float64(3),
		"ok":   true,
		"nil":  nil,
		"s":    "{a}-{b}-{c}",
		"list": []any{"{a}", 1.5},
	}
	out := ReplacePlaceholders(in, map[string]string{"a": "x", "b": "y"}).(map[string]any)

	assert.Equal(t, float64(3), out["n"])
	assert.Equal(t, true, out["ok"])
	assert.Nil(t, out["nil"])
	assert.Equal(t, "x-y-{c}", out["s"])
	assert.Equal(t, []any{"x", 1.5}, out["list"])
	assert.Equal(t, "{a}-{b}-{c}", in["s"], "input is not modified")
}

func TestDiscoveryWithCopies(t *testing.T) {
	d := selectDiscovery()
	withOpts := d.with("options", []string{"a", "b"})

	_, present := d.Payload["options"]
	assert.False(t, present)

	data, err := withOpts.marshal()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{"a", "b"}, decoded["options"])
	assert.Equal(t, "kitchen/buzzer/profile/state", decoded["state_topic"])
}
