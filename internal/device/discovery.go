package device

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Discovery is a Home Assistant MQTT discovery block: the config topic and
// the JSON payload announced on it.
type Discovery struct {
	Topic   string         `json:"ha_discovery_topic"`
	Payload map[string]any `json:"ha_discovery_payload"`
}

// Field returns a string field of the payload ("" if absent).
func (d Discovery) Field(key string) string {
	s, _ := d.Payload[key].(string)
	return s
}

// with returns a copy of d whose payload has key set to value.
func (d Discovery) with(key string, value any) Discovery {
	p := make(map[string]any, len(d.Payload)+1)
	for k, v := range d.Payload {
		p[k] = v
	}
	p[key] = value
	return Discovery{Topic: d.Topic, Payload: p}
}

func (d Discovery) marshal() ([]byte, error) {
	return json.Marshal(d.Payload)
}

// EntityConfig describes one device in the entity file.
type EntityConfig struct {
	Type string `json:"type"`
	Name string `json:"name"`

	// Pin is the BCM line offset; nil falls back to the agent default.
	Pin *int `json:"pin"`

	// Buzzer settings.
	Profiles      string     `json:"profiles"`
	BuzzerSwitch  *Discovery `json:"buzzer_switch"`
	BuzzerProfile *Discovery `json:"buzzer_profile"`

	// Binary sensor settings.
	ActiveLow  bool `json:"active_low"`
	DebounceMs int  `json:"debounce_ms"`

	// Temperature and humidity sensor settings. W1Device names a DS18B20;
	// Path names an IIO or hwmon attribute whose raw value is multiplied by
	// Scale (default 0.001).
	W1Device   string   `json:"w1_device"`
	Path       string   `json:"path"`
	Scale      *float64 `json:"scale"`
	IntervalMs int      `json:"interval_ms"`
	Precision  *int     `json:"precision"`

	Discovery
}

type entityGroup struct {
	Entities []EntityConfig `json:"entities"`
}

// LoadEntities reads the entity file, substitutes placeholders such as
// {device_id} in every string value, and returns the entities of all groups
// in order.
func LoadEntities(path string, vars map[string]string) ([]EntityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	return ParseEntities(data, vars)
}

// ParseEntities is LoadEntities for in-memory data.
func ParseEntities(data []byte, vars map[string]string) ([]EntityConfig, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	substituted, err := json.Marshal(ReplacePlaceholders(raw, vars))
	if err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}

	var groups []entityGroup
	if err := json.Unmarshal(substituted, &groups); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	var out []EntityConfig
	for _, g := range groups {
		out = append(out, g.Entities...)
	}
	return out, nil
}

// ReplacePlaceholders walks a decoded JSON value and replaces every
// "{name}" in its strings with vars[name]. Maps and slices are copied.
func ReplacePlaceholders(v any, vars map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ReplacePlaceholders(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ReplacePlaceholders(val, vars)
		}
		return out
	case string:
		for name, val := range vars {
			t = strings.ReplaceAll(t, "{"+name+"}", val)
		}
		return t
	default:
		return v
	}
}
