package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	DeviceID      string       `json:"device_id"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Devices       []DeviceJSON `json:"devices"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DeviceJSON is the JSON representation of one device.
type DeviceJSON struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Unit      string `json:"unit,omitempty"`
	Profile   string `json:"profile,omitempty"`
	LastError string `json:"last_error,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64    `json:"poll_ms"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
	Broker      string   `json:"broker"`
	HTTPAddr    string   `json:"http_addr"`
	Chip        string   `json:"gpio_chip"`
	Profiles    []string `json:"profiles"`
}

func deviceJSON(d DeviceStatus) DeviceJSON {
	state := d.State
	if state == "" {
		state = "UNKNOWN"
	}
	dj := DeviceJSON{
		Name:      d.Name,
		Kind:      d.Kind,
		State:     state,
		Unit:      d.Unit,
		Profile:   d.Profile,
		LastError: d.LastError,
	}
	if !d.UpdatedAt.IsZero() {
		dj.UpdatedAt = d.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return dj
}

func buildInner(snap Snapshot) StatusInner {
	devices := make([]DeviceJSON, len(snap.Devices))
	for i, d := range snap.Devices {
		devices[i] = deviceJSON(d)
	}

	profiles := snap.Config.Profiles
	if profiles == nil {
		profiles = []string{}
	}

	return StatusInner{
		DeviceID:      snap.Config.DeviceID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Devices:       devices,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Chip:        snap.Config.Chip,
			Profiles:    profiles,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatDeviceJSON returns the JSON for the named device, or false if the
// snapshot has no such device.
func FormatDeviceJSON(snap Snapshot, name string) ([]byte, bool) {
	for _, d := range snap.Devices {
		if d.Name == name {
			data, _ := json.MarshalIndent(deviceJSON(d), "", "  ")
			return data, true
		}
	}
	return nil, false
}
