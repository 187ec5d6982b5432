// Package status provides a thread-safe status tracker for the gpio-agent
// daemon. It is read by the HTTP handlers and by the heartbeat publisher.
package status

import (
	"sync"
	"time"
)

// DeviceStatus is the state of one device. This is a local copy to avoid
// importing internal/device from status.
type DeviceStatus struct {
	Name      string
	Kind      string
	State     string
	Unit      string
	Profile   string
	LastError string
	UpdatedAt time.Time
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceID    string
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Chip        string
	Profiles    []string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Devices       []DeviceStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the device states.
// Called from runLoop after anything that may change them.
func (t *Tracker) Update(devices []DeviceStatus) {
	cp := make([]DeviceStatus, len(devices))
	copy(cp, devices)
	t.mu.Lock()
	t.snap.Devices = cp
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Devices = append([]DeviceStatus(nil), t.snap.Devices...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
