package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/gpio-agent/internal/actuator"
	"github.com/sweeney/gpio-agent/internal/config"
	"github.com/sweeney/gpio-agent/internal/device"
	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/mqtt"
	"github.com/sweeney/gpio-agent/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const testEntities = `[{"entities": [
  {
    "type": "buzzer", "name": "buzzer", "pin": 18,
    "buzzer_switch": {
      "ha_discovery_topic": "homeassistant/switch/{device_id}/buzzer/config",
      "ha_discovery_payload": {"command_topic": "{device_id}/buzzer/set", "state_topic": "{device_id}/buzzer/state"}
    },
    "buzzer_profile": {
      "ha_discovery_topic": "homeassistant/select/{device_id}/buzzer_profile/config",
      "ha_discovery_payload": {"command_topic": "{device_id}/buzzer/profile/set", "state_topic": "{device_id}/buzzer/profile/state"}
    }
  },
  {
    "type": "binary_sensor", "name": "door", "pin": 23,
    "ha_discovery_topic": "homeassistant/binary_sensor/{device_id}/door/config",
    "ha_discovery_payload": {"state_topic": "{device_id}/door/state"}
  }
]}]`

const testProfiles = `[
  {"name": "alarm", "repeat": "~", "pattern": [["ON", 200], ["OFF", 200]]},
  {"name": "beep", "repeat": 1, "pattern": [["ON", 100]]}
]`

type harness struct {
	agent  *agent
	client *mqtt.FakeClient
	opener *gpio.FakeOpener
	clock  *actuator.FakeClock

	inbox     chan inbound
	tick      chan time.Time
	heartbeat chan time.Time
	sig       chan os.Signal
	cancel    context.CancelFunc

	finished chan struct{}
	err      error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	profiles := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(profiles, []byte(testProfiles), 0o644))

	entities, err := device.ParseEntities([]byte(testEntities), map[string]string{"device_id": "hall"})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		client:    mqtt.NewFakeClient(),
		opener:    gpio.NewFakeOpener(),
		clock:     actuator.NewFakeClock(t0),
		inbox:     make(chan inbound, 8),
		tick:      make(chan time.Time),
		heartbeat: make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		finished:  make(chan struct{}),
	}
	h.opener.Now = h.clock.Now

	registry := device.NewRegistry(entities, device.Options{
		Client:           h.client,
		Opener:           h.opener,
		DefaultBuzzerPin: -1,
		DefaultProfiles:  profiles,
		Logger:           log,
		Clock:            h.clock,
	})
	registry.Register()

	h.agent = &agent{
		registry: registry,
		client:   h.client,
		topics:   mqtt.Topics{Prefix: "gpio-agent/hall"},
		tracker:  status.NewTracker(t0, status.Config{DeviceID: "hall"}),
		log:      log,
		now:      func() time.Time { return t0 },
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.agent.runLoop(ctx, h.inbox, h.tick, h.heartbeat, h.sig)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.finished
	})
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.finished:
		require.NoError(t, h.err)
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	h.wait(t)
}

// buzzerState is the buzzer's state as the status tracker last saw it.
func (h *harness) buzzerState() string {
	snap := h.agent.tracker.Snapshot()
	if len(snap.Devices) == 0 {
		return ""
	}
	return snap.Devices[0].State
}

func (h *harness) systemEvents(t *testing.T) []status.StatusInner {
	t.Helper()
	var out []status.StatusInner
	for _, payload := range h.client.On("gpio-agent/hall/system") {
		var sj status.StatusJSON
		require.NoError(t, json.Unmarshal([]byte(payload), &sj))
		out = append(out, sj.Status)
	}
	return out
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func TestShutdownOnSignal(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.stop(t, syscall.SIGTERM)

	events := h.systemEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "SHUTDOWN", events[0].Event)
	assert.Equal(t, "SIGTERM", events[0].Reason)
	assert.Len(t, events[0].Devices, 2)

	for _, m := range h.client.Messages() {
		if m.Topic == "gpio-agent/hall/system" {
			assert.True(t, m.Retained)
		}
	}

	pin := h.opener.Pins[18]
	assert.True(t, pin.Released())
	assert.Equal(t, gpio.Low, pin.Level())
	assert.True(t, h.opener.Inputs[23].Closed)
}

func TestShutdownOnContextCancel(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.cancel()
	h.wait(t)

	events := h.systemEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "CONTEXT", events[0].Reason)
}

func TestCommandsAndResultsFlowThroughLoop(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.clock.Schedule(t0.Add(50*time.Millisecond), func() { <-gate })
	h.start(t)

	h.inbox <- inbound{topic: "hall/buzzer/set", payload: []byte("ON")}
	require.Eventually(t, func() bool { return h.buzzerState() == "ON" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ON", last(h.client.On("hall/buzzer/state")))
	assert.Equal(t, "alarm", h.agent.tracker.Snapshot().Devices[0].Profile)

	// The republish that follows proves the loop has handled OFF before the
	// session is allowed to continue.
	h.inbox <- inbound{topic: "hall/buzzer/set", payload: []byte("OFF")}
	h.inbox <- inbound{topic: mqtt.TopicHAStatus, payload: []byte("online")}
	require.Eventually(t, func() bool {
		return len(h.client.On("homeassistant/switch/hall/buzzer/config")) == 2
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)

	require.Eventually(t, func() bool {
		return last(h.client.On("hall/buzzer/state")) == "OFF"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, gpio.Low, h.opener.Pins[18].Level())

	h.stop(t, syscall.SIGINT)
}

func TestSelectThenRunBeep(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.inbox <- inbound{topic: "hall/buzzer/profile/set", payload: []byte("beep")}
	h.inbox <- inbound{topic: "hall/buzzer/set", payload: []byte("ON")}

	require.Eventually(t, func() bool {
		var highs int
		for _, w := range h.opener.Pins[18].Writes() {
			if w.Level == gpio.High {
				highs++
			}
		}
		return highs == 1 && last(h.client.On("hall/buzzer/state")) == "OFF" && h.buzzerState() == "OFF"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "beep", last(h.client.On("hall/buzzer/profile/state")))

	h.stop(t, syscall.SIGTERM)
}

func TestHomeAssistantOnlineRepublishes(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.client.Reset()

	h.inbox <- inbound{topic: mqtt.TopicHAStatus, payload: []byte("online")}
	require.Eventually(t, func() bool {
		return len(h.client.On("homeassistant/switch/hall/buzzer/config")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"OFF"}, h.client.On("hall/buzzer/state"))
	assert.Equal(t, []string{"alarm"}, h.client.On("hall/buzzer/profile/state"))

	h.stop(t, syscall.SIGTERM)
}

func TestTickPollsSensors(t *testing.T) {
	h := newHarness(t)
	h.opener.Inputs[23].Samples = []bool{true}
	h.start(t)

	h.tick <- t0
	require.Eventually(t, func() bool {
		return last(h.client.On("hall/door/state")) == "ON"
	}, 2*time.Second, 5*time.Millisecond)

	h.stop(t, syscall.SIGTERM)
}

func TestHeartbeatPublishesStatus(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.heartbeat <- t0
	require.Eventually(t, func() bool {
		return len(h.client.On("gpio-agent/hall/system")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	events := h.systemEvents(t)
	assert.Equal(t, "HEARTBEAT", events[0].Event)
	assert.True(t, events[0].MQTT.Connected)
	for _, m := range h.client.Messages() {
		if m.Topic == "gpio-agent/hall/system" {
			assert.False(t, m.Retained, "heartbeats are not retained")
		}
	}

	h.stop(t, syscall.SIGTERM)
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

func TestProfileNames(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"alarm", "beep"}, profileNames(h.agent.registry))
}

func TestWriteConfigMasksPassword(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Password = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "********")
	assert.Contains(t, buf.String(), "device_id: na")
	assert.Equal(t, "hunter2", cfg.MQTT.Password, "caller's config is untouched")
}
