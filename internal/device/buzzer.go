package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweeney/gpio-agent/internal/actuator"
	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/mqtt"
	"github.com/sweeney/gpio-agent/internal/profile"
)

// BuzzerState is the externally visible state of a Buzzer.
type BuzzerState struct {
	Running bool
	Profile string
}

// BuzzerConfig configures a Buzzer.
type BuzzerConfig struct {
	Name   string
	Client mqtt.Client
	Pin    gpio.Pin
	Store  *profile.Store

	// Switch is the on/off entity, Select the profile chooser.
	Switch Discovery
	Select Discovery

	// Notify receives session results; it must hand them back to the
	// goroutine that owns the Buzzer, which then calls HandleResult.
	Notify func(actuator.Result)

	Logger *slog.Logger
	Clock  actuator.Clock
}

// Buzzer exposes an output pin as a switch (run/stop) and a select (which
// profile to run).
type Buzzer struct {
	name   string
	client mqtt.Client
	pin    gpio.Pin
	store  *profile.Store
	engine *actuator.Engine
	log    *slog.Logger

	switchDisc, selectDisc Discovery
	switchCmd, switchState string
	selectCmd, selectState string

	selected    profile.Profile
	hasSelected bool

	published   BuzzerState
	sentRunning bool
	lastErr     error
	updatedAt   time.Time
}

// NewBuzzer builds a Buzzer, drives its pin low and selects the first
// profile in the store.
func NewBuzzer(cfg BuzzerConfig) (*Buzzer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Buzzer{
		name:        cfg.Name,
		client:      cfg.Client,
		pin:         cfg.Pin,
		store:       cfg.Store,
		log:         cfg.Logger.With("device", cfg.Name),
		switchDisc:  cfg.Switch,
		selectDisc:  cfg.Select,
		switchCmd:   cfg.Switch.Field("command_topic"),
		switchState: cfg.Switch.Field("state_topic"),
		selectCmd:   cfg.Select.Field("command_topic"),
		selectState: cfg.Select.Field("state_topic"),
	}
	for topic, v := range map[string]string{
		"switch command_topic": b.switchCmd,
		"switch state_topic":   b.switchState,
		"select command_topic": b.selectCmd,
		"select state_topic":   b.selectState,
	} {
		if v == "" {
			return nil, fmt.Errorf("buzzer %s: missing %s", cfg.Name, topic)
		}
	}

	opts := []actuator.Option{actuator.WithLogger(b.log), actuator.WithNotify(cfg.Notify)}
	if cfg.Clock != nil {
		opts = append(opts, actuator.WithClock(cfg.Clock))
	}
	b.engine = actuator.New(cfg.Pin, opts...)

	if err := cfg.Pin.Write(gpio.Low); err != nil {
		return nil, fmt.Errorf("buzzer %s: initial low: %w", cfg.Name, err)
	}

	if p, ok := cfg.Store.Default(); ok {
		b.selected, b.hasSelected = p, true
	} else {
		b.log.Warn("no profiles available, buzzer is inert")
	}
	return b, nil
}

func (b *Buzzer) Name() string { return b.name }
func (b *Buzzer) Kind() Kind   { return KindBuzzer }

// CommandTopics returns the switch and select command topics.
func (b *Buzzer) CommandTopics() []string {
	return []string{b.switchCmd, b.selectCmd}
}

// Register publishes both discovery payloads. The select's options are the
// store's profile names.
func (b *Buzzer) Register() error {
	for _, d := range []Discovery{b.switchDisc, b.selectDisc.with("options", b.store.Names())} {
		payload, err := d.marshal()
		if err != nil {
			return fmt.Errorf("encode discovery for %s: %w", b.name, err)
		}
		if err := b.client.Publish(d.Topic, payload, true); err != nil {
			return fmt.Errorf("publish discovery for %s: %w", b.name, err)
		}
	}
	b.log.Debug("registered with home assistant")
	return nil
}

// Profiles returns the names the select offers, in source order.
func (b *Buzzer) Profiles() []string {
	return b.store.Names()
}

// State derives the current state from the engine and the selection.
func (b *Buzzer) State() BuzzerState {
	st := BuzzerState{Running: b.engine.Busy()}
	if b.hasSelected {
		st.Profile = b.selected.Name
	}
	return st
}

// HandleMessage applies a select or switch command.
func (b *Buzzer) HandleMessage(topic string, payload []byte) bool {
	switch topic {
	case b.selectCmd:
		b.selectProfile(string(payload))
	case b.switchCmd:
		switch cmd := strings.ToUpper(strings.TrimSpace(string(payload))); cmd {
		case "ON":
			if b.start() {
				// A session can end before the state is read back; its ON
				// still goes out ahead of the OFF.
				b.publishRunning(true, false)
			}
		case "OFF":
			if b.engine.Stop() {
				b.log.Info("stop requested")
			}
		default:
			b.log.Warn("ignoring unknown switch command", "payload", cmd)
		}
	default:
		return false
	}
	b.PublishState(false)
	return true
}

func (b *Buzzer) selectProfile(name string) {
	p, err := b.store.Lookup(name)
	if err != nil {
		b.log.Error("unknown profile", "profile", name)
		return
	}
	b.selected, b.hasSelected = p, true
	b.log.Info("profile selected", "profile", name)
}

func (b *Buzzer) start() bool {
	if !b.hasSelected {
		b.log.Warn("start ignored, no profile selected")
		return false
	}
	id, err := b.engine.Start(b.selected)
	if err != nil {
		b.lastErr = err
		b.log.Error("start failed", "error", err)
		return false
	}
	b.lastErr = nil
	b.log.Debug("start requested", "session", id)
	return true
}

// HandleResult records the outcome of a finished session and publishes the
// resulting state.
func (b *Buzzer) HandleResult(r actuator.Result) {
	if r.Outcome == actuator.OutcomeFaulted {
		b.lastErr = r.Err
	}
	b.PublishState(false)
}

// PublishState publishes the running flag and the selected profile, both
// retained. Each is sent only when it differs from what was last published,
// unless force is set.
func (b *Buzzer) PublishState(force bool) {
	st := b.State()

	b.publishRunning(st.Running, force)
	if st.Profile != "" && (force || b.published.Profile != st.Profile) {
		if b.publish(b.selectState, st.Profile) {
			b.published.Profile = st.Profile
		}
	}
}

func (b *Buzzer) publishRunning(running, force bool) {
	if !force && b.sentRunning && b.published.Running == running {
		return
	}
	if b.publish(b.switchState, onOff(running)) {
		b.published.Running, b.sentRunning = running, true
	}
}

func (b *Buzzer) publish(topic, payload string) bool {
	if err := b.client.Publish(topic, []byte(payload), true); err != nil {
		b.log.Warn("failed to publish state", "topic", topic, "error", err)
		return false
	}
	b.updatedAt = time.Now()
	return true
}

// Status returns the buzzer's status snapshot.
func (b *Buzzer) Status() Status {
	st := b.State()
	s := Status{
		Name:      b.name,
		Kind:      KindBuzzer,
		State:     onOff(st.Running),
		Profile:   st.Profile,
		UpdatedAt: b.updatedAt,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

// Teardown stops any session, waits for it, then drives the pin low and
// releases it. If the session outlives ctx the pin is left with it and not
// released; the session still ends with its own low write.
func (b *Buzzer) Teardown(ctx context.Context) error {
	if err := b.engine.Shutdown(ctx); err != nil {
		b.log.Error("session still running at teardown, pin not released", "error", err)
		return fmt.Errorf("shutdown engine: %w", err)
	}
	var errs []error
	if err := b.pin.Write(gpio.Low); err != nil {
		errs = append(errs, fmt.Errorf("drive low: %w", err))
	}
	if err := b.pin.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release pin: %w", err))
	}
	return errors.Join(errs...)
}
