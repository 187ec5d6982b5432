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
	"github.com/sweeney/gpio-agent/internal/sysfs"
)

// resultBuffer bounds how many finished sessions can queue before the
// dispatcher drains them.
const resultBuffer = 16

// Options configures a Registry.
type Options struct {
	Client mqtt.Client
	Opener gpio.Opener
	// Sensors opens temperature and humidity sources; nil reads the live
	// sysfs tree.
	Sensors sysfs.Opener

	// DefaultBuzzerPin is used by buzzer entities without a pin; negative
	// means none.
	DefaultBuzzerPin int
	// DefaultProfiles is the profile source for buzzers that name none.
	DefaultProfiles string

	Logger *slog.Logger
	Clock  actuator.Clock
}

// SessionResult is an engine result tagged with the device that ran it.
type SessionResult struct {
	Device string
	actuator.Result
}

// Registry owns the configured devices.
type Registry struct {
	client  mqtt.Client
	log     *slog.Logger
	devices []Device
	byName  map[string]Device

	results chan SessionResult
	closing chan struct{}
}

// NewRegistry builds a device for every entity it can. An entity that fails
// to build is logged and skipped so the rest of the agent still runs.
func NewRegistry(entities []EntityConfig, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sensors == nil {
		opts.Sensors = sysfs.FS{W1Root: sysfs.DefaultW1Root}
	}
	r := &Registry{
		client:  opts.Client,
		log:     opts.Logger,
		byName:  make(map[string]Device),
		results: make(chan SessionResult, resultBuffer),
		closing: make(chan struct{}),
	}

	for _, e := range entities {
		if _, dup := r.byName[e.Name]; dup {
			r.log.Warn("duplicate device name, skipping", "device", e.Name)
			continue
		}
		d, err := r.build(e, opts)
		if err != nil {
			r.log.Error("failed to set up device", "device", e.Name, "type", e.Type, "error", err)
			continue
		}
		if d == nil {
			continue
		}
		r.devices = append(r.devices, d)
		r.byName[d.Name()] = d
		r.log.Info("device ready", "device", d.Name(), "kind", d.Kind())
	}
	return r
}

func (r *Registry) build(e EntityConfig, opts Options) (Device, error) {
	if e.Name == "" {
		return nil, errors.New("entity has no name")
	}
	switch Kind(e.Type) {
	case KindBuzzer:
		return r.buildBuzzer(e, opts)
	case KindBinarySensor:
		return r.buildSensor(e, opts)
	case KindTemperature, KindHumidity:
		return r.buildValueSensor(e, opts)
	default:
		r.log.Warn("unsupported entity type, skipping", "device", e.Name, "type", e.Type)
		return nil, nil
	}
}

func (r *Registry) buildBuzzer(e EntityConfig, opts Options) (Device, error) {
	if e.BuzzerSwitch == nil || e.BuzzerProfile == nil {
		return nil, errors.New("buzzer needs buzzer_switch and buzzer_profile")
	}
	offset := opts.DefaultBuzzerPin
	if e.Pin != nil {
		offset = *e.Pin
	}
	if offset < 0 {
		return nil, errors.New("no pin configured")
	}

	source := e.Profiles
	if source == "" {
		source = opts.DefaultProfiles
	}
	log := r.log.With("device", e.Name)
	store := profile.LoadOrEmpty(source, log)

	pin, err := opts.Opener.Output(offset)
	if err != nil {
		return nil, fmt.Errorf("open pin %d: %w", offset, err)
	}

	name := e.Name
	b, err := NewBuzzer(BuzzerConfig{
		Name:   name,
		Client: opts.Client,
		Pin:    pin,
		Store:  store,
		Switch: *e.BuzzerSwitch,
		Select: *e.BuzzerProfile,
		Notify: func(res actuator.Result) {
			select {
			case r.results <- SessionResult{Device: name, Result: res}:
			case <-r.closing:
			}
		},
		Logger: r.log,
		Clock:  opts.Clock,
	})
	if err != nil {
		pin.Release()
		return nil, err
	}
	return b, nil
}

func (r *Registry) buildSensor(e EntityConfig, opts Options) (Device, error) {
	if e.Pin == nil {
		return nil, errors.New("binary sensor needs a pin")
	}
	in, err := opts.Opener.Input(*e.Pin, e.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("open input %d: %w", *e.Pin, err)
	}
	s, err := NewBinarySensor(BinarySensorConfig{
		Name:      e.Name,
		Client:    opts.Client,
		Input:     in,
		Discovery: e.Discovery,
		Debounce:  time.Duration(e.DebounceMs) * time.Millisecond,
		Logger:    r.log,
	})
	if err != nil {
		in.Close()
		return nil, err
	}
	return s, nil
}

func (r *Registry) buildValueSensor(e EntityConfig, opts Options) (Device, error) {
	src := sysfs.Source{W1Device: e.W1Device, Path: e.Path, Scale: sysfs.DefaultScale}
	if e.Scale != nil {
		src.Scale = *e.Scale
	}
	reader, err := opts.Sensors.Open(src)
	if err != nil {
		return nil, err
	}
	precision := defaultPrecision
	if e.Precision != nil {
		precision = *e.Precision
	}
	s, err := NewValueSensor(ValueSensorConfig{
		Name:      e.Name,
		Kind:      Kind(e.Type),
		Client:    opts.Client,
		Reader:    reader,
		Discovery: e.Discovery,
		Interval:  time.Duration(e.IntervalMs) * time.Millisecond,
		Precision: precision,
		Logger:    r.log,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Devices returns the devices in entity file order.
func (r *Registry) Devices() []Device {
	return append([]Device(nil), r.devices...)
}

// Device returns the named device.
func (r *Registry) Device(name string) (Device, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Register announces every device and force-publishes its state. Failures
// are logged per device.
func (r *Registry) Register() {
	for _, d := range r.devices {
		if err := d.Register(); err != nil {
			r.log.Error("registration failed", "device", d.Name(), "error", err)
			continue
		}
		d.PublishState(true)
	}
}

// Subscribe subscribes handler to every device command topic and to Home
// Assistant's status topic.
func (r *Registry) Subscribe(handler mqtt.MessageHandler) error {
	topics := []string{mqtt.TopicHAStatus}
	for _, d := range r.devices {
		topics = append(topics, d.CommandTopics()...)
	}
	var errs []error
	for _, t := range topics {
		if err := r.client.Subscribe(t, handler); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Route delivers an inbound message. Home Assistant coming online triggers a
// full republish; anything else goes to the device owning the topic.
func (r *Registry) Route(topic string, payload []byte) {
	if topic == mqtt.TopicHAStatus {
		if strings.TrimSpace(string(payload)) == mqtt.PayloadOnline {
			r.log.Info("home assistant online, republishing")
			r.Republish()
		}
		return
	}
	for _, d := range r.devices {
		if d.HandleMessage(topic, payload) {
			return
		}
	}
	r.log.Debug("no device for topic", "topic", topic)
}

// Results delivers finished sessions. Pass each to HandleResult on the
// goroutine that owns the registry.
func (r *Registry) Results() <-chan SessionResult {
	return r.results
}

// HandleResult hands a finished session back to its device.
func (r *Registry) HandleResult(res SessionResult) {
	switch d := r.byName[res.Device].(type) {
	case *Buzzer:
		d.HandleResult(res.Result)
	default:
		r.log.Warn("session result for unknown device", "device", res.Device)
	}
}

type poller interface {
	Poll(now time.Time)
}

// Poll samples every input device.
func (r *Registry) Poll(now time.Time) {
	for _, d := range r.devices {
		if p, ok := d.(poller); ok {
			p.Poll(now)
		}
	}
}

// Republish re-announces every device, as after a Home Assistant restart.
func (r *Registry) Republish() {
	r.Register()
}

// Statuses returns a snapshot of every device.
func (r *Registry) Statuses() []Status {
	out := make([]Status, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.Status()
	}
	return out
}

// Teardown stops every device and releases its lines. Results of sessions
// still ending are dropped.
func (r *Registry) Teardown(ctx context.Context) error {
	select {
	case <-r.closing:
		return nil
	default:
		close(r.closing)
	}
	var errs []error
	for _, d := range r.devices {
		if err := d.Teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
