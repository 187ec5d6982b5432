package device

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sweeney/gpio-agent/internal/mqtt"
	"github.com/sweeney/gpio-agent/internal/sysfs"
)

const (
	defaultSampleInterval = 30 * time.Second
	defaultPrecision      = 1
)

// measurement holds the Home Assistant discovery defaults for a sensor kind.
type measurement struct {
	deviceClass string
	unit        string
}

var measurements = map[Kind]measurement{
	KindTemperature: {deviceClass: "temperature", unit: "°C"},
	KindHumidity:    {deviceClass: "humidity", unit: "%"},
}

// ValueSensorConfig configures a ValueSensor.
type ValueSensorConfig struct {
	Name      string
	Kind      Kind // KindTemperature or KindHumidity
	Client    mqtt.Client
	Reader    sysfs.Reader
	Discovery Discovery
	// Interval between samples; zero means 30s.
	Interval time.Duration
	// Precision is the number of decimals published.
	Precision int
	Logger    *slog.Logger
}

type sample struct {
	seq   uint64
	value float64
	err   error
}

// ValueSensor samples a temperature or humidity reading in the background
// and publishes it as a Home Assistant sensor. Only the sampler goroutine
// touches the reader; Poll picks up its latest sample on the dispatcher.
type ValueSensor struct {
	name      string
	kind      Kind
	client    mqtt.Client
	reader    sysfs.Reader
	disc      Discovery
	state     string
	interval  time.Duration
	precision int
	log       *slog.Logger

	mu     sync.Mutex
	latest sample

	cancel context.CancelFunc
	done   chan struct{}

	seen      uint64
	value     string
	published string
	lastErr   error
	updatedAt time.Time
}

// NewValueSensor builds a ValueSensor and starts sampling.
func NewValueSensor(cfg ValueSensorConfig) (*ValueSensor, error) {
	m, ok := measurements[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("sensor %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
	state := cfg.Discovery.Field("state_topic")
	if state == "" {
		return nil, fmt.Errorf("sensor %s: missing state_topic", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSampleInterval
	}
	if cfg.Precision < 0 {
		cfg.Precision = defaultPrecision
	}

	disc := cfg.Discovery
	for key, val := range map[string]string{
		"device_class":        m.deviceClass,
		"unit_of_measurement": m.unit,
		"state_class":         "measurement",
	} {
		if disc.Field(key) == "" {
			disc = disc.with(key, val)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ValueSensor{
		name:      cfg.Name,
		kind:      cfg.Kind,
		client:    cfg.Client,
		reader:    cfg.Reader,
		disc:      disc,
		state:     state,
		interval:  cfg.Interval,
		precision: cfg.Precision,
		log:       cfg.Logger.With("device", cfg.Name),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.sample(ctx)
	return s, nil
}

func (s *ValueSensor) Name() string            { return s.name }
func (s *ValueSensor) Kind() Kind              { return s.kind }
func (s *ValueSensor) CommandTopics() []string { return nil }

// HandleMessage always returns false; sensors take no commands.
func (s *ValueSensor) HandleMessage(string, []byte) bool { return false }

// Unit returns the unit the value is published in.
func (s *ValueSensor) Unit() string { return s.disc.Field("unit_of_measurement") }

// Register publishes the discovery payload.
func (s *ValueSensor) Register() error {
	payload, err := s.disc.marshal()
	if err != nil {
		return fmt.Errorf("encode discovery for %s: %w", s.name, err)
	}
	if err := s.client.Publish(s.disc.Topic, payload, true); err != nil {
		return fmt.Errorf("publish discovery for %s: %w", s.name, err)
	}
	return nil
}

func (s *ValueSensor) sample(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		v, err := s.reader.Read()
		s.mu.Lock()
		s.latest = sample{seq: s.latest.seq + 1, value: v, err: err}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Poll takes up the newest sample, if there is one it has not seen, and
// publishes the value when its rounded text changed.
func (s *ValueSensor) Poll(time.Time) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest.seq == s.seen {
		return
	}
	s.seen = latest.seq

	if latest.err != nil {
		if s.lastErr == nil {
			s.log.Error("read failed", "error", latest.err)
		}
		s.lastErr = latest.err
		return
	}
	if s.lastErr != nil {
		s.log.Info("read recovered")
		s.lastErr = nil
	}
	s.value = strconv.FormatFloat(latest.value, 'f', s.precision, 64)
	s.PublishState(false)
}

// PublishState publishes the last value, retained. Nothing is sent before
// the first good sample.
func (s *ValueSensor) PublishState(force bool) {
	if s.value == "" || (!force && s.value == s.published) {
		return
	}
	if err := s.client.Publish(s.state, []byte(s.value), true); err != nil {
		s.log.Warn("failed to publish state", "topic", s.state, "error", err)
		return
	}
	s.published = s.value
	s.updatedAt = time.Now()
}

// Status returns the sensor's status snapshot.
func (s *ValueSensor) Status() Status {
	st := Status{
		Name:      s.name,
		Kind:      s.kind,
		State:     s.value,
		Unit:      s.Unit(),
		UpdatedAt: s.updatedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Teardown stops the sampler. A read in progress is waited for until ctx
// is done.
func (s *ValueSensor) Teardown(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sampler still reading: %w", ctx.Err())
	}
}
