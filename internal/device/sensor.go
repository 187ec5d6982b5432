package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/logic"
	"github.com/sweeney/gpio-agent/internal/mqtt"
)

// BinarySensorConfig configures a BinarySensor.
type BinarySensorConfig struct {
	Name      string
	Client    mqtt.Client
	Input     gpio.Input
	Discovery Discovery
	Debounce  time.Duration
	Logger    *slog.Logger
}

// BinarySensor reports a debounced GPIO input as a Home Assistant
// binary_sensor.
type BinarySensor struct {
	name      string
	client    mqtt.Client
	input     gpio.Input
	disc      Discovery
	state     string
	debouncer *logic.Debouncer
	log       *slog.Logger

	published logic.State
	lastErr   error
	updatedAt time.Time
}

// NewBinarySensor builds a BinarySensor. Its state is unknown until the
// debouncer has a baseline.
func NewBinarySensor(cfg BinarySensorConfig) (*BinarySensor, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	state := cfg.Discovery.Field("state_topic")
	if state == "" {
		return nil, fmt.Errorf("binary sensor %s: missing state_topic", cfg.Name)
	}
	return &BinarySensor{
		name:      cfg.Name,
		client:    cfg.Client,
		input:     cfg.Input,
		disc:      cfg.Discovery,
		state:     state,
		debouncer: logic.NewDebouncer(cfg.Debounce),
		log:       cfg.Logger.With("device", cfg.Name),
	}, nil
}

func (s *BinarySensor) Name() string            { return s.name }
func (s *BinarySensor) Kind() Kind              { return KindBinarySensor }
func (s *BinarySensor) CommandTopics() []string { return nil }

// HandleMessage always returns false; sensors take no commands.
func (s *BinarySensor) HandleMessage(string, []byte) bool { return false }

// Register publishes the discovery payload.
func (s *BinarySensor) Register() error {
	payload, err := s.disc.marshal()
	if err != nil {
		return fmt.Errorf("encode discovery for %s: %w", s.name, err)
	}
	if err := s.client.Publish(s.disc.Topic, payload, true); err != nil {
		return fmt.Errorf("publish discovery for %s: %w", s.name, err)
	}
	return nil
}

// Poll samples the input once and publishes on a debounced change or when
// the baseline is first established.
func (s *BinarySensor) Poll(now time.Time) {
	on, err := s.input.Read()
	if err != nil {
		if s.lastErr == nil {
			s.log.Error("read failed", "error", err)
		}
		s.lastErr = err
		return
	}
	s.lastErr = nil

	state, changed := s.debouncer.Process(on, now)
	if changed {
		s.log.Info("state changed", "state", state, "transitions", s.debouncer.Transitions())
	}
	s.PublishState(false)
}

// PublishState publishes the debounced state, retained. Nothing is sent
// before a baseline exists.
func (s *BinarySensor) PublishState(force bool) {
	st := s.debouncer.State()
	if st == "" || (!force && st == s.published) {
		return
	}
	if err := s.client.Publish(s.state, []byte(st), true); err != nil {
		s.log.Warn("failed to publish state", "topic", s.state, "error", err)
		return
	}
	s.published = st
	s.updatedAt = time.Now()
}

// Status returns the sensor's status snapshot.
func (s *BinarySensor) Status() Status {
	st := Status{
		Name:      s.name,
		Kind:      KindBinarySensor,
		State:     string(s.debouncer.State()),
		UpdatedAt: s.updatedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Teardown closes the input line.
func (s *BinarySensor) Teardown(context.Context) error {
	return s.input.Close()
}
