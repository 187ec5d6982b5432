// Package config loads the agent configuration from an optional YAML file
// and environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// DeviceID identifies this agent; it replaces {device_id} in entity
	// config and names the agent's own topics.
	DeviceID string `yaml:"device_id" env:"DEVICE_ID"`

	GPIO    GPIOConfig    `yaml:"gpio"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`

	// DevicesPath is the entity definition file (Home Assistant discovery).
	DevicesPath string `yaml:"devices" env:"DEVICES_CONFIG"`
	// ProfilesPath is the default profile source for actuators that do not
	// name their own.
	ProfilesPath string `yaml:"profiles" env:"PROFILES_CONFIG"`
	// W1Root is where DS18B20 sensors are looked up by id.
	W1Root string `yaml:"w1_root" env:"W1_ROOT"`

	Poll      time.Duration `yaml:"poll" env:"POLL_INTERVAL"`
	Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
}

// GPIOConfig selects the GPIO chip and default pins.
type GPIOConfig struct {
	Chip string `yaml:"chip" env:"GPIO_CHIP"`
	// BuzzerPin is used by buzzer entities that do not set a pin.
	BuzzerPin int `yaml:"buzzer_pin" env:"BUZZER_PIN"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker" env:"MQTT_SERVER"`
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	QoS         int    `yaml:"qos" env:"MQTT_QOS"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DeviceID: "na",
		GPIO: GPIOConfig{
			Chip:      "gpiochip0",
			BuzzerPin: -1,
		},
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
		},
		HTTP:         HTTPConfig{Addr: ":8080"},
		Logging:      LoggingConfig{Level: "warn", Format: "text", Output: "stderr"},
		DevicesPath:  "./config/mqtt_topics.json",
		ProfilesPath: "./config/buzzer_profiles.json",
		W1Root:       "/sys/bus/w1/devices",
		Poll:         100 * time.Millisecond,
		Heartbeat:    15 * time.Minute,
	}
}

// Load reads path (skipped when empty) over the defaults, applies environment
// overrides, fills derived values and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.MQTT.Broker = normalizeBroker(cfg.MQTT.Broker)
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "mqtt-client-" + cfg.DeviceID
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "gpio-agent/" + cfg.DeviceID
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeBroker turns a bare host ("mqtt.local") or host:port into a URL
// with the tcp scheme and default port.
func normalizeBroker(b string) string {
	if b == "" || strings.Contains(b, "://") {
		return b
	}
	if _, _, err := net.SplitHostPort(b); err != nil {
		b = net.JoinHostPort(b, "1883")
	}
	return "tcp://" + b
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id must not be empty"))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker must not be empty"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll must be positive, got %v", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.GPIO.Chip == "" {
		errs = append(errs, errors.New("gpio.chip must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
