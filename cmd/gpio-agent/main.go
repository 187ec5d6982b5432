// Command gpio-agent exposes Raspberry Pi GPIO lines to Home Assistant over
// MQTT: buzzers that play actuation profiles, debounced binary sensors, and
// temperature and humidity sensors read through sysfs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/gpio-agent/internal/config"
	"github.com/sweeney/gpio-agent/internal/device"
	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/logging"
	"github.com/sweeney/gpio-agent/internal/mqtt"
	"github.com/sweeney/gpio-agent/internal/status"
	"github.com/sweeney/gpio-agent/internal/sysfs"
	"github.com/sweeney/gpio-agent/internal/web"
)

const (
	inboxSize       = 64
	teardownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional; environment variables override it)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")

	flag.Parse()

	if err := run(*configPath, *printConfig); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, printConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if printConfig {
		return writeConfig(os.Stdout, cfg)
	}

	log := logging.New(cfg.Logging, cfg.DeviceID)
	slog.SetDefault(log)

	chip, err := gpio.OpenChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	client, err := mqtt.Connect(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      byte(cfg.MQTT.QoS),
		Topics:   topics,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	entities, err := device.LoadEntities(cfg.DevicesPath, map[string]string{"device_id": cfg.DeviceID})
	if err != nil {
		log.Error("no devices loaded", "path", cfg.DevicesPath, "error", err)
	}
	registry := device.NewRegistry(entities, device.Options{
		Client:           client,
		Opener:           chip,
		Sensors:          sysfs.FS{W1Root: cfg.W1Root},
		DefaultBuzzerPin: cfg.GPIO.BuzzerPin,
		DefaultProfiles:  cfg.ProfilesPath,
		Logger:           log,
	})

	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceID:    cfg.DeviceID,
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Chip:        cfg.GPIO.Chip,
		Profiles:    profileNames(registry),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := make(chan inbound, inboxSize)
	if err := registry.Subscribe(func(topic string, payload []byte) {
		select {
		case inbox <- inbound{topic: topic, payload: payload}:
		case <-ctx.Done():
		}
	}); err != nil {
		log.Error("subscribe failed, commands may be missed until reconnect", "error", err)
	}

	registry.Register()

	a := &agent{
		registry: registry,
		client:   client,
		topics:   topics,
		tracker:  tracker,
		log:      log,
		now:      time.Now,
	}
	a.refresh()
	a.publishEvent("STARTUP", "")

	log.Info("started", "devices", len(registry.Devices()), "broker", cfg.MQTT.Broker,
		"poll", cfg.Poll, "heartbeat", cfg.Heartbeat)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		g.Go(func() error {
			log.Info("http status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		defer cancel()
		return a.runLoop(gctx, inbox, ticker.C, heartbeat, sigCh)
	})

	return g.Wait()
}

// inbound is an MQTT message handed from the client's goroutines to runLoop.
type inbound struct {
	topic   string
	payload []byte
}

// agent holds what runLoop needs. All device access happens on the runLoop
// goroutine.
type agent struct {
	registry *device.Registry
	client   mqtt.Client
	topics   mqtt.Topics
	tracker  *status.Tracker
	log      *slog.Logger
	now      func() time.Time
}

func (a *agent) runLoop(ctx context.Context, inbox <-chan inbound, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			a.log.Info("received signal, shutting down", "signal", s)
			a.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			a.shutdown("CONTEXT")
			return nil

		case m := <-inbox:
			a.log.Debug("command received", "topic", m.topic, "payload", string(m.payload))
			a.registry.Route(m.topic, m.payload)
			a.refresh()

		case res := <-a.registry.Results():
			a.registry.HandleResult(res)
			a.refresh()

		case t := <-tick:
			a.registry.Poll(t)
			a.refresh()

		case <-heartbeat:
			a.refresh()
			snap := a.tracker.Snapshot()
			a.log.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second), "mqtt_connected", snap.MQTTConnected)
			a.publishEvent("HEARTBEAT", "")
		}
	}
}

// shutdown tears devices down (every output ends low) and then announces the
// shutdown with the final snapshot.
func (a *agent) shutdown(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := a.registry.Teardown(ctx); err != nil {
		a.log.Error("device teardown failed", "error", err)
	}
	a.refresh()
	a.publishEvent("SHUTDOWN", reason)
}

// refresh copies device and connection state into the tracker.
func (a *agent) refresh() {
	statuses := a.registry.Statuses()
	out := make([]status.DeviceStatus, len(statuses))
	for i, s := range statuses {
		out[i] = status.DeviceStatus{
			Name:      s.Name,
			Kind:      string(s.Kind),
			State:     s.State,
			Unit:      s.Unit,
			Profile:   s.Profile,
			LastError: s.LastError,
			UpdatedAt: s.UpdatedAt,
		}
	}
	a.tracker.Update(out)
	a.tracker.SetMQTTConnected(a.client.IsConnected())
}

// publishEvent publishes a lifecycle event carrying the full status snapshot.
// STARTUP and SHUTDOWN are retained so late subscribers see the last one.
func (a *agent) publishEvent(event, reason string) {
	snap := a.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  a.now(),
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := mqtt.PublishSystem(a.client, a.topics, ev); err != nil {
		a.log.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	a.log.Debug("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// profileNames lists every profile any buzzer offers, first occurrence first.
func profileNames(r *device.Registry) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range r.Devices() {
		b, ok := d.(*device.Buzzer)
		if !ok {
			continue
		}
		for _, n := range b.Profiles() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// writeConfig prints cfg as YAML with the MQTT password masked.
func writeConfig(w io.Writer, cfg config.Config) error {
	if cfg.MQTT.Password != "" {
		cfg.MQTT.Password = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
