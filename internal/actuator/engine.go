// Package actuator runs actuation profiles against an output pin.
//
// An Engine owns one pin. Each Start launches a session on its own goroutine
// which drives the pin through the profile's pattern and always leaves the
// pin low when it ends, whether it completed, was stopped, or hit a pin fault.
//
// Cancellation is cooperative. A session checks for it before every step and
// every pass, and during the start and end delays. It never interrupts a
// step's hold, so the worst-case latency of Stop is the longest step in the
// running pattern.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/gpio-agent/internal/gpio"
	"github.com/sweeney/gpio-agent/internal/profile"
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("actuator: engine shut down")

// Outcome describes how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFaulted   Outcome = "faulted"
)

// Result is reported once per session when it ends.
type Result struct {
	SessionID string
	Profile   string
	Outcome   Outcome
	Err       error // set when Outcome is OutcomeFaulted
	Started   time.Time
	Ended     time.Time
}

// PinFaultError reports a failed pin write during a session.
type PinFaultError struct {
	Level gpio.Level
	Err   error
}

func (e *PinFaultError) Error() string {
	return fmt.Sprintf("pin fault writing %s: %v", e.Level, e.Err)
}

func (e *PinFaultError) Unwrap() error { return e.Err }

// Engine executes profiles on a single pin, one session at a time.
type Engine struct {
	pin    gpio.Pin
	clock  Clock
	log    *slog.Logger
	notify func(Result)

	// startMu serialises Start and Shutdown so that a new session can only
	// begin after the previous one has torn down.
	startMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current string
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithNotify sets a callback invoked with each session's Result. It runs on
// the session goroutine after the pin is low and Busy reports false.
func WithNotify(fn func(Result)) Option {
	return func(e *Engine) { e.notify = fn }
}

// New creates an Engine that drives pin.
func New(pin gpio.Pin, opts ...Option) *Engine {
	e := &Engine{
		pin:   pin,
		clock: realClock{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins running p and returns the new session ID. Any live session is
// stopped first and Start blocks until it has torn down, which takes at most
// the longest step of its pattern. Start never waits on the new session.
func (e *Engine) Start(p profile.Profile) (string, error) {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	prevCancel, prevDone, prevID := e.cancel, e.done, e.current
	e.mu.Unlock()

	if prevDone != nil {
		prevCancel()
		<-prevDone
		e.log.Debug("previous session torn down", "session", prevID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	id := uuid.NewString()

	e.mu.Lock()
	e.cancel, e.done, e.current = cancel, done, id
	e.mu.Unlock()

	e.log.Info("session started", "session", id, "profile", p.Name,
		"repeat", p.Repeat.String(), "max_stop_latency", p.MaxStep())

	go func() {
		res := e.run(ctx, id, p)
		cancel()
		close(done)

		switch res.Outcome {
		case OutcomeFaulted:
			e.log.Error("session faulted", "session", id, "profile", p.Name, "error", res.Err)
		default:
			e.log.Info("session ended", "session", id, "profile", p.Name,
				"outcome", res.Outcome, "elapsed", res.Ended.Sub(res.Started))
		}
		if e.notify != nil {
			e.notify(res)
		}
	}()

	return id, nil
}

// Stop requests cancellation of the live session, if any, and returns
// without waiting. It reports whether a session was running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if done == nil || isClosed(done) {
		return false
	}
	cancel()
	return true
}

// Busy reports whether a session is live. It turns false once the session's
// final pin write has happened.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	return done != nil && !isClosed(done)
}

// Wait blocks until the live session, if any, has ended or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the live session and waits for it to tear down. Later
// calls to Start fail with ErrClosed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.Stop()
	return e.Wait(ctx)
}

func (e *Engine) run(ctx context.Context, id string, p profile.Profile) Result {
	res := Result{SessionID: id, Profile: p.Name, Started: e.clock.Now()}

	err := e.execute(ctx, id, p)

	// The pin always ends low, whatever stopped the session. A failed final
	// write is a fault even for a cancelled session.
	if offErr := e.pin.Write(gpio.Low); offErr != nil {
		fault := &PinFaultError{Level: gpio.Low, Err: offErr}
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			err = fault
		default:
			err = errors.Join(err, fault)
		}
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeCompleted
	case errors.Is(err, context.Canceled):
		res.Outcome = OutcomeCancelled
	default:
		res.Outcome = OutcomeFaulted
		res.Err = err
	}
	res.Ended = e.clock.Now()
	return res
}

// execute walks the pattern. It returns ctx.Err() when cancelled at a
// checkpoint and a *PinFaultError when a write fails.
func (e *Engine) execute(ctx context.Context, id string, p profile.Profile) error {
	if err := e.clock.Sleep(ctx, p.DelayStart); err != nil {
		return err
	}

	for pass := 0; p.Repeat.IsForever() || pass < int(p.Repeat); pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, step := range p.Pattern {
			if err := ctx.Err(); err != nil {
				return err
			}
			level := gpio.Low
			if step.State == profile.StateOn {
				level = gpio.High
			}
			e.log.Debug("step", "session", id, "pass", pass, "state", step.State, "hold", step.Duration)
			if err := e.pin.Write(level); err != nil {
				return &PinFaultError{Level: level, Err: err}
			}
			// Holds are never cut short.
			e.clock.Sleep(context.Background(), step.Duration)
		}
		if err := e.clock.Sleep(ctx, p.DelayEnd); err != nil {
			return err
		}
	}
	return nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
