package actuator

import (
	"context"
	"time"
)

// Clock supplies time to the engine.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first, and
	// returns ctx.Err() if it was cut short. A non-positive d returns
	// ctx.Err() immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
