package device

import (
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/gpio-agent/internal/profile"
)

var (
	t0      = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func testStore() *profile.Store {
	return profile.NewStore([]profile.Profile{
		{
			Name:     "short",
			Repeat:   2,
			DelayEnd: ms(150),
			Pattern:  []profile.Step{{State: profile.StateOn, Duration: ms(50)}},
		},
		{
			Name:   "siren",
			Repeat: profile.Forever,
			Pattern: []profile.Step{
				{State: profile.StateOn, Duration: ms(100)},
				{State: profile.StateOff, Duration: ms(100)},
			},
		},
	}, discard)
}

func switchDiscovery() Discovery {
	return Discovery{
		Topic: "homeassistant/switch/kitchen/buzzer/config",
		Payload: map[string]any{
			"name":          "Buzzer",
			"command_topic": "kitchen/buzzer/set",
			"state_topic":   "kitchen/buzzer/state",
		},
	}
}

func selectDiscovery() Discovery {
	return Discovery{
		Topic: "homeassistant/select/kitchen/buzzer_profile/config",
		Payload: map[string]any{
			"name":          "Buzzer profile",
			"command_topic": "kitchen/buzzer/profile/set",
			"state_topic":   "kitchen/buzzer/profile/state",
		},
	}
}
