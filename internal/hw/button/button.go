package button

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
)

// Button is a shutter push button wired between a GPIO pin and ground.
// The pin uses the internal pull-up, so it reads LOW while pressed.
type Button struct {
	gpio     gpio.Driver
	pin      int
	debounce time.Duration // level must hold this long to count
	poll     time.Duration
}

// New configures pin as a pulled-up input.
func New(g gpio.Driver, pin int, debounce time.Duration) (*Button, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", pin, err)
	}
	poll := debounce / 4
	if poll < time.Millisecond {
		poll = time.Millisecond
	}
	return &Button{gpio: g, pin: pin, debounce: debounce, poll: poll}, nil
}

// Run polls the pin until ctx is done and calls onPress once per debounced
// press (HIGH to LOW edge). The pin is assumed idle (HIGH) at start, so a
// button already held when Run starts counts as one press.
func (b *Button) Run(ctx context.Context, onPress func()) error {
	stable := gpio.High
	raw := stable
	changed := time.Now()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	debug.Verbose("Button: watching pin %d (debounce %v)", b.pin, b.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			level, err := b.gpio.ReadPin(b.pin)
			if err != nil {
				return fmt.Errorf("read button pin %d: %w", b.pin, err)
			}
			if level != raw {
				raw = level
				changed = now
				continue
			}
			if raw == stable || now.Sub(changed) < b.debounce {
				continue
			}
			stable = raw
			if stable == gpio.Low {
				debug.Live("Button: pressed (pin %d)", b.pin)
				onPress()
			}
		}
	}
}
