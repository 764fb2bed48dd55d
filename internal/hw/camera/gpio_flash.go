package camera

import (
	"time"

	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
)

// Flash is a light a backend fires while it grabs a still.
type Flash interface {
	Fire(on bool) error
}

// GPIOFlash drives an LED flash (or a flash trigger) from one GPIO line:
// - HIGH: flash on
// - LOW: flash off
//
// Firing sequence, driven by the V4L2 backend around a still grab:
// 1. line HIGH
// 2. wait for the light to settle
// 3. grab the frame
// 4. line LOW
type GPIOFlash struct {
	gpio   gpio.Driver
	pin    int
	settle time.Duration // time for the light to reach full output
}

// NewGPIOFlash configures pin as an output and switches the flash off.
func NewGPIOFlash(g gpio.Driver, pin int, settle time.Duration) *GPIOFlash {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)

	return &GPIOFlash{
		gpio:   g,
		pin:    pin,
		settle: settle,
	}
}

// Fire switches the flash on (waiting for it to settle) or off.
func (f *GPIOFlash) Fire(on bool) error {
	if !on {
		debug.Verbose("Flash: off (pin %d -> LOW)", f.pin)
		return f.gpio.WritePin(f.pin, gpio.Low)
	}

	debug.Verbose("Flash: on (pin %d -> HIGH)", f.pin)
	if err := f.gpio.WritePin(f.pin, gpio.High); err != nil {
		return err
	}
	time.Sleep(f.settle)
	return nil
}
