//go:build linux

package prolink

import (
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioPulseWidth is how long the beat-pulse line stays high, long enough
// for an external strobe or tally light's input to register it reliably.
const gpioPulseWidth = 5 * time.Millisecond

// GPIOBeatPulse drives a GPIO line high briefly on each Pulse call, for
// hardware (tally lights, synced strobes) that reacts to a digital pulse
// rather than reading the network protocol itself (§4.13, Linux-only).
type GPIOBeatPulse struct {
	line *gpiocdev.Line
}

// NewGPIOBeatPulse requests chip/line as an output, initially low.
func NewGPIOBeatPulse(chip string, line int) (*GPIOBeatPulse, error) {
	l, err := gpiocdev.RequestLine(chip, line, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, wrapErr(ErrSocketError, "requesting gpio line", err)
	}
	return &GPIOBeatPulse{line: l}, nil
}

// Pulse drives the line high for gpioPulseWidth then low again. Intended
// to be called from a Virtual CDJ's beat-emission callback; it blocks for
// the pulse width, so callers on a latency-sensitive path should invoke it
// from a separate goroutine.
func (p *GPIOBeatPulse) Pulse() error {
	if err := p.line.SetValue(1); err != nil {
		return wrapErr(ErrSocketError, "setting gpio line high", err)
	}
	time.Sleep(gpioPulseWidth)
	if err := p.line.SetValue(0); err != nil {
		return wrapErr(ErrSocketError, "setting gpio line low", err)
	}
	return nil
}

// Close releases the GPIO line.
func (p *GPIOBeatPulse) Close() error {
	return p.line.Close()
}
