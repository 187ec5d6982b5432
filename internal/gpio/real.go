//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Chip hands out lines from a Linux GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip (e.g. "gpiochip0").
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{chip: chip}, nil
}

// Output requests a line as an output, initially driven low.
func (c *Chip) Output(offset int) (Pin, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	return &RealPin{line: line, offset: offset}, nil
}

// Input requests a line as an input with pull-down to match Pi boot defaults.
// With activeLow set, a raw low level reads as active.
func (c *Chip) Input(offset int, activeLow bool) (Input, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}
	return &RealInput{line: line, offset: offset}, nil
}

// Close releases the chip. Lines handed out must be released first.
func (c *Chip) Close() error {
	if err := c.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}

// RealPin is an output line on actual hardware.
type RealPin struct {
	line   *gpiocdev.Line
	offset int
}

// Write drives the line to level.
func (p *RealPin) Write(level Level) error {
	v := 0
	if level == High {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", p.offset, err)
	}
	return nil
}

// Release drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) before closing, so attached hardware is not left
// energised across a restart.
func (p *RealPin) Release() error {
	var errs []error
	if err := p.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive pin %d low: %w", p.offset, err))
	}
	if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", p.offset, err))
	}
	if err := p.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", p.offset, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// RealInput is an input line on actual hardware.
type RealInput struct {
	line   *gpiocdev.Line
	offset int
}

// Read returns the logical value of the line.
func (i *RealInput) Read() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", i.offset, err)
	}
	return v == 1, nil
}

// Close releases the line.
func (i *RealInput) Close() error {
	if err := i.line.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", i.offset, err)
	}
	return nil
}
