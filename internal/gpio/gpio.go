// Package gpio provides GPIO line access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Level is the electrical level of a digital line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Pin is a line configured as a digital output.
// Obtaining a Pin configures the line as output; Release returns it to the system.
type Pin interface {
	// Write drives the line to the given level.
	Write(level Level) error

	// Release drives the line low and gives it back.
	Release() error
}

// Input is a line configured as a digital input.
type Input interface {
	// Read returns the logical state of the line (true = active).
	Read() (bool, error)

	// Close releases the line.
	Close() error
}

// Opener hands out lines from a GPIO chip.
type Opener interface {
	Output(offset int) (Pin, error)
	Input(offset int, activeLow bool) (Input, error)
}

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"
