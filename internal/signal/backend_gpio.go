package signal

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOBackend toggles a raw GPIO line through the character device.
type GPIOBackend struct {
	line *gpiocdev.Line
}

// NewGPIO requests line offset on chip (e.g. "gpiochip0") as an output,
// initially low.
func NewGPIO(chip string, offset int) (*GPIOBackend, error) {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("field-syncer"))
	if err != nil {
		return nil, fmt.Errorf("request gpio %s:%d: %w", chip, offset, err)
	}
	return &GPIOBackend{line: l}, nil
}

func (b *GPIOBackend) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return b.line.SetValue(v)
}

func (b *GPIOBackend) Close() error {
	_ = b.line.SetValue(0)
	return b.line.Close()
}
