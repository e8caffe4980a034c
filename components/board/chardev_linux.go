//go:build linux

package board

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"go.viam.com/utils"
)

const chardevConsumer = "spwf04sx"

type chardevPin struct {
	mu   sync.Mutex
	line *gpio.Line
}

// OpenChardevPin requests a single line from a GPIO character device, e.g. "/dev/gpiochip0".
func OpenChardevPin(devicePath string, offset uint32, output bool) (GPIOPin, error) {
	chip, err := gpio.OpenChip(devicePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	flags := gpio.Input
	if output {
		flags = gpio.Output
	}
	// Output lines start low, which holds the module in reset until the driver releases it.
	line, err := chip.OpenLine(offset, 0, flags, chardevConsumer)
	if err != nil {
		return nil, err
	}
	return &chardevPin{line: line}, nil
}

func (pin *chardevPin) Set(ctx context.Context, high bool) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	var value byte
	if high {
		value = 1
	}
	return pin.line.SetValue(value)
}

func (pin *chardevPin) Get(ctx context.Context) (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}
	// Any non-zero value is high.
	return value != 0, nil
}
