package board

import (
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// SPIConfig enumerates a specific, shareable SPI bus.
type SPIConfig struct {
	Name      string `json:"name"`
	BusSelect string `json:"bus_select"` // periph bus number, e.g. "0" for /dev/spidev0.x
}

// Validate ensures all parts of the config are valid.
func (config *SPIConfig) Validate(path string) error {
	if config.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.BusSelect == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "bus_select")
	}
	return nil
}

// GPIOConfig names a single GPIO line. When Chip is set the line is opened through the GPIO
// character device (e.g. "/dev/gpiochip0") and Pin is the line offset on that chip. Otherwise Pin
// is a periph.io pin name such as "GPIO25".
type GPIOConfig struct {
	Pin  string `json:"pin"`
	Chip string `json:"chip,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *GPIOConfig) Validate(path string) error {
	if config.Pin == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if config.Chip != "" {
		if _, err := strconv.ParseUint(config.Pin, 10, 32); err != nil {
			return utils.NewConfigValidationError(path, errors.Errorf("pin %q is not a line offset", config.Pin))
		}
	}
	return nil
}

// OpenGPIO opens the configured line. `output` selects the line direction for the character
// device backend; periph pins switch direction on use.
func OpenGPIO(config GPIOConfig, output bool) (GPIOPin, error) {
	if config.Chip == "" {
		return PeriphGPIOPinByName(config.Pin)
	}
	offset, err := strconv.ParseUint(config.Pin, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "bad line offset %q", config.Pin)
	}
	return OpenChardevPin(config.Chip, uint32(offset), output)
}
