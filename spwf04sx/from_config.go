package spwf04sx

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/wifimodule/components/board"
	"go.viam.com/wifimodule/config"
	"go.viam.com/wifimodule/logging"
)

// NewFromConfig opens the configured bus and pins and returns a driver for the module. The driver
// is left off.
func NewFromConfig(ctx context.Context, conf *config.Config, logger logging.Logger) (*Driver, error) {
	spi, err := board.NewPeriphSPI(conf.SPI)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI bus %q", conf.SPI.Name)
	}
	irq, err := board.OpenGPIO(conf.IRQPin, false)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "opening interrupt pin"), spi.Close(ctx))
	}
	reset, err := board.OpenGPIO(conf.ResetPin, true)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "opening reset pin"), spi.Close(ctx))
	}

	d, err := New(ctx, spi, irq, reset, OptionsFromConfig(conf), logger)
	if err != nil {
		return nil, multierr.Combine(err, spi.Close(ctx))
	}
	return d, nil
}

// OptionsFromConfig converts a config into driver options.
func OptionsFromConfig(conf *config.Config) Options {
	return Options{
		ChipSelect:                conf.ChipSelect,
		BaudRate:                  conf.BaudRate,
		SPIMode:                   conf.SPIMode,
		PollInterval:              conf.PollInterval(),
		BufferSize:                conf.BufferSize,
		ForceSocketsTLS:           conf.ForceSocketsTLS,
		ForceSocketsTLSCommonName: conf.TLSCommonName,
	}
}
