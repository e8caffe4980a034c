// Package board defines the hardware boundary of the driver: a shareable SPI bus and the two GPIO
// lines (interrupt and reset) that the co-processor is wired to. Implementations backed by
// periph.io and by the Linux GPIO character device live alongside.
package board

import (
	"context"
)

// SPI represents a shareable SPI bus.
type SPI interface {
	// OpenHandle locks the shared bus and returns a handle interface that MUST be closed when done.
	OpenHandle() (SPIHandle, error)
	Close(ctx context.Context) error
}

// SPIHandle is similar to an io handle. It MUST be closed to release the bus.
type SPIHandle interface {
	// Xfer performs a single SPI transfer, that is, the complete transaction from chipselect
	// enable to chipselect disable. SPI transfers are synchronous, number of bytes received will
	// be equal to the number of bytes sent. Read-only transfers transmit null bytes to clock in
	// the expected size of the returning data.
	Xfer(
		ctx context.Context,
		baud uint,
		chipSelect string,
		mode uint,
		tx []byte,
	) ([]byte, error)

	// Close closes the handle and releases the lock on the bus.
	Close() error
}

// A GPIOPin represents an individual GPIO line.
type GPIOPin interface {
	// Set sets the pin to either low or high.
	Set(ctx context.Context, high bool) error

	// Get gets the high/low state of the pin.
	Get(ctx context.Context) (bool, error)
}
