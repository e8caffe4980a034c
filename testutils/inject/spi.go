// Package inject provides function-injected implementations of the hardware interfaces so tests
// can script bus and pin behavior.
package inject

import (
	"context"

	"go.viam.com/wifimodule/components/board"
)

// SPI is an injected SPI.
type SPI struct {
	board.SPI
	OpenHandleFunc func() (board.SPIHandle, error)
	CloseFunc      func(ctx context.Context) error
}

// OpenHandle calls the injected OpenHandle or the real version.
func (s *SPI) OpenHandle() (board.SPIHandle, error) {
	if s.OpenHandleFunc == nil {
		return s.SPI.OpenHandle()
	}
	return s.OpenHandleFunc()
}

// Close calls the injected Close or the real version.
func (s *SPI) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.SPI == nil {
			return nil
		}
		return s.SPI.Close(ctx)
	}
	return s.CloseFunc(ctx)
}

// SPIHandle is an injected connection to an SPI bus.
type SPIHandle struct {
	board.SPIHandle
	XferFunc  func(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error)
	CloseFunc func() error
}

// Xfer calls the injected XferFunc or the real version.
func (s *SPIHandle) Xfer(
	ctx context.Context,
	baud uint,
	chipSelect string,
	mode uint,
	tx []byte,
) ([]byte, error) {
	if s.XferFunc == nil {
		return s.SPIHandle.Xfer(ctx, baud, chipSelect, mode, tx)
	}
	return s.XferFunc(ctx, baud, chipSelect, mode, tx)
}

// Close calls the injected CloseFunc or the real version.
func (s *SPIHandle) Close() error {
	if s.CloseFunc == nil {
		if s.SPIHandle == nil {
			return nil
		}
		return s.SPIHandle.Close()
	}
	return s.CloseFunc()
}
