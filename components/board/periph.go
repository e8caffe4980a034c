package board

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	errHostInit  error
)

func initHost() error {
	hostInitOnce.Do(func() {
		_, errHostInit = host.Init()
	})
	return errHostInit
}

// NewPeriphSPI returns a bus backed by the spidev device "SPI<bus>.<chipSelect>" in periph.io.
func NewPeriphSPI(config SPIConfig) (SPI, error) {
	if err := initHost(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host")
	}
	return &spiBus{bus: config.BusSelect}, nil
}

type spiBus struct {
	mu  sync.Mutex
	bus string
}

type connKey struct {
	chipSelect string
	baud       uint
	mode       uint
}

type spiHandle struct {
	bus      *spiBus
	isClosed bool

	// The port stays open for the life of the handle. The driver polls with single byte
	// transfers, and reopening spidev for each of them is far too slow.
	port    spi.PortCloser
	portCS  string
	conns   map[connKey]spi.Conn
	txMutex sync.Mutex
}

func (sb *spiBus) OpenHandle() (SPIHandle, error) {
	sb.mu.Lock()
	return &spiHandle{bus: sb, conns: map[connKey]spi.Conn{}}, nil
}

func (sb *spiBus) Close(ctx context.Context) error {
	return nil
}

func (sh *spiHandle) conn(chipSelect string, baud, mode uint) (spi.Conn, error) {
	key := connKey{chipSelect, baud, mode}
	if c, ok := sh.conns[key]; ok {
		return c, nil
	}
	if sh.port != nil && sh.portCS != chipSelect {
		if err := sh.port.Close(); err != nil {
			return nil, err
		}
		sh.port = nil
		sh.conns = map[connKey]spi.Conn{}
	}
	if sh.port == nil {
		port, err := spireg.Open(fmt.Sprintf("SPI%s.%s", sh.bus.bus, chipSelect))
		if err != nil {
			return nil, err
		}
		sh.port = port
		sh.portCS = chipSelect
	}
	c, err := sh.port.Connect(physic.Hertz*physic.Frequency(baud), spi.Mode(mode), 8)
	if err != nil {
		return nil, err
	}
	sh.conns[key] = c
	return c, nil
}

func (sh *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	sh.txMutex.Lock()
	defer sh.txMutex.Unlock()
	if sh.isClosed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}

	c, err := sh.conn(chipSelect, baud, mode)
	if err != nil {
		return nil, err
	}
	rx := make([]byte, len(tx))
	return rx, c.Tx(tx, rx)
}

func (sh *spiHandle) Close() error {
	sh.txMutex.Lock()
	defer sh.txMutex.Unlock()
	if sh.isClosed {
		return nil
	}
	sh.isClosed = true
	var err error
	if sh.port != nil {
		err = multierr.Combine(err, sh.port.Close())
	}
	sh.bus.mu.Unlock()
	return err
}

type periphPin struct {
	pin gpio.PinIO
}

// PeriphGPIOPinByName looks up a pin in the periph.io registry.
func PeriphGPIOPinByName(pinName string) (GPIOPin, error) {
	if err := initHost(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host")
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", pinName)
	}
	return periphPin{pin}, nil
}

func (gp periphPin) Set(ctx context.Context, high bool) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return gp.pin.Out(l)
}

func (gp periphPin) Get(ctx context.Context) (bool, error) {
	return gp.pin.Read() == gpio.High, nil
}
