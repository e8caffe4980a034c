// Package fakemodule simulates the co-processor side of the SPI link, so the driver can be tested
// without hardware. A Module decodes the requests it is sent, answers them with scripted frames,
// and drives the interrupt line the way the real module does.
package fakemodule

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/wifimodule/components/board"
	"go.viam.com/wifimodule/spwf04sx"
	"go.viam.com/wifimodule/testutils/inject"
)

// Frame is one frame the module sends to the host. The module fills in its current state when the
// frame goes out.
type Frame struct {
	Type    spwf04sx.FrameType
	Code    byte
	Payload []byte
}

// Chunk is a response chunk carrying text.
func Chunk(text string) Frame {
	return Data([]byte(text))
}

// Data is a response chunk carrying raw bytes.
func Data(b []byte) Frame {
	return Frame{Type: spwf04sx.FrameResponse, Payload: b}
}

// End is the zero length chunk that terminates a response.
func End() Frame {
	return Frame{Type: spwf04sx.FrameResponse}
}

// Indication is an unsolicited indication.
func Indication(code spwf04sx.Indication, text string) Frame {
	return Frame{Type: spwf04sx.FrameIndication, Code: byte(code), Payload: []byte(text)}
}

// ErrorFrame is an unsolicited error report.
func ErrorFrame(code byte, text string) Frame {
	return Frame{Type: spwf04sx.FrameError, Code: code, Payload: []byte(text)}
}

// Request is a request the module received.
type Request struct {
	spwf04sx.Request
	Payload []byte
}

// Handler answers a request with the frames to send back. It runs with the module locked, so it
// must not call the module's methods.
type Handler func(req Request) []Frame

type phase int

const (
	phaseIdle phase = iota
	phaseRequestHeader
	phaseRequestPayload
	phasePayloadBuffered
	phaseFrameHeader
	phaseFramePayload
)

// Module is a simulated co-processor. Its SPI, IRQ and Reset fields are what the driver is
// constructed with.
type Module struct {
	SPI   *inject.SPI
	IRQ   *inject.GPIOPin
	Reset *inject.GPIOPin

	mu         sync.Mutex
	phase      phase
	state      spwf04sx.WiFiState
	inReset    bool
	handlers   map[spwf04sx.CommandID]Handler
	outbound   []Frame
	sentOffset int
	pending    Request
	requests   []Request
	handles    int
}

// New returns a module held in reset, reporting StateReadyToTransmit once released.
func New() *Module {
	m := &Module{
		state:    spwf04sx.StateReadyToTransmit,
		inReset:  true,
		handlers: map[spwf04sx.CommandID]Handler{},
	}
	m.SPI = &inject.SPI{
		OpenHandleFunc: func() (board.SPIHandle, error) {
			m.mu.Lock()
			m.handles++
			m.mu.Unlock()
			return &inject.SPIHandle{
				XferFunc: func(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
					return m.xfer(tx)
				},
				CloseFunc: func() error {
					m.mu.Lock()
					defer m.mu.Unlock()
					m.handles--
					return nil
				},
			}, nil
		},
		CloseFunc: func(ctx context.Context) error { return nil },
	}
	m.IRQ = &inject.GPIOPin{
		GetFunc: func(ctx context.Context) (bool, error) {
			return m.irqLevel(), nil
		},
		SetFunc: func(ctx context.Context, high bool) error {
			return errors.New("interrupt line is an input")
		},
	}
	m.Reset = &inject.GPIOPin{
		SetFunc: func(ctx context.Context, high bool) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !high {
				m.phase = phaseIdle
				m.outbound = nil
				m.sentOffset = 0
			}
			m.inReset = !high
			return nil
		},
		GetFunc: func(ctx context.Context) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return !m.inReset, nil
		},
	}
	return m
}

// OnCommand sets the handler for cmd. A command without a handler is answered with End().
func (m *Module) OnCommand(cmd spwf04sx.CommandID, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[cmd] = handler
}

// Reply answers cmd with the same frames every time.
func (m *Module) Reply(cmd spwf04sx.CommandID, frames ...Frame) {
	m.OnCommand(cmd, func(Request) []Frame { return frames })
}

// Push queues frames to be sent to the host as soon as it polls.
func (m *Module) Push(frames ...Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound = append(m.outbound, frames...)
}

// SetState changes the state reported in subsequent frames.
func (m *Module) SetState(state spwf04sx.WiFiState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// InReset reports whether the reset line is held low.
func (m *Module) InReset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inReset
}

// OpenHandles returns how many SPI handles are open.
func (m *Module) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles
}

// Requests returns every request received, in order.
func (m *Module) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Commands returns the command of every request received, in order.
func (m *Module) Commands() []spwf04sx.CommandID {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmds := make([]spwf04sx.CommandID, 0, len(m.requests))
	for _, req := range m.requests {
		cmds = append(cmds, req.Command)
	}
	return cmds
}

// irqLevel is low while the module wants the payload of a request or has frames to send.
func (m *Module) irqLevel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case phaseRequestPayload:
		return false
	case phasePayloadBuffered:
		// The line goes high once to acknowledge the payload before the reply is queued.
		m.phase = phaseIdle
		m.handle(m.pending)
		return true
	default:
		return m.inReset || len(m.outbound) == 0
	}
}

func (m *Module) xfer(tx []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inReset {
		return nil, errors.New("module is in reset")
	}

	switch m.phase {
	case phaseIdle:
		if len(tx) != 1 {
			return nil, errors.Errorf("expected handshake byte, got %d bytes", len(tx))
		}
		if len(m.outbound) != 0 {
			m.phase = phaseFrameHeader
			return []byte{spwf04sx.SyncHasData}, nil
		}
		if tx[0] == spwf04sx.SyncWrite {
			m.phase = phaseRequestHeader
		}
		return []byte{spwf04sx.SyncIdle}, nil

	case phaseRequestHeader:
		req, err := spwf04sx.DecodeRequestHeader(tx)
		if err != nil {
			return nil, err
		}
		m.pending = Request{Request: req}
		if req.PayloadLength > 0 {
			m.phase = phaseRequestPayload
		} else {
			m.phase = phaseIdle
			m.handle(m.pending)
		}
		return make([]byte, len(tx)), nil

	case phaseRequestPayload:
		if len(tx) != m.pending.PayloadLength {
			return nil, errors.Errorf("expected %d payload bytes, got %d", m.pending.PayloadLength, len(tx))
		}
		m.pending.Payload = append([]byte(nil), tx...)
		m.phase = phasePayloadBuffered
		return make([]byte, len(tx)), nil

	case phaseFrameHeader:
		if len(tx) != spwf04sx.ResponseHeaderSize {
			return nil, errors.Errorf("expected response header read, got %d bytes", len(tx))
		}
		frame := m.outbound[0]
		h := spwf04sx.ResponseHeader{
			Type:   frame.Type,
			State:  m.state,
			Code:   frame.Code,
			Length: len(frame.Payload),
		}
		if len(frame.Payload) == 0 {
			m.outbound = m.outbound[1:]
			m.phase = phaseIdle
		} else {
			m.sentOffset = 0
			m.phase = phaseFramePayload
		}
		return h.Bytes(), nil

	case phaseFramePayload:
		frame := m.outbound[0]
		remaining := frame.Payload[m.sentOffset:]
		if len(tx) > len(remaining) {
			return nil, errors.Errorf("read of %d bytes past the %d left in the frame", len(tx), len(remaining))
		}
		rx := append([]byte(nil), remaining[:len(tx)]...)
		m.sentOffset += len(tx)
		if m.sentOffset == len(frame.Payload) {
			m.outbound = m.outbound[1:]
			m.sentOffset = 0
			m.phase = phaseIdle
		}
		return rx, nil

	default:
		return nil, errors.Errorf("transfer while waiting for the interrupt line, phase %d", m.phase)
	}
}

// handle must be called with m.mu held.
func (m *Module) handle(req Request) {
	m.requests = append(m.requests, req)
	handler, ok := m.handlers[req.Command]
	if !ok {
		m.outbound = append(m.outbound, End())
		return
	}
	m.outbound = append(m.outbound, handler(req)...)
}
