package spwf04sx

import (
	"math/bits"
	"sync"

	"github.com/pkg/errors"
)

const (
	// MaxParameters is the most parameters a request frame can carry.
	MaxParameters = 16
	// MaxParameterLength is the longest parameter a one byte length prefix can describe.
	MaxParameterLength = 0xFF
	// MaxFrameLength is the largest value the two byte request length field can hold.
	MaxFrameLength = 0xFFFF

	initialHeaderSize = 4
)

// Operation is one request/response exchange with the module. It is owned by exactly one caller
// between Acquire and Release; the polling loop only touches it while it is the active operation.
type Operation struct {
	params  []string
	command CommandID

	header    []byte
	headerLen int
	payload   []byte

	buffer *Buffer

	mu          sync.Mutex
	written     bool
	writtenCh   chan struct{}
	pending     []int
	partialRead int
	chunkCh     chan struct{}
	sess        *session
}

func newOperation() *Operation {
	op := &Operation{
		params: make([]string, 0, MaxParameters),
		header: make([]byte, initialHeaderSize),
	}
	op.reset()
	return op
}

func (op *Operation) bind(buf *Buffer) {
	op.reset()
	buf.Reset()
	op.buffer = buf
}

func (op *Operation) reset() {
	op.mu.Lock()
	defer op.mu.Unlock()

	op.params = op.params[:0]
	op.command = 0
	op.headerLen = 0
	op.payload = nil
	op.buffer = nil
	op.written = false
	op.writtenCh = make(chan struct{})
	op.pending = op.pending[:0]
	op.partialRead = 0
	op.chunkCh = make(chan struct{}, 1)
	op.sess = nil
}

// Buffer returns the receive buffer bound to the operation.
func (op *Operation) Buffer() *Buffer {
	return op.buffer
}

// AddParameter appends a parameter. An empty string is sent as an omitted parameter.
func (op *Operation) AddParameter(param string) *Operation {
	op.params = append(op.params, param)
	return op
}

// Parameters returns the parameters added so far.
func (op *Operation) Parameters() []string {
	return op.params
}

// Command returns the command set by SetCommand.
func (op *Operation) Command() CommandID {
	return op.command
}

// Header returns the encoded request header.
func (op *Operation) Header() []byte {
	return op.header[:op.headerLen]
}

// Payload returns the raw payload sent after the header. It is the caller's memory, not a copy.
func (op *Operation) Payload() []byte {
	return op.payload
}

// SetCommand encodes the request header for cmd and the parameters added so far:
//
//	[lenHi][lenLo][cmd][paramCount]{[paramLen][paramBytes]}*
//
// where len counts every byte after the length field plus the payload. payload may be nil.
func (op *Operation) SetCommand(cmd CommandID, payload []byte) error {
	if len(op.params) > MaxParameters {
		return errors.Wrapf(ErrTooManyParameters, "%d > %d", len(op.params), MaxParameters)
	}
	required := initialHeaderSize
	for i, p := range op.params {
		if len(p) > MaxParameterLength {
			return errors.Errorf("parameter %d is %d bytes, longer than %d", i, len(p), MaxParameterLength)
		}
		required += 1 + len(p)
	}
	frameLen := required - 2 + len(payload)
	if frameLen > MaxFrameLength {
		return errors.Errorf("frame length %d exceeds %d", frameLen, MaxFrameLength)
	}
	op.ensureHeaderSize(required)

	idx := 0
	op.header[idx] = byte(frameLen >> 8)
	idx++
	op.header[idx] = byte(frameLen)
	idx++
	op.header[idx] = byte(cmd)
	idx++
	op.header[idx] = byte(len(op.params))
	idx++
	for _, p := range op.params {
		op.header[idx] = byte(len(p))
		idx++
		idx += copy(op.header[idx:], p)
	}

	op.command = cmd
	op.headerLen = idx
	op.payload = payload
	return nil
}

// ensureHeaderSize grows the header to the next power of two that holds required bytes.
func (op *Operation) ensureHeaderSize(required int) {
	if required <= len(op.header) {
		return
	}
	op.header = make([]byte, 1<<bits.Len(uint(required-1)))
}

func (op *Operation) attach(sess *session) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.sess = sess
}

// Written reports whether the header and payload have been fully transmitted.
func (op *Operation) Written() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.written
}

func (op *Operation) markWritten() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.written {
		return
	}
	op.written = true
	close(op.writtenCh)
}

// deposit appends a received chunk to the buffer and queues its length, waking a blocked reader.
// The caller guarantees data fits in the buffer's write window.
func (op *Operation) deposit(data []byte) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if n := op.buffer.Write(data); n != len(data) {
		return protocolViolationf("chunk of %d bytes overflows buffer by %d", len(data), len(data)-n)
	}
	op.pending = append(op.pending, len(data))
	select {
	case op.chunkCh <- struct{}{}:
	default:
	}
	return nil
}

// DataAvailable reports whether a received chunk is waiting to be read.
func (op *Operation) DataAvailable() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.pending) != 0
}

// lockReady blocks until the operation has been written and has a chunk queued. On success it
// returns with op.mu held. It fails once the driver session the operation was enqueued on ends.
func (op *Operation) lockReady() error {
	for {
		op.mu.Lock()
		if op.sess == nil {
			op.mu.Unlock()
			return ErrNotEnqueued
		}
		if op.written && len(op.pending) != 0 {
			return nil
		}
		wait := op.chunkCh
		if !op.written {
			wait = nil
		}
		writtenCh, done := op.writtenCh, op.sess.done
		sess := op.sess
		op.mu.Unlock()

		select {
		case <-writtenCh:
		case <-wait:
		case <-done:
			return sess.err()
		}
	}
}

// ReadString consumes the next chunk, or what remains of it, as UTF-8 text.
func (op *Operation) ReadString() (string, error) {
	if err := op.lockReady(); err != nil {
		return "", err
	}
	defer op.mu.Unlock()

	n := op.pending[0] - op.partialRead
	out := make([]byte, n)
	if err := op.buffer.Read(out, n); err != nil {
		return "", protocolViolationf("%v", err)
	}
	op.popChunk()
	return string(out), nil
}

// ReadBuffer copies the next chunk into dst. When dst is shorter than what remains of the chunk,
// it is filled and the rest of the chunk is kept for the next call. A return of 0 means a zero
// length chunk (the module's end of data marker) or an empty dst.
func (op *Operation) ReadBuffer(dst []byte) (int, error) {
	if err := op.lockReady(); err != nil {
		return 0, err
	}
	defer op.mu.Unlock()

	n := op.pending[0] - op.partialRead
	if n <= len(dst) {
		if err := op.buffer.Read(dst, n); err != nil {
			return 0, protocolViolationf("%v", err)
		}
		op.popChunk()
		return n, nil
	}

	n = len(dst)
	if err := op.buffer.Read(dst, n); err != nil {
		return 0, protocolViolationf("%v", err)
	}
	op.partialRead += n
	return n, nil
}

// Discard drops the next chunk, or what remains of it, and returns its length.
func (op *Operation) Discard() (int, error) {
	if err := op.lockReady(); err != nil {
		return 0, err
	}
	defer op.mu.Unlock()

	n := op.pending[0] - op.partialRead
	if err := op.buffer.Read(nil, n); err != nil {
		return 0, protocolViolationf("%v", err)
	}
	op.popChunk()
	return n, nil
}

// Peek returns the unread length of the next chunk without consuming it.
func (op *Operation) Peek() (int, error) {
	if err := op.lockReady(); err != nil {
		return 0, err
	}
	defer op.mu.Unlock()
	return op.pending[0] - op.partialRead, nil
}

// popChunk must be called with op.mu held.
func (op *Operation) popChunk() {
	op.pending = op.pending[1:]
	op.partialRead = 0
}
