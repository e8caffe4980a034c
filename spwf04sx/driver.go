// Package spwf04sx drives an SPWF04Sx Wi-Fi co-processor over SPI. A single polling goroutine owns
// the link: it writes the active operation's request, reads response chunks into that operation's
// buffer, and queues unsolicited indications for dispatch when the link is idle. Callers submit
// operations in FIFO order and block on the operation's reads.
package spwf04sx

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/wifimodule/components/board"
	"go.viam.com/wifimodule/inflight"
	"go.viam.com/wifimodule/logging"
	"go.viam.com/wifimodule/utils"
)

// Defaults for Options.
const (
	DefaultBaudRate     = 4000000
	DefaultPollInterval = time.Millisecond

	backpressureDelay = 20 * time.Millisecond
)

// Options configures a Driver. Zero values take the defaults.
type Options struct {
	ChipSelect   string
	BaudRate     uint
	SPIMode      uint
	PollInterval time.Duration
	BufferSize   int
	Clock        clock.Clock

	// ForceSocketsTLS makes sockets opened through the socket facade use TLS.
	ForceSocketsTLS bool
	// ForceSocketsTLSCommonName, when set, is sent as the server common name for those sockets.
	ForceSocketsTLSCommonName string
}

type session struct {
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stopErr error
}

func newSession() *session {
	return &session{done: make(chan struct{})}
}

func (s *session) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopErr = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

type requestKind int

const (
	requestEnqueue requestKind = iota
	requestFinish
)

type request struct {
	kind  requestKind
	op    *Operation
	reply chan error
}

// Driver is the transport for one module.
type Driver struct {
	logger      logging.Logger
	frameLogger logging.Logger

	spi   board.SPI
	irq   board.GPIOPin
	reset board.GPIOPin

	opts      Options
	clk       clock.Clock
	pool      *OperationPool
	calls     *inflight.Manager
	listeners *listeners
	requests  chan request

	// stateMu serializes TurnOn and TurnOff.
	stateMu sync.Mutex
	// lifecycle is held shared from acquiring an operation until it is handed to the polling
	// goroutine, and exclusively while TurnOff resets the pool.
	lifecycle sync.RWMutex
	sess      *session
	workers   utils.StoppableWorkers
	handle    board.SPIHandle
	running   atomic.Bool

	state        atomic.Uint32
	pendingCount atomic.Int32

	// Owned by the polling goroutine while it runs, and by TurnOff after it has been joined.
	pending []*Operation
	active  *Operation
	events  []Event
	scratch []byte

	httpMu     sync.Mutex
	activeHTTP *Operation

	tlsMu         sync.Mutex
	forceTLS      bool
	tlsCommonName string

	hooksMu      sync.Mutex
	turnOffHooks []func()
}

// New returns a driver for the module on the given bus and pins. The module is held in reset
// until TurnOn.
func New(
	ctx context.Context,
	spi board.SPI,
	irq, reset board.GPIOPin,
	opts Options,
	logger logging.Logger,
) (*Driver, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = BufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	scratchSize := BufferSize
	if opts.BufferSize > scratchSize {
		scratchSize = opts.BufferSize
	}

	d := &Driver{
		logger:        logger,
		frameLogger:   logger.Sublogger("frames"),
		spi:           spi,
		irq:           irq,
		reset:         reset,
		opts:          opts,
		clk:           opts.Clock,
		pool:          NewOperationPoolWithBufferSize(opts.BufferSize),
		calls:         inflight.NewManager(opts.Clock.Now),
		listeners:     newListeners(),
		requests:      make(chan request),
		scratch:       make([]byte, scratchSize),
		forceTLS:      opts.ForceSocketsTLS,
		tlsCommonName: opts.ForceSocketsTLSCommonName,
	}
	d.state.Store(uint32(StateRadioTerminatedByUser))

	if err := reset.Set(ctx, false); err != nil {
		return nil, errors.Wrap(err, "holding module in reset")
	}
	return d, nil
}

// TurnOn starts the polling goroutine and releases the module from reset. It is a no-op when the
// driver is already on.
func (d *Driver) TurnOn(ctx context.Context) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.running.Load() {
		return nil
	}

	handle, err := d.spi.OpenHandle()
	if err != nil {
		return errors.Wrap(err, "opening SPI handle")
	}

	d.lifecycle.Lock()
	sess := newSession()
	d.sess = sess
	d.handle = handle
	d.pending = nil
	d.active = nil
	d.events = nil
	d.pendingCount.Store(0)
	d.running.Store(true)
	d.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		d.poll(ctx, sess)
	})
	d.lifecycle.Unlock()

	if err := d.reset.Set(ctx, true); err != nil {
		return multierr.Combine(errors.Wrap(err, "releasing module from reset"), d.turnOffLocked(ctx))
	}
	d.logger.CInfow(ctx, "module turned on")
	return nil
}

// TurnOff joins the polling goroutine, holds the module in reset, and forgets every pending
// operation, socket and open HTTP request. Calls blocked on the module return ErrStopped.
func (d *Driver) TurnOff(ctx context.Context) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.turnOffLocked(ctx)
}

func (d *Driver) turnOffLocked(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	// The polling goroutine is joined before reset is asserted, so a transfer cut off by the reset
	// cannot become the session's stop error.
	d.workers.Stop()
	d.sess.stop(ErrStopped)
	resetErr := d.reset.Set(ctx, false)

	d.lifecycle.Lock()
	d.running.Store(false)
	d.pending = nil
	d.active = nil
	d.events = nil
	d.pendingCount.Store(0)
	d.httpMu.Lock()
	d.activeHTTP = nil
	d.httpMu.Unlock()
	d.pool.ResetAll()
	handle := d.handle
	d.handle = nil
	d.lifecycle.Unlock()

	d.hooksMu.Lock()
	hooks := append([]func(){}, d.turnOffHooks...)
	d.hooksMu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	d.state.Store(uint32(StateRadioTerminatedByUser))
	d.logger.CInfow(ctx, "module turned off")
	return multierr.Combine(errors.Wrap(resetErr, "holding module in reset"), handle.Close())
}

// Close turns the driver off and closes the bus.
func (d *Driver) Close(ctx context.Context) error {
	return multierr.Combine(d.TurnOff(ctx), d.spi.Close(ctx))
}

// AddTurnOffHook registers fn to run every time the driver is turned off, after the polling
// goroutine has stopped.
func (d *Driver) AddTurnOffHook(fn func()) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.turnOffHooks = append(d.turnOffHooks, fn)
}

// Running reports whether the polling goroutine is alive.
func (d *Driver) Running() bool {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if !d.running.Load() {
		return false
	}
	select {
	case <-d.sess.done:
		return false
	default:
		return true
	}
}

// Err returns why the polling goroutine stopped, or nil while it runs.
func (d *Driver) Err() error {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.sess == nil {
		return nil
	}
	select {
	case <-d.sess.done:
		return d.sess.err()
	default:
		return nil
	}
}

// Done returns a channel that is closed when the current polling goroutine stops. It is nil before
// the first TurnOn.
func (d *Driver) Done() <-chan struct{} {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.sess == nil {
		return nil
	}
	return d.sess.done
}

// State returns the module state from the most recent frame.
func (d *Driver) State() WiFiState {
	return WiFiState(d.state.Load())
}

// IsUp reports whether the module is ready to transmit data.
func (d *Driver) IsUp() bool {
	return d.State() == StateReadyToTransmit
}

// SetForceSocketsTLS controls whether facade sockets are opened with TLS, and with which server
// common name.
func (d *Driver) SetForceSocketsTLS(force bool, commonName string) {
	d.tlsMu.Lock()
	defer d.tlsMu.Unlock()
	d.forceTLS = force
	d.tlsCommonName = commonName
}

// ForceSocketsTLS returns the settings from SetForceSocketsTLS.
func (d *Driver) ForceSocketsTLS() (bool, string) {
	d.tlsMu.Lock()
	defer d.tlsMu.Unlock()
	return d.forceTLS, d.tlsCommonName
}

// Calls returns the tracker of public calls in progress.
func (d *Driver) Calls() *inflight.Manager {
	return d.calls
}

// Status is a snapshot of the driver for diagnostics.
type Status struct {
	Running       bool
	State         WiFiState
	Pending       int
	PoolSize      int
	PoolAvailable int
	Calls         []*inflight.Call
}

// Status returns a snapshot of the driver.
func (d *Driver) Status() Status {
	return Status{
		Running:       d.Running(),
		State:         d.State(),
		Pending:       int(d.pendingCount.Load()),
		PoolSize:      d.pool.Size(),
		PoolAvailable: d.pool.Available(),
		Calls:         d.calls.All(),
	}
}

// AcquireOperation returns an operation bound to an empty buffer. It must be enqueued, or returned
// with ReleaseOperation.
func (d *Driver) AcquireOperation() *Operation {
	return d.pool.Acquire()
}

// ReleaseOperation returns an operation that was never enqueued to the pool.
func (d *Driver) ReleaseOperation(op *Operation) error {
	return d.pool.Release(op)
}

// EnqueueOperation hands op to the polling goroutine. Operations become active one at a time, in
// the order they were enqueued. ctx is only observed until op has been handed over.
func (d *Driver) EnqueueOperation(ctx context.Context, op *Operation) error {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	return d.enqueueLocked(ctx, op)
}

func (d *Driver) enqueueLocked(ctx context.Context, op *Operation) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := d.sess
	op.attach(sess)
	select {
	case d.requests <- request{kind: requestEnqueue, op: op}:
		return nil
	case <-sess.done:
		op.attach(nil)
		return sess.err()
	case <-ctx.Done():
		op.attach(nil)
		return ctx.Err()
	}
}

// FinishOperation releases the active operation and activates the next pending one. It fails with
// ErrNotActive for any other operation and with ErrNotWritten while op's request is still being
// sent.
func (d *Driver) FinishOperation(op *Operation) error {
	op.mu.Lock()
	sess := op.sess
	op.mu.Unlock()
	if sess == nil {
		return ErrNotEnqueued
	}

	reply := make(chan error, 1)
	select {
	case d.requests <- request{kind: requestFinish, op: op, reply: reply}:
	case <-sess.done:
		return sess.err()
	}
	select {
	case err := <-reply:
		return err
	case <-sess.done:
		return sess.err()
	}
}

// submit acquires an operation, lets build fill it in, and enqueues it.
func (d *Driver) submit(ctx context.Context, build func(op *Operation) error) (*Operation, error) {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if !d.running.Load() {
		return nil, ErrNotRunning
	}

	op := d.pool.Acquire()
	guard := utils.NewGuard(func() {
		if err := d.pool.Release(op); err != nil {
			d.logger.Errorw("releasing unsent operation", "error", err)
		}
	})
	defer guard.OnFail()

	if err := build(op); err != nil {
		return nil, err
	}
	if err := d.enqueueLocked(ctx, op); err != nil {
		return nil, err
	}
	guard.Success()
	return op, nil
}

func (d *Driver) handleRequest(req request) {
	switch req.kind {
	case requestEnqueue:
		if d.active == nil {
			d.active = req.op
		} else {
			d.pending = append(d.pending, req.op)
			d.pendingCount.Store(int32(len(d.pending)))
		}
	case requestFinish:
		req.reply <- d.finish(req.op)
	}
}

func (d *Driver) finish(op *Operation) error {
	if op != d.active {
		return ErrNotActive
	}
	if !op.Written() {
		return ErrNotWritten
	}
	err := d.pool.Release(op)
	d.active = nil
	if len(d.pending) != 0 {
		d.active = d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
	}
	d.pendingCount.Store(int32(len(d.pending)))
	return err
}

// drainRequests handles every request that is already waiting, without blocking.
func (d *Driver) drainRequests() {
	for {
		select {
		case req := <-d.requests:
			d.handleRequest(req)
		default:
			return
		}
	}
}

func (d *Driver) poll(ctx context.Context, sess *session) {
	d.logger.CDebugw(ctx, "polling loop started")
	ticker := d.clk.Ticker(d.opts.PollInterval)
	defer ticker.Stop()

	var stopErr error
	defer func() {
		if r := recover(); r != nil {
			stopErr = errors.Errorf("polling loop panicked: %v", r)
			sess.stop(stopErr)
			d.logger.CErrorw(ctx, "polling loop stopped", "error", stopErr)
			return
		}
		if stopErr == nil {
			stopErr = ErrStopped
		}
		sess.stop(stopErr)
	}()

	for {
		d.drainRequests()

		result, err := d.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.CErrorw(ctx, "polling loop stopped", "error", err)
			stopErr = err
			return
		}
		switch result {
		case stepProgress:
			if ctx.Err() != nil {
				return
			}
			continue
		case stepBusy:
			// The module asserted the line but had nothing to send yet.
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		case stepIdle:
		}

		if len(d.events) != 0 {
			events := d.events
			d.events = nil
			d.dispatch(events)
		}

		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			d.handleRequest(req)
		case <-ticker.C:
		}
	}
}

type stepResult int

const (
	stepIdle stepResult = iota
	stepProgress
	stepBusy
)

// step runs one polling iteration and reports what the link did.
func (d *Driver) step(ctx context.Context) (stepResult, error) {
	hasWrite := d.active != nil && !d.active.Written()
	level, err := d.irq.Get(ctx)
	if err != nil {
		return stepIdle, errors.Wrap(err, "reading interrupt line")
	}
	hasIRQ := !level
	if !hasIRQ && !hasWrite {
		return stepIdle, nil
	}

	wantWrite := !hasIRQ && hasWrite
	handshake := SyncIdle
	if wantWrite {
		handshake = SyncWrite
	}
	rx, err := d.xfer(ctx, []byte{handshake})
	if err != nil {
		return stepProgress, errors.Wrap(err, "exchanging handshake byte")
	}

	switch {
	case wantWrite && rx[0] != SyncHasData:
		return stepProgress, d.writeActive(ctx)
	case rx[0] == SyncHasData:
		return stepProgress, d.readFrame(ctx)
	default:
		return stepBusy, nil
	}
}

func (d *Driver) xfer(ctx context.Context, tx []byte) ([]byte, error) {
	rx, err := d.handle.Xfer(ctx, d.opts.BaudRate, d.opts.ChipSelect, d.opts.SPIMode, tx)
	if err != nil {
		return nil, err
	}
	if len(rx) != len(tx) {
		return nil, protocolViolationf("transfer of %d bytes returned %d", len(tx), len(rx))
	}
	return rx, nil
}

// readN clocks in n bytes by sending zeros.
func (d *Driver) readN(ctx context.Context, n int) ([]byte, error) {
	return d.xfer(ctx, d.scratch[:n])
}

func (d *Driver) writeActive(ctx context.Context) error {
	op := d.active
	d.frameLogger.CDebugw(ctx, "writing request",
		"command", op.Command().String(), "params", len(op.Parameters()), "payload", len(op.Payload()))

	if _, err := d.xfer(ctx, op.Header()); err != nil {
		return errors.Wrap(err, "writing request header")
	}
	if payload := op.Payload(); len(payload) > 0 {
		// The module pulls the line low when it is ready for the payload and releases it once
		// the payload has been buffered.
		if err := d.waitIRQ(ctx, false); err != nil {
			return err
		}
		if _, err := d.xfer(ctx, payload); err != nil {
			return errors.Wrap(err, "writing request payload")
		}
		if err := d.waitIRQ(ctx, true); err != nil {
			return err
		}
	}
	op.markWritten()
	return nil
}

func (d *Driver) waitIRQ(ctx context.Context, high bool) error {
	for {
		level, err := d.irq.Get(ctx)
		if err != nil {
			return errors.Wrap(err, "reading interrupt line")
		}
		if level == high {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}

func (d *Driver) readFrame(ctx context.Context) error {
	raw, err := d.readN(ctx, ResponseHeaderSize)
	if err != nil {
		return errors.Wrap(err, "reading response header")
	}
	h, err := ParseResponseHeader(raw)
	if err != nil {
		return err
	}
	d.state.Store(uint32(h.State))
	d.frameLogger.CDebugw(ctx, "read response header",
		"type", h.Type.String(), "state", h.State.String(), "code", h.Code, "length", h.Length)

	if h.Type.Unsolicited() {
		return d.readEvent(ctx, h)
	}

	op := d.active
	if op == nil || !op.Written() {
		return protocolViolationf("unexpected payload of %d bytes with no active written operation", h.Length)
	}
	if h.Length == 0 {
		return op.deposit(nil)
	}

	buf := op.Buffer()
	stalled := false
	for remaining := h.Length; remaining > 0; {
		for buf.AvailableWrite() == 0 {
			if buf.TryCompress() && buf.AvailableWrite() > 0 {
				break
			}
			if !stalled {
				d.frameLogger.CDebugw(ctx, "receive buffer full, waiting for reader",
					"command", op.Command().String(), "remaining", remaining)
				stalled = true
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.clk.After(backpressureDelay):
			}
		}

		n := buf.AvailableWrite()
		if remaining < n {
			n = remaining
		}
		data, err := d.readN(ctx, n)
		if err != nil {
			return errors.Wrap(err, "reading response payload")
		}
		if err := op.deposit(data); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func (d *Driver) readEvent(ctx context.Context, h ResponseHeader) error {
	if h.Length > len(d.scratch) {
		return protocolViolationf("%s of %d bytes exceeds %d", h.Type, h.Length, len(d.scratch))
	}
	var payload []byte
	if h.Length > 0 {
		var err error
		if payload, err = d.readN(ctx, h.Length); err != nil {
			return errors.Wrapf(err, "reading %s payload", h.Type)
		}
	}
	ev := Event{
		Type:    h.Type,
		Code:    h.Code,
		State:   h.State,
		Message: strings.ToValidUTF8(string(payload), "�"),
	}
	d.frameLogger.CDebugw(ctx, "queued event", "event", ev.String())
	d.events = append(d.events, ev)
	return nil
}
