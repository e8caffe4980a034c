// Package netif exposes a module's client sockets through a small socket API with integer handles,
// and adapts that API to net.Conn.
package netif

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"go.viam.com/wifimodule/logging"
	"go.viam.com/wifimodule/spwf04sx"
)

var (
	// ErrUnknownSocket is returned for a handle that was never created or is already closed.
	ErrUnknownSocket = errors.New("unknown socket")
	// ErrNotConnected is returned when moving data on a socket that is not connected.
	ErrNotConnected = errors.New("socket is not connected")
	// ErrUnsupported is returned for anything other than IPv4 TCP client sockets.
	ErrUnsupported = errors.New("unsupported by the module")
)

// Infinite is a Receive timeout that never expires.
const Infinite time.Duration = -1

// DefaultPollInterval is how often Receive asks the module for pending data.
const DefaultPollInterval = time.Millisecond

// Family is a socket address family.
type Family int

// Address families.
const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// SocketType is a socket type.
type SocketType int

// Socket types.
const (
	SocketStream SocketType = iota
	SocketDatagram
)

// Protocol is a socket protocol.
type Protocol int

// Protocols.
const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

// PollMode selects what Poll checks.
type PollMode int

// Poll modes.
const (
	PollRead PollMode = iota
	PollWrite
	PollError
)

// Flags are socket send and receive flags. Only zero is supported.
type Flags int

// SocketState is where a handle is in its lifecycle.
type SocketState int

// Socket states. A closed handle is removed, so it is never observed in a listing.
const (
	SocketCreated SocketState = iota
	SocketConnected
)

func (s SocketState) String() string {
	if s == SocketConnected {
		return "connected"
	}
	return "created"
}

// SocketInfo describes a handle.
type SocketInfo struct {
	Handle   int
	State    SocketState
	ModuleID int
	Remote   netip.AddrPort
}

type socket struct {
	state    SocketState
	moduleID int
	remote   netip.AddrPort
}

// Module is the part of the driver the socket API is built on.
type Module interface {
	OpenSocket(
		ctx context.Context,
		host string,
		port int,
		connType spwf04sx.ConnectionType,
		security spwf04sx.SecurityType,
		commonName string,
	) (int, error)
	CloseSocket(ctx context.Context, socket int) error
	WriteSocket(ctx context.Context, socket int, data []byte) error
	ReadSocket(ctx context.Context, socket int, dst []byte) (int, error)
	QuerySocket(ctx context.Context, socket int) (int, error)
	LookupHost(ctx context.Context, name string) (string, error)
	ForceSocketsTLS() (bool, string)
	AddTurnOffHook(fn func())
}

// Interface maps socket handles onto module sockets.
type Interface struct {
	module       Module
	logger       logging.Logger
	clk          clock.Clock
	pollInterval time.Duration

	mu      sync.Mutex
	sockets map[int]*socket
	nextID  int
}

// New returns an Interface over module. Every handle is forgotten when the module is turned off.
func New(module Module, logger logging.Logger) *Interface {
	return NewWithClock(module, clock.New(), DefaultPollInterval, logger)
}

// NewWithClock is New with an injected clock and Receive polling interval.
func NewWithClock(module Module, clk clock.Clock, pollInterval time.Duration, logger logging.Logger) *Interface {
	iface := &Interface{
		module:       module,
		logger:       logger,
		clk:          clk,
		pollInterval: pollInterval,
		sockets:      map[int]*socket{},
	}
	module.AddTurnOffHook(iface.reset)
	return iface
}

func (iface *Interface) reset() {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if len(iface.sockets) != 0 {
		iface.logger.Debugw("forgetting sockets", "count", len(iface.sockets))
	}
	iface.sockets = map[int]*socket{}
	iface.nextID = 0
}

// Create allocates a handle. Only IPv4 stream TCP sockets are supported.
func (iface *Interface) Create(family Family, typ SocketType, proto Protocol) (int, error) {
	if family != FamilyIPv4 || typ != SocketStream || proto != ProtocolTCP {
		return 0, errors.Wrapf(ErrUnsupported, "family %d type %d protocol %d", family, typ, proto)
	}
	iface.mu.Lock()
	defer iface.mu.Unlock()
	id := iface.nextID
	iface.nextID++
	iface.sockets[id] = &socket{state: SocketCreated}
	return id, nil
}

func (iface *Interface) lookup(handle int) (*socket, error) {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	s, ok := iface.sockets[handle]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSocket, "handle %d", handle)
	}
	return s, nil
}

func (iface *Interface) moduleID(handle int) (int, error) {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	s, ok := iface.sockets[handle]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownSocket, "handle %d", handle)
	}
	if s.state != SocketConnected {
		return 0, errors.Wrapf(ErrNotConnected, "handle %d", handle)
	}
	return s.moduleID, nil
}

// Connect opens the module connection for handle. TLS is used when the driver forces it.
func (iface *Interface) Connect(ctx context.Context, handle int, remote netip.AddrPort) error {
	s, err := iface.lookup(handle)
	if err != nil {
		return err
	}
	if !remote.Addr().Is4() {
		return errors.Wrapf(ErrUnsupported, "address %s", remote.Addr())
	}
	if s.state == SocketConnected {
		return errors.Errorf("handle %d is already connected", handle)
	}

	security := spwf04sx.SecurityNone
	forceTLS, commonName := iface.module.ForceSocketsTLS()
	if forceTLS {
		security = spwf04sx.SecurityTLS
	} else {
		commonName = ""
	}
	id, err := iface.module.OpenSocket(ctx, remote.Addr().String(), int(remote.Port()), spwf04sx.ConnectionTCP, security, commonName)
	if err != nil {
		return err
	}

	iface.mu.Lock()
	defer iface.mu.Unlock()
	if iface.sockets[handle] != s {
		// Closed, or the module was turned off, while connecting.
		goutils.UncheckedError(iface.module.CloseSocket(ctx, id))
		return errors.Wrapf(ErrUnknownSocket, "handle %d", handle)
	}
	s.state = SocketConnected
	s.moduleID = id
	s.remote = remote
	return nil
}

// Send writes all of data to the socket and returns len(data).
func (iface *Interface) Send(ctx context.Context, handle int, data []byte, flags Flags) (int, error) {
	if flags != 0 {
		return 0, errors.Wrapf(ErrUnsupported, "send flags %d", flags)
	}
	id, err := iface.moduleID(handle)
	if err != nil {
		return 0, err
	}
	if err := iface.module.WriteSocket(ctx, id, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Receive waits up to timeout for data on the socket and reads at most len(dst) bytes of it. It
// returns 0 when the timeout expires with nothing pending. A timeout of Infinite waits until data
// arrives or ctx is done.
func (iface *Interface) Receive(ctx context.Context, handle int, dst []byte, flags Flags, timeout time.Duration) (int, error) {
	if flags != 0 {
		return 0, errors.Wrapf(ErrUnsupported, "receive flags %d", flags)
	}
	if timeout != Infinite && timeout < 0 {
		return 0, errors.Errorf("invalid timeout %s", timeout)
	}
	id, err := iface.moduleID(handle)
	if err != nil {
		return 0, err
	}

	var deadline time.Time
	if timeout != Infinite {
		deadline = iface.clk.Now().Add(timeout)
	}
	for {
		avail, err := iface.module.QuerySocket(ctx, id)
		if err != nil {
			return 0, err
		}
		if avail > 0 {
			if avail > len(dst) {
				avail = len(dst)
			}
			return iface.module.ReadSocket(ctx, id, dst[:avail])
		}
		if !deadline.IsZero() && !iface.clk.Now().Before(deadline) {
			return 0, nil
		}
		if !goutils.SelectContextOrWaitChan(ctx, iface.clk.After(iface.pollInterval)) {
			return 0, ctx.Err()
		}
	}
}

// Available returns the number of bytes waiting on the socket.
func (iface *Interface) Available(ctx context.Context, handle int) (int, error) {
	id, err := iface.moduleID(handle)
	if err != nil {
		return 0, err
	}
	return iface.module.QuerySocket(ctx, id)
}

// Poll reports readability (data is waiting), writability (always) or an error condition (never).
func (iface *Interface) Poll(ctx context.Context, handle int, mode PollMode) (bool, error) {
	switch mode {
	case PollRead:
		n, err := iface.Available(ctx, handle)
		return n != 0, err
	case PollWrite:
		_, err := iface.lookup(handle)
		return err == nil, err
	case PollError:
		_, err := iface.lookup(handle)
		return false, err
	default:
		return false, errors.Errorf("unknown poll mode %d", mode)
	}
}

// Close closes the module connection, if any, and forgets the handle even when that fails.
func (iface *Interface) Close(ctx context.Context, handle int) error {
	iface.mu.Lock()
	s, ok := iface.sockets[handle]
	delete(iface.sockets, handle)
	iface.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownSocket, "handle %d", handle)
	}
	if s.state != SocketConnected {
		return nil
	}
	return iface.module.CloseSocket(ctx, s.moduleID)
}

// LookupHost resolves name to an IPv4 address through the module.
func (iface *Interface) LookupHost(ctx context.Context, name string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(name); err == nil {
		if !addr.Is4() {
			return netip.Addr{}, errors.Wrapf(ErrUnsupported, "address %s", addr)
		}
		return addr, nil
	}
	ip, err := iface.module.LookupHost(ctx, name)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "module resolved %q to %q", name, ip)
	}
	return addr, nil
}

// Sockets lists the open handles, ordered by handle.
func (iface *Interface) Sockets() []SocketInfo {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	infos := lo.MapToSlice(iface.sockets, func(handle int, s *socket) SocketInfo {
		return SocketInfo{Handle: handle, State: s.state, ModuleID: s.moduleID, Remote: s.remote}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}
