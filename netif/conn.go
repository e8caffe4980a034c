package netif

import (
	"context"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/wifimodule/utils"
)

// Dialer opens net.Conns through the module.
type Dialer struct {
	Interface *Interface
}

// Dial is DialContext with a background context.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext connects to address on the named network, which must be "tcp" or "tcp4".
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, errors.Wrapf(ErrUnsupported, "network %q", network)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "bad port %q", portStr)
	}
	addr, err := d.Interface.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	remote := netip.AddrPortFrom(addr, uint16(port))

	handle, err := d.Interface.Create(FamilyIPv4, SocketStream, ProtocolTCP)
	if err != nil {
		return nil, err
	}
	guard := utils.NewGuard(func() {
		d.Interface.logger.Debugw("abandoning socket", "handle", handle)
		if err := d.Interface.Close(context.Background(), handle); err != nil {
			d.Interface.logger.Debugw("closing unconnected socket", "handle", handle, "error", err)
		}
	})
	defer guard.OnFail()

	if err := d.Interface.Connect(ctx, handle, remote); err != nil {
		return nil, err
	}
	guard.Success()

	cancelCtx, cancel := context.WithCancel(context.Background())
	return &conn{
		iface:     d.Interface,
		handle:    handle,
		remote:    net.TCPAddrFromAddrPort(remote),
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}, nil
}

type conn struct {
	iface     *Interface
	handle    int
	remote    *net.TCPAddr
	cancelCtx context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

func (c *conn) Read(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	timeout := Infinite
	if !deadline.IsZero() {
		timeout = deadline.Sub(c.iface.clk.Now())
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	n, err := c.iface.Receive(c.cancelCtx, c.handle, b, 0, timeout)
	if err != nil {
		if c.closed.Load() {
			return 0, net.ErrClosed
		}
		return n, err
	}
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, nil
}

func (c *conn) Write(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	c.mu.Lock()
	deadline := c.writeDeadline
	c.mu.Unlock()
	if !deadline.IsZero() && !c.iface.clk.Now().Before(deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	return c.iface.Send(c.cancelCtx, c.handle, b, 0)
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	c.cancel()
	return c.iface.Close(context.Background(), c.handle)
}

func (c *conn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4zero}
}

func (c *conn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	c.writeDeadline = t
	return nil
}

func (c *conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return nil
}
