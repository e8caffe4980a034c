package spwf04sx

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/wifimodule/utils"
)

const httpStatusPrefix = "Http Server Status Code"

// call runs one complete exchange: build fills in the request, read consumes the reply, and the
// operation is finished before call returns.
func (d *Driver) call(
	ctx context.Context,
	method string,
	args interface{},
	build func(op *Operation) error,
	read func(op *Operation) error,
) error {
	ctx, span := trace.StartSpan(ctx, "spwf04sx::"+method)
	defer span.End()
	ctx, done := d.calls.Create(ctx, method, args)
	defer done()

	op, err := d.submit(ctx, build)
	if err != nil {
		return err
	}
	stopSlowLogger := utils.SlowLoggerWithClock(ctx, d.clk, "waiting on module", "command", op.Command().String(), d.logger)
	defer stopSlowLogger()

	if err := read(op); err != nil {
		if errors.Is(err, ErrStopped) || errors.Is(err, ErrProtocolViolation) {
			return err
		}
		return multierr.Combine(err, d.FinishOperation(op))
	}
	return d.FinishOperation(op)
}

func discardN(n int) func(op *Operation) error {
	return func(op *Operation) error {
		for i := 0; i < n; i++ {
			if _, err := op.Discard(); err != nil {
				return err
			}
		}
		return nil
	}
}

func command(cmd CommandID, payload []byte, params ...string) func(op *Operation) error {
	return func(op *Operation) error {
		for _, p := range params {
			op.AddParameter(p)
		}
		return op.SetCommand(cmd, payload)
	}
}

// EnableRadio turns the module's radio on.
func (d *Driver) EnableRadio(ctx context.Context) error {
	return d.call(ctx, "EnableRadio", nil, command(CommandWIFI, nil, "1"), discardN(1))
}

// DisableRadio turns the module's radio off.
func (d *Driver) DisableRadio(ctx context.Context) error {
	return d.call(ctx, "DisableRadio", nil, command(CommandWIFI, nil, "0"), discardN(1))
}

func (d *Driver) setConfig(ctx context.Context, key, value string) error {
	return d.call(ctx, "SetConfig", key, command(CommandSCFG, nil, key, value), discardN(1))
}

// JoinNetwork configures the module as a WPA2 station for ssid and saves the configuration. The
// radio is cycled around the change.
func (d *Driver) JoinNetwork(ctx context.Context, ssid, password string) error {
	ctx, span := trace.StartSpan(ctx, "spwf04sx::JoinNetwork")
	defer span.End()
	ctx, done := d.calls.Create(ctx, "JoinNetwork", ssid)
	defer done()

	steps := []func() error{
		func() error { return d.DisableRadio(ctx) },
		func() error { return d.setConfig(ctx, "wifi_mode", "1") },
		func() error { return d.setConfig(ctx, "wifi_priv_mode", "2") },
		func() error { return d.setConfig(ctx, "wifi_wpa_psk_text", password) },
		func() error {
			return d.call(ctx, "SetSSID", ssid, command(CommandSSIDTXT, nil, ssid), discardN(1))
		},
		func() error { return d.EnableRadio(ctx) },
		func() error { return d.call(ctx, "SaveConfig", nil, command(CommandWCFG, nil), discardN(1)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrapf(err, "joining %q", ssid)
		}
	}
	return nil
}

// ClearTLSServerRootCertificate removes the stored root certificate.
func (d *Driver) ClearTLSServerRootCertificate(ctx context.Context) error {
	return d.call(ctx, "ClearTLSServerRootCertificate", nil,
		command(CommandTLSCERT, nil, "content", "2"), discardN(2))
}

// SetTLSServerRootCertificate stores a root certificate for TLS connections and returns the
// module's description of it.
func (d *Driver) SetTLSServerRootCertificate(ctx context.Context, certificate []byte) (string, error) {
	var result string
	err := d.call(ctx, "SetTLSServerRootCertificate", len(certificate),
		command(CommandTLSCERT, certificate, "ca", strconv.Itoa(len(certificate))),
		func(op *Operation) error {
			var err error
			if result, err = op.ReadString(); err != nil {
				return err
			}
			_, err = op.Discard()
			return err
		})
	if err != nil {
		return "", err
	}
	return result[strings.Index(result, ":")+1:], nil
}

// SendHTTPGet starts a GET request and returns the server's status code. The response body must
// then be drained with ReadHTTPResponse, even when the request fails, before another HTTP request
// can start.
func (d *Driver) SendHTTPGet(ctx context.Context, host, path string, port int, security SecurityType) (int, error) {
	return d.sendHTTP(ctx, "SendHTTPGet", CommandHTTPGET, host, path, port, security)
}

// SendHTTPPost is SendHTTPGet for a POST without a body.
func (d *Driver) SendHTTPPost(ctx context.Context, host, path string, port int, security SecurityType) (int, error) {
	return d.sendHTTP(ctx, "SendHTTPPost", CommandHTTPPOST, host, path, port, security)
}

func (d *Driver) sendHTTP(
	ctx context.Context,
	method string,
	cmd CommandID,
	host, path string,
	port int,
	security SecurityType,
) (int, error) {
	ctx, span := trace.StartSpan(ctx, "spwf04sx::"+method)
	defer span.End()
	ctx, done := d.calls.Create(ctx, method, host+path)
	defer done()

	d.httpMu.Lock()
	if d.activeHTTP != nil {
		d.httpMu.Unlock()
		return 0, ErrHTTPInProgress
	}
	op, err := d.submit(ctx, command(cmd, nil,
		host, path, strconv.Itoa(port), security.httpSecurityParam(), "", "", "", ""))
	if err != nil {
		d.httpMu.Unlock()
		return 0, err
	}
	d.activeHTTP = op
	d.httpMu.Unlock()

	stopSlowLogger := utils.SlowLoggerWithClock(ctx, d.clk, "waiting on module", "command", cmd.String(), d.logger)
	defer stopSlowLogger()

	result, err := op.ReadString()
	if err != nil {
		return 0, err
	}
	if security == SecurityTLS && result == "" {
		// Certificate loading is reported after an empty line, before the status line.
		if result, err = op.ReadString(); err != nil {
			return 0, err
		}
		if strings.HasPrefix(result, "Loading:") {
			if result, err = op.ReadString(); err != nil {
				return 0, err
			}
		}
	}

	parts := strings.Split(result, ":")
	if len(parts) < 2 || parts[0] != httpStatusPrefix {
		return 0, newRequestFailedError(cmd, result)
	}
	status, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, newRequestFailedError(cmd, result)
	}
	return status, nil
}

// ReadHTTPResponse reads the next part of the open HTTP response into dst. It returns 0 at the end
// of the response, which also closes the request.
func (d *Driver) ReadHTTPResponse(ctx context.Context, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, errors.New("cannot read an HTTP response into an empty buffer")
	}
	d.httpMu.Lock()
	op := d.activeHTTP
	d.httpMu.Unlock()
	if op == nil {
		return 0, ErrNoHTTPRequest
	}

	n, err := op.ReadBuffer(dst)
	if err != nil || n != 0 {
		return n, err
	}

	d.httpMu.Lock()
	if d.activeHTTP == op {
		d.activeHTTP = nil
	}
	d.httpMu.Unlock()
	return 0, d.FinishOperation(op)
}

// OpenSocket opens a client socket to host and returns the module's socket id. commonName, when
// set, is the TLS server name to verify and replaces the connection kind.
func (d *Driver) OpenSocket(
	ctx context.Context,
	host string,
	port int,
	connType ConnectionType,
	security SecurityType,
	commonName string,
) (int, error) {
	_, id, err := d.openSocket(ctx, "OpenSocket", host, port, connType, security, commonName)
	return id, err
}

func (d *Driver) openSocket(
	ctx context.Context,
	method string,
	host string,
	port int,
	connType ConnectionType,
	security SecurityType,
	commonName string,
) (string, int, error) {
	kind := commonName
	if kind == "" {
		kind = socketKindParam(connType, security)
	}

	var result string
	err := d.call(ctx, method, host+":"+strconv.Itoa(port),
		command(CommandSOCKON, nil, host, strconv.Itoa(port), "", kind),
		func(op *Operation) error {
			a, b, err := readTwo(op)
			if err != nil {
				return err
			}
			if security == SecurityTLS && strings.HasPrefix(b, "Loading:") {
				if a, _, err = readTwo(op); err != nil {
					return err
				}
			}
			result = a
			return nil
		})
	if err != nil {
		return "", 0, err
	}

	parts := strings.Split(result, ":")
	if len(parts) < 3 || parts[0] != "On" {
		return "", 0, newRequestFailedError(CommandSOCKON, result)
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return "", 0, newRequestFailedError(CommandSOCKON, result)
	}
	return parts[1], id, nil
}

func readTwo(op *Operation) (string, string, error) {
	a, err := op.ReadString()
	if err != nil {
		return "", "", err
	}
	b, err := op.ReadString()
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// CloseSocket closes a socket opened with OpenSocket.
func (d *Driver) CloseSocket(ctx context.Context, socket int) error {
	return d.call(ctx, "CloseSocket", socket, command(CommandSOCKC, nil, strconv.Itoa(socket)), discardN(1))
}

// WriteSocket sends data on a socket. The whole of data is written or an error is returned.
func (d *Driver) WriteSocket(ctx context.Context, socket int, data []byte) error {
	return d.call(ctx, "WriteSocket", socket,
		command(CommandSOCKW, data, strconv.Itoa(socket), strconv.Itoa(len(data))), discardN(1))
}

// ReadSocket reads up to len(dst) bytes that the module holds for the socket. QuerySocket tells
// how many are waiting.
func (d *Driver) ReadSocket(ctx context.Context, socket int, dst []byte) (int, error) {
	total := 0
	err := d.call(ctx, "ReadSocket", socket,
		command(CommandSOCKR, nil, strconv.Itoa(socket), strconv.Itoa(len(dst))),
		func(op *Operation) error {
			if _, err := op.Discard(); err != nil {
				return err
			}
			for {
				n, err := op.ReadBuffer(dst[total:])
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				total += n
			}
		})
	return total, err
}

// QuerySocket returns the number of bytes waiting to be read from a socket.
func (d *Driver) QuerySocket(ctx context.Context, socket int) (int, error) {
	var result string
	err := d.call(ctx, "QuerySocket", socket, command(CommandSOCKQ, nil, strconv.Itoa(socket)),
		func(op *Operation) error {
			var err error
			if result, err = op.ReadString(); err != nil {
				return err
			}
			_, err = op.Discard()
			return err
		})
	if err != nil {
		return 0, err
	}

	parts := strings.Split(result, ":")
	if len(parts) < 2 || parts[0] != "Query" {
		return 0, newRequestFailedError(CommandSOCKQ, result)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, newRequestFailedError(CommandSOCKQ, result)
	}
	return n, nil
}

// ListSockets returns the module's description of each open socket.
func (d *Driver) ListSockets(ctx context.Context) ([]string, error) {
	var lines []string
	err := d.call(ctx, "ListSockets", nil, command(CommandSOCKL, nil),
		func(op *Operation) error {
			for {
				n, err := op.Peek()
				if err != nil {
					return err
				}
				if n == 0 {
					break
				}
				line, err := op.ReadString()
				if err != nil {
					return err
				}
				lines = append(lines, line)
			}
			_, err := op.Discard()
			return err
		})
	return lines, err
}

// LookupHost resolves name by opening, then closing, a TCP socket to it on port 80.
func (d *Driver) LookupHost(ctx context.Context, name string) (string, error) {
	ip, id, err := d.openSocket(ctx, "LookupHost", name, 80, ConnectionTCP, SecurityNone, "")
	if err != nil {
		return "", err
	}
	return ip, d.CloseSocket(ctx, id)
}
