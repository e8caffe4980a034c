package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/wifimodule/config"
	"go.viam.com/wifimodule/netif"
	"go.viam.com/wifimodule/spwf04sx"
)

const (
	defaultReplyTimeout   = 5 * time.Second
	defaultEventsDuration = 10 * time.Second
	readChunkSize         = 512
	eventBacklog          = 16
)

// withDriver runs fn with the configured module turned on, and always turns it off afterwards.
func (a *app) withDriver(c *cli.Context, fn func(ctx context.Context, d *spwf04sx.Driver) error) error {
	return a.withDriverPrepared(c, nil, fn)
}

// withDriverPrepared is withDriver with a hook that runs before the module is released from
// reset, so it can observe the indications sent at power on.
func (a *app) withDriverPrepared(
	c *cli.Context,
	prepare func(d *spwf04sx.Driver),
	fn func(ctx context.Context, d *spwf04sx.Driver) error,
) (err error) {
	ctx := c.Context
	conf, err := config.Read(ctx, c.Path(flagConfig), a.logger)
	if err != nil {
		return err
	}
	d, err := a.open(ctx, conf, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, d.Close(context.Background()))
	}()

	if prepare != nil {
		prepare(d)
	}
	if err := d.TurnOn(ctx); err != nil {
		return err
	}
	if conf.Network != nil && !c.Bool(flagNoJoin) {
		if err := d.JoinNetwork(ctx, conf.Network.SSID, conf.Network.Password); err != nil {
			return err
		}
	}
	return fn(ctx, d)
}

func intArg(c *cli.Context, i int, name string) (int, error) {
	if c.Args().Len() <= i {
		return 0, errors.Errorf("missing %s argument", name)
	}
	v, err := strconv.Atoi(c.Args().Get(i))
	if err != nil {
		return 0, errors.Wrapf(err, "bad %s %q", name, c.Args().Get(i))
	}
	return v, nil
}

func stringArg(c *cli.Context, i int, name string) (string, error) {
	if c.Args().Len() <= i || c.Args().Get(i) == "" {
		return "", errors.Errorf("missing %s argument", name)
	}
	return c.Args().Get(i), nil
}

func securityFlag(c *cli.Context) spwf04sx.SecurityType {
	if c.Bool(flagTLS) {
		return spwf04sx.SecurityTLS
	}
	return spwf04sx.SecurityNone
}

func (a *app) radioOnAction(c *cli.Context) error {
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		return d.EnableRadio(ctx)
	})
}

func (a *app) radioOffAction(c *cli.Context) error {
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		return d.DisableRadio(ctx)
	})
}

func (a *app) joinAction(c *cli.Context) error {
	ssid, err := stringArg(c, 0, "ssid")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		if err := d.JoinNetwork(ctx, ssid, c.String(flagPassword)); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Joining %q\n", ssid)
		return nil
	})
}

func (a *app) tlsSetAction(c *cli.Context) error {
	path, err := stringArg(c, 0, "certificate file")
	if err != nil {
		return err
	}
	//nolint:gosec
	cert, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		result, err := d.SetTLSServerRootCertificate(ctx, cert)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Loaded %s\n", result)
		return nil
	})
}

func (a *app) tlsClearAction(c *cli.Context) error {
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		return d.ClearTLSServerRootCertificate(ctx)
	})
}

func (a *app) httpAction(post bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
			send := d.SendHTTPGet
			if post {
				send = d.SendHTTPPost
			}
			status, err := send(ctx, c.String(flagHost), c.String(flagPath), c.Int(flagPort), securityFlag(c))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Status %d\n", status)

			buf := make([]byte, readChunkSize)
			for {
				n, err := d.ReadHTTPResponse(ctx, buf)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				if _, err := c.App.Writer.Write(buf[:n]); err != nil {
					return err
				}
			}
		})
	}
}

func (a *app) socketOpenAction(c *cli.Context) error {
	host, err := stringArg(c, 0, "host")
	if err != nil {
		return err
	}
	port, err := intArg(c, 1, "port")
	if err != nil {
		return err
	}
	connType := spwf04sx.ConnectionTCP
	if c.Bool(flagUDP) {
		connType = spwf04sx.ConnectionUDP
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		id, err := d.OpenSocket(ctx, host, port, connType, securityFlag(c), c.String(flagCommonName))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d\n", id)
		return nil
	})
}

func (a *app) socketCloseAction(c *cli.Context) error {
	id, err := intArg(c, 0, "socket id")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		return d.CloseSocket(ctx, id)
	})
}

func (a *app) socketWriteAction(c *cli.Context) error {
	id, err := intArg(c, 0, "socket id")
	if err != nil {
		return err
	}
	text, err := stringArg(c, 1, "text")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		return d.WriteSocket(ctx, id, []byte(text))
	})
}

func (a *app) socketReadAction(c *cli.Context) error {
	id, err := intArg(c, 0, "socket id")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		pending, err := d.QuerySocket(ctx, id)
		if err != nil || pending == 0 {
			return err
		}
		buf := make([]byte, pending)
		n, err := d.ReadSocket(ctx, id, buf)
		if err != nil {
			return err
		}
		_, err = c.App.Writer.Write(buf[:n])
		return err
	})
}

func (a *app) socketQueryAction(c *cli.Context) error {
	id, err := intArg(c, 0, "socket id")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		pending, err := d.QuerySocket(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d\n", pending)
		return nil
	})
}

func (a *app) socketListAction(c *cli.Context) error {
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		lines, err := d.ListSockets(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, socketTable(lines))
		return nil
	})
}

func (a *app) lookupAction(c *cli.Context) error {
	name, err := stringArg(c, 0, "name")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		ip, err := d.LookupHost(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, ip)
		return nil
	})
}

func (a *app) dialAction(c *cli.Context) error {
	address, err := stringArg(c, 0, "address")
	if err != nil {
		return err
	}
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) (err error) {
		dialer := &netif.Dialer{Interface: netif.New(d, a.logger.Sublogger("netif"))}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, conn.Close())
		}()

		if text := c.String(flagSend); text != "" {
			if _, err := io.WriteString(conn, text); err != nil {
				return err
			}
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.Duration(flagTimeout))); err != nil {
			return err
		}
		_, err = io.Copy(c.App.Writer, conn)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		return err
	})
}

func (a *app) statusAction(c *cli.Context) error {
	return a.withDriver(c, func(ctx context.Context, d *spwf04sx.Driver) error {
		status := d.Status()
		fmt.Fprintln(c.App.Writer, statusTable(status))
		if len(status.Calls) != 0 {
			fmt.Fprintln(c.App.Writer, callsTable(status.Calls, time.Now()))
		}
		return nil
	})
}

func (a *app) eventsAction(c *cli.Context) error {
	var events <-chan spwf04sx.Event
	unsubscribe := func() {}
	defer func() { unsubscribe() }()
	subscribe := func(d *spwf04sx.Driver) {
		events, unsubscribe = d.Subscribe(eventBacklog)
	}

	return a.withDriverPrepared(c, subscribe, func(ctx context.Context, d *spwf04sx.Driver) error {
		timer := time.NewTimer(c.Duration(flagDuration))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
				return nil
			case <-d.Done():
				return d.Err()
			case ev := <-events:
				fmt.Fprintf(c.App.Writer, "%s %s\n", ev.State, ev)
			}
		}
	})
}
