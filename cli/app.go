// Package cli contains all business logic needed by the spwfctl command.
package cli

import (
	"context"

	"github.com/urfave/cli/v2"

	"go.viam.com/wifimodule/config"
	"go.viam.com/wifimodule/logging"
	"go.viam.com/wifimodule/spwf04sx"
)

const (
	// Flags.
	flagConfig     = "config"
	flagDebug      = "debug"
	flagNoJoin     = "no-join"
	flagPassword   = "password"
	flagHost       = "host"
	flagPath       = "path"
	flagPort       = "port"
	flagTLS        = "tls"
	flagUDP        = "udp"
	flagCommonName = "common-name"
	flagDuration   = "duration"
	flagSend       = "send"
	flagTimeout    = "timeout"
)

// Opener opens the driver for a config. The returned driver is off.
type Opener func(ctx context.Context, conf *config.Config, logger logging.Logger) (*spwf04sx.Driver, error)

type app struct {
	open   Opener
	logger logging.Logger
}

// NewApp returns the spwfctl command tree. Every command reads the config, turns the module on,
// joins the configured network unless told not to, runs, and turns the module off again.
func NewApp(open Opener, logger logging.Logger) *cli.App {
	a := &app{open: open, logger: logger}

	httpFlags := []cli.Flag{
		&cli.StringFlag{Name: flagHost, Usage: "server host name or address", Required: true},
		&cli.StringFlag{Name: flagPath, Usage: "request path", Value: "/"},
		&cli.IntFlag{Name: flagPort, Usage: "server port", Value: 80},
		&cli.BoolFlag{Name: flagTLS, Usage: "use TLS"},
	}

	return &cli.App{
		Name:  "spwfctl",
		Usage: "drive an SPWF04Sx Wi-Fi module over SPI",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load module configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagNoJoin,
				Usage: "do not join the configured network",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				a.logger.SetLevel(logging.DEBUG)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "radio",
				Usage: "switch the radio",
				Subcommands: []*cli.Command{
					{Name: "on", Usage: "enable the radio", Action: a.radioOnAction},
					{Name: "off", Usage: "disable the radio", Action: a.radioOffAction},
				},
			},
			{
				Name:      "join",
				Usage:     "join a WPA2 network",
				ArgsUsage: "<ssid>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagPassword, Usage: "network passphrase"},
				},
				Action: a.joinAction,
			},
			{
				Name:  "tls",
				Usage: "manage the TLS server root certificate",
				Subcommands: []*cli.Command{
					{Name: "set", Usage: "load a PEM root certificate", ArgsUsage: "<file>", Action: a.tlsSetAction},
					{Name: "clear", Usage: "remove the root certificate", Action: a.tlsClearAction},
				},
			},
			{
				Name:  "http",
				Usage: "send an HTTP request and print the response",
				Subcommands: []*cli.Command{
					{Name: "get", Usage: "send a GET", Flags: httpFlags, Action: a.httpAction(false)},
					{Name: "post", Usage: "send a POST", Flags: httpFlags, Action: a.httpAction(true)},
				},
			},
			{
				Name:  "socket",
				Usage: "work with module sockets",
				Subcommands: []*cli.Command{
					{
						Name:      "open",
						Usage:     "open a client socket and print its id",
						ArgsUsage: "<host> <port>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: flagTLS, Usage: "use TLS"},
							&cli.BoolFlag{Name: flagUDP, Usage: "use UDP"},
							&cli.StringFlag{Name: flagCommonName, Usage: "TLS server name to verify"},
						},
						Action: a.socketOpenAction,
					},
					{Name: "close", Usage: "close a socket", ArgsUsage: "<id>", Action: a.socketCloseAction},
					{Name: "write", Usage: "write text to a socket", ArgsUsage: "<id> <text>", Action: a.socketWriteAction},
					{Name: "read", Usage: "read what is pending on a socket", ArgsUsage: "<id>", Action: a.socketReadAction},
					{Name: "query", Usage: "print how many bytes are pending", ArgsUsage: "<id>", Action: a.socketQueryAction},
					{Name: "list", Usage: "list the module's sockets", Action: a.socketListAction},
				},
			},
			{
				Name:      "lookup",
				Usage:     "resolve a host name through the module",
				ArgsUsage: "<name>",
				Action:    a.lookupAction,
			},
			{
				Name:      "dial",
				Usage:     "open a TCP connection, send text and print the reply",
				ArgsUsage: "<host:port>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSend, Usage: "text to send once connected"},
					&cli.DurationFlag{Name: flagTimeout, Usage: "how long to wait for the reply", Value: defaultReplyTimeout},
				},
				Action: a.dialAction,
			},
			{
				Name:   "status",
				Usage:  "print the driver status",
				Action: a.statusAction,
			},
			{
				Name:  "events",
				Usage: "print module indications and error reports",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagDuration, Usage: "how long to listen", Value: defaultEventsDuration},
				},
				Action: a.eventsAction,
			},
		},
	}
}
