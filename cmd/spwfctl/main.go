// Package main is the spwfctl command itself.
package main

import (
	"context"

	"go.viam.com/utils"

	"go.viam.com/wifimodule/cli"
	"go.viam.com/wifimodule/logging"
	"go.viam.com/wifimodule/spwf04sx"
)

var logger = logging.NewLogger("spwfctl")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	return cli.NewApp(spwf04sx.NewFromConfig, logger).RunContext(ctx, args)
}
