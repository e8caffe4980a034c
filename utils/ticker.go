package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/wifimodule/logging"
)

// SlowLogger starts a goroutine that warns after two seconds, then at growing intervals, for as
// long as the returned stop func has not been called and ctx is live. It is used to surface calls
// that wait on the module for a long time.
func SlowLogger(ctx context.Context, msg, fieldName, fieldVal string, logger logging.Logger) func() {
	return SlowLoggerWithClock(ctx, clock.New(), msg, fieldName, fieldVal, logger)
}

// SlowLoggerWithClock is SlowLogger driven by the given clock.
func SlowLoggerWithClock(
	ctx context.Context,
	clk clock.Clock,
	msg, fieldName, fieldVal string,
	logger logging.Logger,
) func() {
	slowTicker := clk.Ticker(2 * time.Second)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := clk.Now()
	go func() {
		for {
			select {
			case <-slowTicker.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				logger.CWarnw(ctx, msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() { slowTicker.Stop(); cancel() }
}
