// ohlcvpipe fetches OHLCV bars for several symbols, validates and fills them,
// derives technical-analysis features, and exports the result. It also
// manages the tagged model store.
//
// Usage:
//
//	ohlcvpipe fetch --symbols BTCUSD,ETHUSD --interval hour --start 2022-01-01 --end 2022-01-31
//	ohlcvpipe transform --symbols BTCUSD,ETHUSD --interval day --start 2021-01-01 --end 2021-12-31
//	ohlcvpipe symbols --interval hour
//	ohlcvpipe models list --filter tag=btc --filter performance=0.8
//	ohlcvpipe models put --artifact model.bin --tags btc,prod --performance 0.8
//
// For detailed help on any command, use: ohlcvpipe <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/modelstore"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		os.Exit(ExitSuccess)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status. Data errors are
// classified by their cause, so a fetch that failed on the wire exits with
// ExitConnectionErr.
func exitCode(err error) int {
	var cfgErr *configError
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, perrors.ErrArgument), errors.Is(err, modelstore.ErrUnsupportedFilter):
		return ExitUsageError
	}
	switch perrors.Classify(err) {
	case perrors.ErrorTypeNetwork, perrors.ErrorTypeTimeout, perrors.ErrorTypeServerError,
		perrors.ErrorTypeRateLimit, perrors.ErrorTypeAuthentication:
		return ExitConnectionErr
	}
	return ExitDataError
}
