package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/axetrading/evm-deployer/internal/logging"
)

var version = "dev" // set by the linker

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	opts := &rootOptions{}
	err := buildRootCmd(opts).ExecuteContext(ctx)
	stop()
	if err != nil {
		logFailure(opts, err)
		os.Exit(1)
	}
}

// logFailure writes err through the command's logger, or a fresh error-level
// one when the command failed before its logger existed.
func logFailure(opts *rootOptions, err error) {
	logger := opts.logger
	if logger == nil {
		var lerr error
		if logger, lerr = logging.New("error"); lerr != nil {
			logger = logging.Nop()
		}
	}
	logger.Error("command failed", "error", err)
	logger.Sync()
}
