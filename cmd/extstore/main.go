package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Error("extstore", "command failed", "error", err)
		os.Exit(1)
	}
}
