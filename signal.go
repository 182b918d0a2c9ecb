package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit is replaced in tests so the second-signal path can be observed.
var forceExit = func() { os.Exit(1) }

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. Sessions wind down after the first signal;
// the second quits even if something hangs during that.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping watchers",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			forceExit()
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
