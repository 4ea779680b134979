package common

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// InterruptContext is cancelled on the first SIGINT, SIGTERM or SIGQUIT.
// A second signal while shutting down exits the process.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			slog.Warn("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigs:
			slog.Error("Received second signal, exiting", "signal", sig)
			os.Exit(1)
		case <-parent.Done():
		}
	}()
	return ctx, cancel
}
