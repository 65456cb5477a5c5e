package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownContext derives a context that drains the daemon on the first
// SIGINT/SIGTERM and force-exits on the second. Draining means the Accept
// Loop and Admin Server finish their in-flight work — no chunk write is cut
// off mid-frame — while a second signal remains available to an operator
// whose process has hung.
func ShutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	received := make(chan os.Signal, 2)
	signal.Notify(received, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(received)

		for seen := 0; ; seen++ {
			select {
			case sig := <-received:
				if seen == 0 {
					logger.Info("received signal, initiating graceful shutdown",
						slog.String("signal", sig.String()))
					cancel()

					continue
				}

				logger.Warn("received second signal, forcing exit",
					slog.String("signal", sig.String()))
				os.Exit(1)
			case <-parent.Done():
				return
			}
		}
	}()

	return ctx
}
