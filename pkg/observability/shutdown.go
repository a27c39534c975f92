package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownFunc is a cleanup step to run during shutdown (close the DB pool,
// stop the sweeper, flush metrics).
type ShutdownFunc func(context.Context) error

// WaitForShutdown blocks until SIGINT/SIGTERM, then shuts the HTTP server
// down gracefully and runs the cleanup steps in order, all bounded by
// timeout. In-flight purge work observes the context and stops between
// items.
func WaitForShutdown(logger *Logger, server *http.Server, timeout time.Duration, cleanup ...ShutdownFunc) error {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		logger.Info("HTTP server shutdown complete")
	}

	var failed int
	for _, fn := range cleanup {
		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("Shutdown step failed")
			failed++
		}
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown timeout reached")
		}
	}

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}
