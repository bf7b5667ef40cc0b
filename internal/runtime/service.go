package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// WaitForShutdown blocks until ctx ends or SIGINT/SIGTERM arrives.
func WaitForShutdown(ctx context.Context, logger *zap.Logger, service string) {
	if service == "" {
		service = "service"
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down", zap.String("service", service))
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("service", service), zap.String("signal", sig.String()))
	}
}
