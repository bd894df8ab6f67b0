package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// shutdown releases what Run does not own through its context
func (a *App) shutdown() {
	a.hub.Close()
	if err := a.matches.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close match log")
	}
	published, delivered := a.bus.Stats()
	a.logger.Info().
		Int64("events_published", published).
		Int64("events_delivered", delivered).
		Msg("Overlay backend stopped")
}
