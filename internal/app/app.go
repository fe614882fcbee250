package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/config"
)

// App owns the bulbsync daemon: the accessory host mirroring the cloud, the
// poller feeding it and the uplink relaying local changes back.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the database and wires every service. Nothing talks to the cloud
// until Start.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start restores the cached accessories, then starts polling the cloud, the
// command uplink and the optional HTTP surfaces. Cancelling ctx stops polling;
// queued commands are still sent by Stop.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().
		Int("accessories", len(a.services.Host.Cached())).
		Dur("poll_interval", a.cfg.Cloud.PollInterval.Duration()).
		Msg("bulbsync started")
	return nil
}

// Stop cancels polling, drains the command queue and closes the database.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until a signal or a fatal service error cancels the app.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearCache drops every cached accessory so the next poll registers the
// bulbs from scratch. Used by the --reset-cache flag.
func (a *App) ClearCache() error {
	if a.services != nil {
		return a.services.ClearCache()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
