package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/accessory"
	"github.com/dokzlo13/bulbsync/internal/clock"
	"github.com/dokzlo13/bulbsync/internal/cloud"
	"github.com/dokzlo13/bulbsync/internal/config"
	"github.com/dokzlo13/bulbsync/internal/db"
	"github.com/dokzlo13/bulbsync/internal/eventbus"
	"github.com/dokzlo13/bulbsync/internal/hostapi"
	"github.com/dokzlo13/bulbsync/internal/ledger"
	"github.com/dokzlo13/bulbsync/internal/reconcile"
	"github.com/dokzlo13/bulbsync/internal/relay"
	"github.com/dokzlo13/bulbsync/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg   *config.Config
	clock clock.Clock

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Cache  *storage.AccessoryStore

	// Accessory host and the local to cloud path
	Host      *accessory.Host
	Bus       *eventbus.Bus
	Coalescer *relay.Coalescer

	// sendCancel bounds upstream sends. It outlives the app context so
	// commands queued at shutdown still reach the cloud.
	sendCancel context.CancelFunc

	// Cloud to local path
	Cloud      *cloud.Client
	Reconciler *reconcile.Reconciler
	Sync       *SyncTracker
	Poller     *reconcile.Poller

	// Outer surfaces
	API    *hostapi.Server
	Health *HealthService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg, clock: clock.New()}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Cache = storage.NewAccessoryStore(database.DB)
	s.Host = accessory.NewHost(s.Cache)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Every accessory, restored or new, gets its characteristic handlers
	s.Host.OnConfigure(func(a *accessory.Accessory) {
		relay.New(a, s.Bus, s.Host, s.clock, cfg.Cloud.OnMode).Bind()
	})
	s.Host.OnRegister(func(a *accessory.Accessory) {
		s.record(ledger.EventAccessoryRegistered, a)
	})
	s.Host.OnRemove(func(a *accessory.Accessory) {
		s.record(ledger.EventAccessoryUnregistered, a)
	})

	s.Cloud = cloud.NewClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey, cfg.Cloud.Timeout.Duration())
	fetcher := cloud.NewFetcher(s.Cloud)
	s.Reconciler = reconcile.New(fetcher, s.Host, s.clock, cfg.Reconciler.GetLocalGrace())
	s.Sync = NewSyncTracker(s.Reconciler, s.clock)
	s.Poller = reconcile.NewPoller(s.Sync, s.clock, cfg.Cloud.PollInterval.Duration())

	if cfg.API.Enabled {
		s.API = hostapi.NewServer(cfg.API.Host, cfg.API.Port, s.Host, s.Poller)
	}
	s.Health = NewHealthService(cfg, s.Sync)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a service cannot keep running.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	var sendCtx context.Context
	sendCtx, s.sendCancel = context.WithCancel(context.Background())
	uplink := relay.NewUplink(sendCtx, s.Cloud, s.cfg.Cloud.RateLimitRPS, s.Ledger)
	if window := s.cfg.Cloud.CoalesceWindow.Duration(); window > 0 {
		s.Coalescer = relay.NewCoalescer(window, uplink.Handle)
		s.Coalescer.Subscribe(s.Bus)
	} else {
		uplink.Subscribe(s.Bus)
	}

	// Cached accessories must be known before the first poll
	if _, err := s.Host.Restore(); err != nil {
		return err
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.Poller.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()
	go func() {
		defer s.wg.Done()
		retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
		s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), retention)
	}()

	if s.API != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.API.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
				onFatalError(err)
			}
		}()
	}

	s.Health.Start(ctx)

	return nil
}

// ClearCache drops all cached accessories.
func (s *Services) ClearCache() error {
	return s.Cache.Clear()
}

// Stop gracefully stops all services. The context passed to Start must
// already be cancelled. Commands still queued are sent before the database
// closes, bounded by the shutdown timeout.
func (s *Services) Stop() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.cfg.GetShutdownTimeout()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Timed out waiting for services to stop")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Bus.Close(shutdownCtx)
	if s.Coalescer != nil {
		s.Coalescer.Close()
	}
	// Aborts a send still stuck after the drain timed out
	if s.sendCancel != nil {
		s.sendCancel()
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Cloud != nil {
		s.Cloud.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (s *Services) record(eventType ledger.EventType, a *accessory.Accessory) {
	d := a.Device()
	err := s.Ledger.Append(eventType, a.UUID, map[string]any{
		"name":    a.Name,
		"bulbId":  d.BulbID,
		"groupId": d.GroupID,
	})
	if err != nil {
		log.Warn().Err(err).Str("uuid", a.UUID).Msg("Failed to record accessory event")
	}
}
