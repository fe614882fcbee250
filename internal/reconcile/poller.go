package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/clock"
)

// Syncer runs one guarded fetch-and-reconcile pass.
type Syncer interface {
	Sync(ctx context.Context) bool
}

// Poller drives a Syncer on a fixed interval and on demand.
type Poller struct {
	syncer   Syncer
	clock    clock.Clock
	interval time.Duration

	trigger chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates a new Poller
func NewPoller(syncer Syncer, clk clock.Clock, interval time.Duration) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		syncer:   syncer,
		clock:    clk,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run polls until ctx is cancelled, starting with an immediate pass. Each
// pass runs in its own goroutine so a slow fetch never delays the ticker;
// overlapping passes are dropped by the Syncer.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("Poller started")

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.spawn(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopping")
			p.wg.Wait()
			return nil
		case <-p.trigger:
			p.spawn(ctx)
		case <-ticker.C():
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.syncer.Sync(ctx)
	}()
}
