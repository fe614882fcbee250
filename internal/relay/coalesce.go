package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/eventbus"
)

// Coalescer holds command events per accessory and forwards only the latest
// one after a quiet period with no newer command. A zero window forwards
// every event immediately.
type Coalescer struct {
	quiet time.Duration
	next  eventbus.Handler

	mu      sync.Mutex
	pending map[string]*pendingCommand
	closed  bool
}

type pendingCommand struct {
	event eventbus.Event
	timer *time.Timer
}

// NewCoalescer creates a Coalescer forwarding to next.
func NewCoalescer(quiet time.Duration, next eventbus.Handler) *Coalescer {
	return &Coalescer{
		quiet:   quiet,
		next:    next,
		pending: make(map[string]*pendingCommand),
	}
}

// Subscribe registers the coalescer as the command handler of bus.
func (c *Coalescer) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeCommand, c.Handle)
}

// Handle queues event and restarts the quiet timer of its accessory.
func (c *Coalescer) Handle(event eventbus.Event) {
	if c.quiet <= 0 {
		c.next(event)
		return
	}
	uuid, _ := event.Data["uuid"].(string)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if p, ok := c.pending[uuid]; ok {
		p.timer.Stop()
		log.Debug().Str("uuid", uuid).Msg("Superseded pending command")
	}

	p := &pendingCommand{event: event}
	p.timer = time.AfterFunc(c.quiet, func() { c.flush(uuid, p) })
	c.pending[uuid] = p
}

func (c *Coalescer) flush(uuid string, p *pendingCommand) {
	c.mu.Lock()
	if c.pending[uuid] != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, uuid)
	c.mu.Unlock()

	c.next(p.event)
}

// Close stops all timers. Commands still waiting are dropped.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for uuid, p := range c.pending {
		p.timer.Stop()
		log.Warn().Str("uuid", uuid).Msg("Dropping pending command on shutdown")
	}
	c.pending = make(map[string]*pendingCommand)
}
