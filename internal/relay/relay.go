// Package relay turns local power and brightness changes into cloud mode
// commands. Local state is updated first; the command is sent in the
// background and its outcome never changes what the host sees.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/accessory"
	"github.com/dokzlo13/bulbsync/internal/clock"
	"github.com/dokzlo13/bulbsync/internal/cloud"
	"github.com/dokzlo13/bulbsync/internal/eventbus"
)

// OffBrightness is the brightness sent with the "off" mode. The cloud models
// off as a mode, and some firmware rejects a zero brightness.
const OffBrightness = 5

// Publisher queues events for asynchronous handling.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Updater persists accessory context changes.
type Updater interface {
	UpdateAccessories(accessories []*accessory.Accessory) error
}

// Relay handles user changes for one accessory.
type Relay struct {
	acc     *accessory.Accessory
	bus     Publisher
	updater Updater
	clock   clock.Clock
	onMode  string

	mu sync.Mutex
}

// New creates a relay for acc. updater may be nil.
func New(acc *accessory.Accessory, bus Publisher, updater Updater, clk clock.Clock, onMode string) *Relay {
	if clk == nil {
		clk = clock.New()
	}
	return &Relay{
		acc:     acc,
		bus:     bus,
		updater: updater,
		clock:   clk,
		onMode:  onMode,
	}
}

// Bind attaches the relay to the accessory's characteristics.
func (r *Relay) Bind() {
	r.acc.Power.OnSet(r.ApplyPower)
	r.acc.Brightness.OnSet(r.ApplyBrightness)
}

// ApplyPower switches the bulb on (in the configured on mode, at the last
// brightness it was known to be on with) or off (mode "off" at OffBrightness).
func (r *Relay) ApplyPower(on bool) {
	r.mu.Lock()
	lastOn := r.acc.LastOnBrightness()
	snapshot := r.acc.UpdateAt(r.clock.Now(), func(d *cloud.Device) {
		if !on {
			d.ModeID = cloud.ModeOff
			d.Brightness = OffBrightness
			return
		}
		if !d.IsOn() && lastOn > 0 {
			d.Brightness = lastOn
		}
		d.ModeID = r.onMode
	})
	r.mu.Unlock()

	r.commit(snapshot, "power")
}

// ApplyBrightness sets the brightness. Setting a brightness implies power on.
func (r *Relay) ApplyBrightness(level int) {
	r.mu.Lock()
	snapshot := r.acc.UpdateAt(r.clock.Now(), func(d *cloud.Device) {
		d.Brightness = level
		d.ModeID = r.onMode
	})
	r.mu.Unlock()

	r.commit(snapshot, "brightness")
}

func (r *Relay) commit(snapshot cloud.Device, reason string) {
	r.acc.Project()

	if r.updater != nil {
		if err := r.updater.UpdateAccessories([]*accessory.Accessory{r.acc}); err != nil {
			log.Warn().Err(err).Str("uuid", r.acc.UUID).Msg("Failed to cache local change")
		}
	}

	log.Info().
		Str("uuid", r.acc.UUID).
		Str("name", r.acc.Name).
		Str("reason", reason).
		Str("mode", snapshot.ModeID).
		Int("brightness", snapshot.Brightness).
		Msg("Local change, sending to cloud")

	r.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			"uuid":    r.acc.UUID,
			"reason":  reason,
			"command": snapshot.Command(),
		},
	})
}
