// Package accessory is the local accessory platform: long-lived accessory
// objects, their characteristics, and the host that registers, caches and
// unregisters them.
package accessory

import (
	"sync"
	"time"

	"github.com/dokzlo13/bulbsync/internal/cloud"
)

// Accessory is the local representation of one bulb. Its identity never
// changes; the device context is mutated in place so handlers attached to the
// accessory stay valid for its whole life.
type Accessory struct {
	UUID string
	Name string

	Power      *Characteristic[bool]
	Brightness *Characteristic[int]

	mu           sync.RWMutex
	device       cloud.Device
	lastChanged  time.Time
	onBrightness int // brightness the last time the bulb was known to be on
}

// New creates an unregistered accessory.
func New(name, uuid string) *Accessory {
	return &Accessory{
		UUID:       uuid,
		Name:       name,
		Power:      &Characteristic[bool]{},
		Brightness: &Characteristic[int]{},
	}
}

// Device returns a copy of the last known device state.
func (a *Accessory) Device() cloud.Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.device
}

// SetDevice stores the full device context. Used once, when the accessory
// is created or restored.
func (a *Accessory) SetDevice(d cloud.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.device = d
	a.track()
}

// Update mutates the device context in place under the accessory lock and
// returns the resulting state.
func (a *Accessory) Update(fn func(d *cloud.Device)) cloud.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.device)
	a.track()
	return a.device
}

// UpdateAt is Update for local changes: the change time is recorded in the
// same critical section as the mutation.
func (a *Accessory) UpdateAt(t time.Time, fn func(d *cloud.Device)) cloud.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.device)
	a.track()
	a.lastChanged = t
	return a.device
}

// UpdateIf runs fn only when allow accepts the last local change time, both
// under the accessory lock. It reports whether fn ran.
func (a *Accessory) UpdateIf(allow func(lastChanged time.Time) bool, fn func(d *cloud.Device)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !allow(a.lastChanged) {
		return false
	}
	fn(&a.device)
	a.track()
	return true
}

// LastOnBrightness returns the brightness the bulb had the last time its
// context showed it on, or 0 if it was never seen on.
func (a *Accessory) LastOnBrightness() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onBrightness
}

func (a *Accessory) track() {
	if a.device.IsOn() && a.device.Brightness > 0 {
		a.onBrightness = a.device.Brightness
	}
}

// LastChanged returns when the accessory was last changed locally.
func (a *Accessory) LastChanged() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastChanged
}

// MarkChanged records a local change at t.
func (a *Accessory) MarkChanged(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastChanged = t
}

// Project pushes the power and brightness derived from the device context to
// the characteristics without running their handlers, so remote state never
// re-enters the command path.
func (a *Accessory) Project() {
	d := a.Device()
	a.Power.UpdateValue(d.IsOn())
	a.Brightness.UpdateValue(d.Brightness)
}
