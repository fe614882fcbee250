// Package reconcile makes the local accessory set mirror the bulbs the cloud
// reports.
package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/accessory"
	"github.com/dokzlo13/bulbsync/internal/clock"
	"github.com/dokzlo13/bulbsync/internal/cloud"
)

// Fetcher lists the devices of the account. ok is false when the fetch failed.
type Fetcher interface {
	FetchAllDevices(ctx context.Context) (devices []cloud.Device, ok bool)
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created int
	Updated int
	Held    int // existing accessories left alone because of a recent local change
	Removed int
	Skipped int // devices without a bulb ID
}

// Reconciler aligns the accessories of a platform with fetched devices.
type Reconciler struct {
	fetcher  Fetcher
	platform accessory.Platform
	clock    clock.Clock
	logger   zerolog.Logger

	// localGrace keeps a poll from overwriting an accessory changed locally
	// less than this long ago. Zero disables the check.
	localGrace time.Duration

	running atomic.Bool
}

// New creates a new Reconciler
func New(fetcher Fetcher, platform accessory.Platform, clk clock.Clock, localGrace time.Duration) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		fetcher:    fetcher,
		platform:   platform,
		clock:      clk,
		logger:     log.Logger,
		localGrace: localGrace,
	}
}

// Sync fetches the devices and reconciles them. At most one Sync runs at a
// time: a call made while another is in flight returns false immediately
// without fetching. A failed fetch skips the pass so a transient error never
// unregisters every accessory.
func (r *Reconciler) Sync(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug().Msg("Sync already in progress, dropping trigger")
		return false
	}
	defer r.running.Store(false)

	devices, ok := r.fetcher.FetchAllDevices(ctx)
	if !ok {
		r.logger.Warn().Msg("Device fetch failed, skipping reconciliation")
		return false
	}

	r.Reconcile(devices)
	return true
}

// Reconcile registers accessories for new bulbs, updates known ones in place
// and unregisters those whose bulb is gone. Creations and updates happen in
// fetch order and all complete before any removal.
func (r *Reconciler) Reconcile(devices []cloud.Device) Result {
	var res Result

	existing := r.platform.Cached()
	discovered := make(map[string]struct{}, len(devices))
	var dirty []*accessory.Accessory

	for _, d := range devices {
		if d.BulbID == "" {
			r.logger.Warn().Str("nickname", d.Nickname).Msg("Skipping device without bulb ID")
			res.Skipped++
			continue
		}

		id := accessory.UUIDFor(d.BulbID)
		if _, seen := discovered[id]; seen {
			r.logger.Debug().Str("bulb", d.BulbID).Msg("Duplicate device in fetch, ignoring")
			continue
		}
		discovered[id] = struct{}{}

		if a, ok := existing[id]; ok {
			applied, changed := r.update(a, d)
			if !applied {
				res.Held++
				continue
			}
			if changed {
				dirty = append(dirty, a)
			}
			a.Project()
			res.Updated++
			continue
		}

		a := r.platform.CreateAccessory(displayName(d), id)
		a.SetDevice(d)
		a.Project()
		if err := r.platform.RegisterAccessories([]*accessory.Accessory{a}); err != nil {
			r.logger.Error().Err(err).Str("bulb", d.BulbID).Msg("Failed to register accessory")
			continue
		}
		res.Created++
	}

	if len(dirty) > 0 {
		if err := r.platform.UpdateAccessories(dirty); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to update accessory cache")
		}
	}

	var stale []*accessory.Accessory
	for id, a := range existing {
		if _, ok := discovered[id]; !ok {
			stale = append(stale, a)
		}
	}
	if len(stale) > 0 {
		if err := r.platform.UnregisterAccessories(stale); err != nil {
			r.logger.Error().Err(err).Msg("Failed to unregister stale accessories")
		}
		res.Removed = len(stale)
	}

	r.logger.Debug().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("held", res.Held).
		Int("removed", res.Removed).
		Int("skipped", res.Skipped).
		Msg("Reconciliation completed")

	return res
}

// update copies the polled brightness and mode into the accessory context.
// applied is false when a recent local change holds the accessory; the check
// and the write happen under the accessory lock so a concurrent local change
// is never overwritten.
func (r *Reconciler) update(a *accessory.Accessory, d cloud.Device) (applied, changed bool) {
	applied = a.UpdateIf(r.allowOverwrite(a.UUID), func(cur *cloud.Device) {
		if cur.Brightness != d.Brightness || cur.ModeID != d.ModeID {
			changed = true
		}
		cur.Brightness = d.Brightness
		cur.ModeID = d.ModeID
	})
	return applied, changed
}

func (r *Reconciler) allowOverwrite(uuid string) func(time.Time) bool {
	return func(last time.Time) bool {
		if r.localGrace <= 0 || last.IsZero() {
			return true
		}
		since := r.clock.Since(last)
		if since >= r.localGrace {
			return true
		}
		r.logger.Debug().
			Str("uuid", uuid).
			Dur("since_local_change", since).
			Msg("Recent local change, keeping local state")
		return false
	}
}

func displayName(d cloud.Device) string {
	if d.Nickname != "" {
		return d.Nickname
	}
	return fmt.Sprintf("Bulb %s", d.BulbID)
}
