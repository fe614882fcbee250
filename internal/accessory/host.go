package accessory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/storage"
)

// ErrAlreadyRegistered is returned when registering a UUID twice.
var ErrAlreadyRegistered = errors.New("accessory already registered")

// ErrNotRegistered is returned when operating on an unknown accessory.
var ErrNotRegistered = errors.New("accessory not registered")

// Platform is the host surface the reconciler drives.
type Platform interface {
	CreateAccessory(name, uuid string) *Accessory
	RegisterAccessories(accessories []*Accessory) error
	UnregisterAccessories(accessories []*Accessory) error
	UpdateAccessories(accessories []*Accessory) error
	Cached() map[string]*Accessory
}

// Store persists accessories across restarts.
type Store interface {
	Save(r storage.Record) error
	Delete(uuid string) error
	LoadAll() ([]storage.Record, error)
}

// Host keeps the registered accessories keyed by UUID, mirrors them into a
// Store, and notifies listeners when accessories appear or go away.
type Host struct {
	store Store

	mu          sync.RWMutex
	accessories map[string]*Accessory

	hooksMu     sync.RWMutex
	onConfigure []func(*Accessory)
	onRegister  []func(*Accessory)
	onRemove    []func(*Accessory)
}

// NewHost creates a host. store may be nil for a host without persistence.
func NewHost(store Store) *Host {
	return &Host{
		store:       store,
		accessories: make(map[string]*Accessory),
	}
}

// OnConfigure registers fn to run for every accessory restored from the
// cache or newly registered.
func (h *Host) OnConfigure(fn func(*Accessory)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onConfigure = append(h.onConfigure, fn)
}

// OnRegister registers fn to run for every newly registered accessory, after
// the OnConfigure hooks.
func (h *Host) OnRegister(fn func(*Accessory)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onRegister = append(h.onRegister, fn)
}

// OnRemove registers fn to run for every unregistered accessory.
func (h *Host) OnRemove(fn func(*Accessory)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onRemove = append(h.onRemove, fn)
}

// Restore loads the cached accessories. It must run before the first
// reconciliation so known bulbs are updated instead of registered again.
func (h *Host) Restore() (int, error) {
	if h.store == nil {
		return 0, nil
	}

	records, err := h.store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to restore accessory cache: %w", err)
	}

	restored := make([]*Accessory, 0, len(records))
	h.mu.Lock()
	for _, r := range records {
		if _, exists := h.accessories[r.UUID]; exists {
			continue
		}
		a := New(r.Name, r.UUID)
		a.SetDevice(r.Device)
		a.MarkChanged(r.LastChanged)
		a.Project()
		h.accessories[r.UUID] = a
		restored = append(restored, a)
	}
	h.mu.Unlock()

	for _, a := range restored {
		h.configure(a)
	}

	log.Info().Int("accessories", len(restored)).Msg("Restored accessory cache")
	return len(restored), nil
}

// CreateAccessory returns a new, unregistered accessory.
func (h *Host) CreateAccessory(name, uuid string) *Accessory {
	return New(name, uuid)
}

// RegisterAccessories adds accessories to the host. An accessory whose UUID
// is already registered is rejected and the rest are still registered.
func (h *Host) RegisterAccessories(accessories []*Accessory) error {
	var errs []error
	added := make([]*Accessory, 0, len(accessories))

	h.mu.Lock()
	for _, a := range accessories {
		if _, exists := h.accessories[a.UUID]; exists {
			log.Error().Str("uuid", a.UUID).Str("name", a.Name).Msg("Refusing to register accessory twice")
			errs = append(errs, fmt.Errorf("%s: %w", a.UUID, ErrAlreadyRegistered))
			continue
		}
		h.accessories[a.UUID] = a
		added = append(added, a)
	}
	h.mu.Unlock()

	h.hooksMu.RLock()
	hooks := h.onRegister
	h.hooksMu.RUnlock()

	for _, a := range added {
		h.persist(a)
		h.configure(a)
		for _, fn := range hooks {
			fn(a)
		}
		log.Info().Str("uuid", a.UUID).Str("name", a.Name).Msg("Registered accessory")
	}

	return errors.Join(errs...)
}

// UnregisterAccessories removes accessories from the host and the cache.
func (h *Host) UnregisterAccessories(accessories []*Accessory) error {
	var errs []error
	removed := make([]*Accessory, 0, len(accessories))

	h.mu.Lock()
	for _, a := range accessories {
		if _, exists := h.accessories[a.UUID]; !exists {
			errs = append(errs, fmt.Errorf("%s: %w", a.UUID, ErrNotRegistered))
			continue
		}
		delete(h.accessories, a.UUID)
		removed = append(removed, a)
	}
	h.mu.Unlock()

	h.hooksMu.RLock()
	hooks := h.onRemove
	h.hooksMu.RUnlock()

	for _, a := range removed {
		if h.store != nil {
			if err := h.store.Delete(a.UUID); err != nil {
				log.Warn().Err(err).Str("uuid", a.UUID).Msg("Failed to drop accessory from cache")
			}
		}
		for _, fn := range hooks {
			fn(a)
		}
		log.Info().Str("uuid", a.UUID).Str("name", a.Name).Msg("Unregistered accessory")
	}

	return errors.Join(errs...)
}

// UpdateAccessories writes the current context of registered accessories
// to the cache.
func (h *Host) UpdateAccessories(accessories []*Accessory) error {
	var errs []error
	for _, a := range accessories {
		h.mu.RLock()
		_, exists := h.accessories[a.UUID]
		h.mu.RUnlock()
		if !exists {
			errs = append(errs, fmt.Errorf("%s: %w", a.UUID, ErrNotRegistered))
			continue
		}
		h.persist(a)
	}
	return errors.Join(errs...)
}

// Cached returns a snapshot of the registered accessories keyed by UUID.
func (h *Host) Cached() map[string]*Accessory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*Accessory, len(h.accessories))
	for id, a := range h.accessories {
		out[id] = a
	}
	return out
}

// Get returns a registered accessory.
func (h *Host) Get(uuid string) (*Accessory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.accessories[uuid]
	return a, ok
}

// List returns the registered accessories ordered by name.
func (h *Host) List() []*Accessory {
	h.mu.RLock()
	out := make([]*Accessory, 0, len(h.accessories))
	for _, a := range h.accessories {
		out = append(out, a)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

func (h *Host) configure(a *Accessory) {
	h.hooksMu.RLock()
	hooks := h.onConfigure
	h.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(a)
	}
}

func (h *Host) persist(a *Accessory) {
	if h.store == nil {
		return
	}
	err := h.store.Save(storage.Record{
		UUID:        a.UUID,
		Name:        a.Name,
		Device:      a.Device(),
		LastChanged: a.LastChanged(),
	})
	if err != nil {
		log.Warn().Err(err).Str("uuid", a.UUID).Msg("Failed to cache accessory")
	}
}
