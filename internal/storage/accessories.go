// Package storage persists the accessory cache in SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/cloud"
)

// Record is one cached accessory.
type Record struct {
	UUID        string
	Name        string
	Device      cloud.Device
	LastChanged time.Time
	Version     int64
}

// AccessoryStore keeps registered accessories across restarts. Each row
// carries a version that increments on every save.
type AccessoryStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewAccessoryStore creates a new accessory store.
func NewAccessoryStore(db *sql.DB) *AccessoryStore {
	return &AccessoryStore{db: db}
}

// Save inserts or updates a record.
func (s *AccessoryStore) Save(r Record) error {
	payload, err := json.Marshal(r.Device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}

	var lastChanged sql.NullInt64
	if !r.LastChanged.IsZero() {
		lastChanged = sql.NullInt64{Int64: r.LastChanged.UnixMilli(), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	_, err = s.db.Exec(`
		INSERT INTO accessory_cache (uuid, name, device, last_changed, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			device = excluded.device,
			last_changed = excluded.last_changed,
			version = version + 1,
			updated_at = excluded.updated_at
	`, r.UUID, r.Name, string(payload), lastChanged, now)
	if err != nil {
		return fmt.Errorf("failed to save accessory %s: %w", r.UUID, err)
	}

	log.Debug().
		Str("uuid", r.UUID).
		Str("payload", string(payload)).
		Msg("AccessoryStore.Save completed")

	return nil
}

// Get returns one record, or nil if it is not cached.
func (s *AccessoryStore) Get(uuid string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT uuid, name, device, last_changed, version FROM accessory_cache
		WHERE uuid = ?
	`, uuid)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// LoadAll returns every cached record.
func (s *AccessoryStore) LoadAll() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT uuid, name, device, last_changed, version FROM accessory_cache
		ORDER BY name, uuid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load accessories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}

	return records, rows.Err()
}

// Delete removes a record.
func (s *AccessoryStore) Delete(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM accessory_cache WHERE uuid = ?`, uuid)
	return err
}

// Clear removes every record.
func (s *AccessoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM accessory_cache`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var payload string
	var lastChanged sql.NullInt64

	if err := row.Scan(&r.UUID, &r.Name, &payload, &lastChanged, &r.Version); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &r.Device); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device of %s: %w", r.UUID, err)
	}
	if lastChanged.Valid {
		r.LastChanged = time.UnixMilli(lastChanged.Int64)
	}

	return &r, nil
}
