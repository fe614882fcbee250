package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RoomLister returns the raw room listing of the account.
type RoomLister interface {
	RoomsByUser(ctx context.Context) ([]byte, error)
}

// Fetcher lists every device of the account as a flat slice of Devices.
type Fetcher struct {
	rooms  RoomLister
	logger zerolog.Logger
}

// NewFetcher creates a fetcher over the given room lister.
func NewFetcher(rooms RoomLister) *Fetcher {
	return &Fetcher{
		rooms:  rooms,
		logger: log.Logger,
	}
}

// WithLogger replaces the fetcher's logger.
func (f *Fetcher) WithLogger(logger zerolog.Logger) *Fetcher {
	f.logger = logger
	return f
}

// FetchAllDevices lists the rooms and flattens their devices. Failures never
// reach the caller: they are logged and produce an empty, non-nil slice with
// ok=false, so "the fetch failed" stays distinguishable from "the account has
// no bulbs".
func (f *Fetcher) FetchAllDevices(ctx context.Context) (devices []Device, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("Device fetch panicked")
			devices, ok = []Device{}, false
		}
	}()

	body, err := f.rooms.RoomsByUser(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to fetch rooms")
		return []Device{}, false
	}

	devices, err = f.parse(body)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to parse rooms")
		return []Device{}, false
	}

	f.logger.Debug().Int("devices", len(devices)).Msg("Fetched devices")
	return devices, true
}

func (f *Fetcher) parse(body []byte) ([]Device, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	rooms, isArray := payload.([]any)
	if !isArray {
		return nil, fmt.Errorf("expected an array of rooms, got %s", jsonKind(payload))
	}

	devices := make([]Device, 0)
	for i, r := range rooms {
		room, _ := r.(map[string]any)
		rawDevices, isArray := room["devices"].([]any)
		if !isArray {
			f.logger.Warn().Int("room", i).Msg("Room has no device list")
			continue
		}

		for _, rd := range rawDevices {
			raw, isObject := rd.(map[string]any)
			if !isObject {
				f.logger.Warn().Int("room", i).Msg("Skipping malformed device entry")
				continue
			}

			device := Normalize(raw)
			if device.BulbID == "" {
				f.logger.Warn().
					Int("room", i).
					Str("nickname", device.Nickname).
					Msg("Device is missing bulb_ID")
			}
			devices = append(devices, device)
		}
	}

	return devices, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
