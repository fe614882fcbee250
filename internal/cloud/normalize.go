package cloud

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Normalize converts one raw device object from the room listing into a
// Device. Absent fields take their defaults: mode "off", zero numbers, empty
// strings, unavailable. A device without bulb_ID yields an empty BulbID;
// callers must drop such devices before using them as identities.
func Normalize(raw map[string]any) Device {
	return Device{
		BulbID:          stringField(raw, "bulb_ID"),
		GroupID:         stringField(raw, "groupId"),
		UserID:          stringField(raw, "userId"),
		DeviceID:        stringField(raw, "deviceId"),
		FirmwareVersion: stringField(raw, "firmwareVersion"),
		Nickname:        stringField(raw, "nickname"),
		Generation:      stringField(raw, "generation"),
		ModeID:          stringFieldOr(raw, "modeId", ModeOff),
		Brightness:      intField(raw, "brightness"),
		Red:             intField(raw, "red"),
		Green:           intField(raw, "green"),
		Blue:            intField(raw, "blue"),
		Violet:          intField(raw, "violet"),
		WhiteColor:      intField(raw, "whiteColor"),
		IsAvailable:     boolField(raw, "isAvailable"),
	}
}

func stringField(raw map[string]any, key string) string {
	return stringFieldOr(raw, key, "")
}

func stringFieldOr(raw map[string]any, key, def string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return def
	}
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return int(math.Round(f))
		}
	case float64:
		return int(math.Round(v))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(math.Round(f))
		}
	}
	return 0
}

func boolField(raw map[string]any, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		return v.String() != "0"
	}
	return false
}
