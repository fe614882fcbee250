package cloud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		expected Device
	}{
		{
			name:     "empty object takes defaults",
			raw:      map[string]any{},
			expected: Device{ModeID: ModeOff},
		},
		{
			name: "wire bulb_ID maps to BulbID",
			raw:  map[string]any{"bulb_ID": "abc", "nickname": "Desk"},
			expected: Device{
				BulbID:   "abc",
				Nickname: "Desk",
				ModeID:   ModeOff,
			},
		},
		{
			name: "numbers as json.Number and strings",
			raw: map[string]any{
				"bulb_ID":    "abc",
				"brightness": json.Number("75"),
				"red":        "12",
				"green":      float64(3),
				"whiteColor": json.Number("99.6"),
				"generation": json.Number("3"),
				"modeId":     "party",
			},
			expected: Device{
				BulbID:     "abc",
				Brightness: 75,
				Red:        12,
				Green:      3,
				WhiteColor: 100,
				Generation: "3",
				ModeID:     "party",
			},
		},
		{
			name: "full record",
			raw: map[string]any{
				"bulb_ID":         "b-1",
				"groupId":         "g-1",
				"userId":          "u-1",
				"deviceId":        "d-1",
				"firmwareVersion": "1.0.4",
				"isAvailable":     true,
				"blue":            json.Number("5"),
				"violet":          json.Number("6"),
			},
			expected: Device{
				BulbID:          "b-1",
				GroupID:         "g-1",
				UserID:          "u-1",
				DeviceID:        "d-1",
				FirmwareVersion: "1.0.4",
				ModeID:          ModeOff,
				Blue:            5,
				Violet:          6,
				IsAvailable:     true,
			},
		},
		{
			name:     "garbage values fall back to defaults",
			raw:      map[string]any{"brightness": "bright", "isAvailable": "maybe", "modeId": nil},
			expected: Device{ModeID: ModeOff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.raw))
		})
	}
}

func TestDevice_IsOn(t *testing.T) {
	assert.False(t, Device{ModeID: ModeOff}.IsOn())
	assert.True(t, Device{ModeID: "calm5"}.IsOn())
}

func TestDevice_Command(t *testing.T) {
	d := Device{BulbID: "b", GroupID: "g", ModeID: "calm5", Brightness: 40, Red: 1, Green: 2, Blue: 3, Violet: 4, WhiteColor: 5}
	assert.Equal(t, ModeCommand{GroupID: "g", ModeID: "calm5", Brightness: 40, Red: 1, Green: 2, Blue: 3, Violet: 4, WhiteColor: 5}, d.Command())
}
