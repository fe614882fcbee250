// Package cloud talks to the vendor cloud that owns the bulbs: it lists rooms
// and devices and starts modes on rooms.
package cloud

// ModeOff is the mode the cloud uses for a powered-off bulb. Every other mode
// is an active lighting mode.
const ModeOff = "off"

// Device is the canonical shape of one bulb as reported by the cloud.
type Device struct {
	BulbID          string `json:"bulbId"`
	GroupID         string `json:"groupId"`
	UserID          string `json:"userId"`
	DeviceID        string `json:"deviceId"`
	FirmwareVersion string `json:"firmwareVersion"`
	Nickname        string `json:"nickname"`
	Generation      string `json:"generation"`
	ModeID          string `json:"modeId"`
	Brightness      int    `json:"brightness"`
	Red             int    `json:"red"`
	Green           int    `json:"green"`
	Blue            int    `json:"blue"`
	Violet          int    `json:"violet"`
	WhiteColor      int    `json:"whiteColor"`
	IsAvailable     bool   `json:"isAvailable"`
}

// IsOn reports whether the device is powered on.
func (d Device) IsOn() bool {
	return d.ModeID != ModeOff
}

// ModeCommand is the body of a roomModeStart request.
type ModeCommand struct {
	GroupID    string `json:"groupId"`
	ModeID     string `json:"modeId"`
	Brightness int    `json:"brightness"`
	Red        int    `json:"red"`
	Green      int    `json:"green"`
	Blue       int    `json:"blue"`
	Violet     int    `json:"violet"`
	WhiteColor int    `json:"whiteColor"`
}

// Command builds the upstream command carrying the device's current state.
func (d Device) Command() ModeCommand {
	return ModeCommand{
		GroupID:    d.GroupID,
		ModeID:     d.ModeID,
		Brightness: d.Brightness,
		Red:        d.Red,
		Green:      d.Green,
		Blue:       d.Blue,
		Violet:     d.Violet,
		WhiteColor: d.WhiteColor,
	}
}
