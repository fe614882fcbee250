package accessory

import "github.com/google/uuid"

// namespace scopes accessory UUIDs so the same bulb ID maps to the same
// accessory on every host.
var namespace = uuid.MustParse("6c1f6c2e-3b7a-5e64-9a3e-0b9b1a5d2f10")

// UUIDFor derives the accessory UUID of a bulb. It is a UUIDv5 (SHA-1) of the
// bulb ID, so it is stable across polls and restarts.
func UUIDFor(bulbID string) string {
	return uuid.NewSHA1(namespace, []byte(bulbID)).String()
}
