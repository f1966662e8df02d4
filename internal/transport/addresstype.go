package transport

import (
	tg "tinygo.org/x/bluetooth"
)

// AddressType classifies a discovered peripheral's BLE address, mainly as a
// pairing-flow diagnostic: a resolvable-private or non-resolvable-private
// address means the camera's MAC can rotate, which is exactly the condition
// that makes a stale BlueZ device-cache entry block reconnection (see
// Preflight's cache clearing).
func AddressType(addr tg.Address) (typ string, sub string) {
	if !addr.IsRandom() {
		return "public_or_unknown", ""
	}
	b, err := addr.MAC.MarshalBinary()
	if err != nil || len(b) < 1 {
		return "random", ""
	}
	return "random", classifyRandomSubtype(b[0])
}

// classifyRandomSubtype reads the two most-significant bits of a random
// address's first byte.
func classifyRandomSubtype(firstByte byte) string {
	switch (firstByte >> 6) & 0x03 {
	case 0:
		return "non_resolvable_private"
	case 1:
		return "resolvable_private"
	case 2:
		return "reserved"
	default:
		return "static_random"
	}
}
