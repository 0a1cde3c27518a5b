package controller

import (
	"fmt"
	"strings"
)

// DeviceID is the stable identity of a remote accessory, its link-layer
// address in canonical lower-case colon form. It is constructed once at
// the system boundary and used as the key for all per-device state.
type DeviceID string

// ParseDeviceID validates and canonicalizes a link-layer address.
func ParseDeviceID(raw string) (DeviceID, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid device address %q", raw)
	}
	for _, part := range parts {
		if len(part) != 2 || !isHexByte(part) {
			return "", fmt.Errorf("invalid device address %q", raw)
		}
	}
	return DeviceID(addr), nil
}

func (d DeviceID) String() string {
	return string(d)
}

func isHexByte(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
