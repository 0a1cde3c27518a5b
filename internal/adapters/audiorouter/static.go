package audiorouter

import (
	"sync"

	"github.com/mikey-austin/avrcpctl/internal/controller"
)

// MaxVolume is the top of the protocol volume range.
const MaxVolume = 127

// Static is an in-process router used when no external audio router is
// configured. It accepts every routing claim and tracks volume locally.
type Static struct {
	mu     sync.Mutex
	volume int
}

// NewStatic creates a static router with an initial volume.
func NewStatic(volume int) *Static {
	return &Static{volume: clampVolume(volume)}
}

// ClaimRoute accepts every claim.
func (s *Static) ClaimRoute(_ *controller.DeviceID) bool { return true }

// SetAbsoluteVolume stores the requested volume.
func (s *Static) SetAbsoluteVolume(volume int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(volume)
}

// Volume returns the current volume.
func (s *Static) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// VolumeToPercent converts a protocol volume (0..127) to a percentage.
func VolumeToPercent(volume int) int {
	return clampVolume(volume) * 100 / MaxVolume
}

// PercentToVolume converts a percentage to a protocol volume (0..127).
func PercentToVolume(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent * MaxVolume / 100
}
