package controller

import (
	"github.com/google/uuid"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// PlaybackStatus mirrors the accessory-reported play state.
type PlaybackStatus string

// Playback statuses.
const (
	PlaybackStopped PlaybackStatus = "stopped"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
	PlaybackFwdSeek PlaybackStatus = "fwdSeek"
	PlaybackRevSeek PlaybackStatus = "revSeek"
	PlaybackError   PlaybackStatus = "error"
)

// ParsePlaybackStatus maps a wire status string, defaulting to stopped.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch PlaybackStatus(s) {
	case PlaybackPlaying, PlaybackPaused, PlaybackFwdSeek, PlaybackRevSeek, PlaybackError:
		return PlaybackStatus(s)
	default:
		return PlaybackStopped
	}
}

// MediaItem is an immutable media element record. Items are replaced
// wholesale on update, never patched field by field.
type MediaItem struct {
	UUID           string
	Device         DeviceID
	UID            uint64
	Title          string
	Artist         string
	Album          string
	Genre          string
	TrackNumber    int64
	TotalTracks    int64
	DurationMS     int64
	Playable       bool
	Browsable      bool
	CoverArtHandle string
	CoverArtUUID   string
}

// DisplayName returns the user-visible name of the item.
func (m MediaItem) DisplayName() string {
	if m.Title != "" {
		return m.Title
	}
	return "Unknown"
}

// PlayerItem is an immutable media-player record reported by a device.
type PlayerItem struct {
	Device     DeviceID
	PlayerID   int
	Name       string
	PlayStatus PlaybackStatus
	Browsable  bool
}

// PlayerSettings holds player application settings keyed by name.
type PlayerSettings map[string]string

// Clone copies the settings map so records stay immutable.
func (s PlayerSettings) Clone() PlayerSettings {
	if s == nil {
		return nil
	}
	out := make(PlayerSettings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ItemFromBody builds a MediaItem from a wire record, assigning a fresh
// process-unique UUID and resolving its cover art when possible.
func ItemFromBody(dev DeviceID, body avrcp.ItemBody, covers *CoverArtIndex) MediaItem {
	item := MediaItem{
		UUID:           uuid.NewString(),
		Device:         dev,
		UID:            body.UID,
		Title:          body.Title,
		Artist:         body.Artist,
		Album:          body.Album,
		Genre:          body.Genre,
		TrackNumber:    body.TrackNumber,
		TotalTracks:    body.TotalTracks,
		DurationMS:     body.DurationMS,
		Playable:       body.Playable,
		Browsable:      body.Browsable,
		CoverArtHandle: body.CoverArtHandle,
	}
	if covers != nil && item.CoverArtHandle != "" {
		if ref, ok := covers.Resolve(dev, item.CoverArtHandle); ok {
			item.CoverArtUUID = ref
		}
	}
	return item
}

// PlayerFromBody builds a PlayerItem from a wire record.
func PlayerFromBody(dev DeviceID, body avrcp.PlayerBody) PlayerItem {
	return PlayerItem{
		Device:     dev,
		PlayerID:   body.PlayerID,
		Name:       body.Name,
		PlayStatus: ParsePlaybackStatus(body.PlayStatus),
		Browsable:  body.Browsable,
	}
}
