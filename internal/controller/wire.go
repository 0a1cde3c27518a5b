package controller

import (
	"encoding/json"
	"fmt"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// EventFromEnvelope decodes a stack event envelope into a typed event.
// Envelope decoding is the system boundary: addresses are validated and
// item records get their process identities here, so everything past
// this point works with typed values only.
func EventFromEnvelope(env avrcp.EventEnvelope, covers *CoverArtIndex) (Event, error) {
	if err := avrcp.ValidateEventEnvelope(env); err != nil {
		return nil, err
	}
	dev, err := ParseDeviceID(env.Address)
	if err != nil {
		return nil, err
	}
	base := deviceEvent{dev}

	switch env.Type {
	case avrcp.EventConnectionChanged:
		var body avrcp.ConnectionChangedBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ConnectionChanged{base, body.RemoteControl, body.Browsing}, nil

	case avrcp.EventTrackChanged:
		var body avrcp.TrackChangedBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return TrackChanged{base, ItemFromBody(dev, body.Item, covers)}, nil

	case avrcp.EventPlayPositionChanged:
		var body avrcp.PlayPositionBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return PlayPositionChanged{base, body.DurationMS, body.PositionMS}, nil

	case avrcp.EventPlayStatusChanged:
		var body avrcp.PlayStatusBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return PlayStatusChanged{base, ParsePlaybackStatus(body.Status)}, nil

	case avrcp.EventSupportedSettings:
		var body avrcp.SettingsBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SupportedSettingsChanged{base, PlayerSettings(body.Settings)}, nil

	case avrcp.EventCurrentSettings:
		var body avrcp.SettingsBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return CurrentSettingsChanged{base, PlayerSettings(body.Settings)}, nil

	case avrcp.EventAvailablePlayersChanged:
		return AvailablePlayersChanged{base}, nil

	case avrcp.EventAddressedPlayerChanged:
		var body avrcp.AddressedPlayerBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return AddressedPlayerChanged{base, body.PlayerID}, nil

	case avrcp.EventNowPlayingContentChanged:
		return NowPlayingContentChanged{base}, nil

	case avrcp.EventFolderItems:
		var body avrcp.FolderItemsBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		items := make([]MediaItem, 0, len(body.Items))
		for _, item := range body.Items {
			items = append(items, ItemFromBody(dev, item, covers))
		}
		return FolderItemsResult{base, body.Epoch, items, body.Final}, nil

	case avrcp.EventPlayerItems:
		var body avrcp.PlayerItemsBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		players := make([]PlayerItem, 0, len(body.Players))
		for _, player := range body.Players {
			players = append(players, PlayerFromBody(dev, player))
		}
		return PlayerItemsResult{base, body.Epoch, players, body.Final}, nil

	case avrcp.EventChangeFolder:
		var body avrcp.ChangeFolderBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ChangeFolderResult{base, body.Count}, nil

	case avrcp.EventSetBrowsedPlayer:
		var body avrcp.SetBrowsedPlayerBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SetBrowsedPlayerResult{base, body.Items, body.Depth}, nil

	case avrcp.EventSetAddressedPlayer:
		var body avrcp.SetAddressedPlayerBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SetAddressedPlayerResult{base, body.Status}, nil

	case avrcp.EventRegisterAbsVolume:
		var body avrcp.AbsVolumeBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return RegisterAbsVolRequest{base, body.Label}, nil

	case avrcp.EventSetAbsVolume:
		var body avrcp.AbsVolumeBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SetAbsVolumeRequest{base, body.Volume, body.Label}, nil

	case avrcp.EventCoverArtPSM:
		var body avrcp.CoverArtPSMBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return CoverArtPSMReceived{base, body.PSM}, nil

	case avrcp.EventCoverArtDownloaded:
		var body avrcp.CoverArtDownloadedBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return CoverArtDownloaded{base, body.Handle, body.UUID, body.Success}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", env.Type)
}
