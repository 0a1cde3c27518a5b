package controller

import "github.com/mikey-austin/avrcpctl/pkg/avrcp"

// ProtocolEngine issues fire-and-forget commands to the native protocol
// engine for one accessory. Replies arrive later as ordinary events; no
// call here blocks on the remote device.
type ProtocolEngine interface {
	GetPlayerList(dev DeviceID, epoch uint32, start, end int)
	GetFolderList(dev DeviceID, epoch uint32, start, end int)
	GetNowPlayingList(dev DeviceID, epoch uint32, start, end int)
	ChangeFolderPath(dev DeviceID, direction int, uid uint64)
	SetBrowsedPlayer(dev DeviceID, playerID int)
	SetAddressedPlayer(dev DeviceID, playerID int)
	PlayItem(dev DeviceID, scope Scope, uid uint64, epoch uint32)
	SendPassThrough(dev DeviceID, keyCode, keyState int)
	SendGroupNavigation(dev DeviceID, keyCode, keyState int)
	SetPlayerSettings(dev DeviceID, settings PlayerSettings)
	SendAbsVolumeResponse(dev DeviceID, volume, label int)
	SendRegisterAbsVolResponse(dev DeviceID, volume, label int)
	GetCurrentMetadata(dev DeviceID)
	GetPlaybackState(dev DeviceID)
}

// AudioRouter arbitrates local audio routing. ClaimRoute is consulted
// synchronously during active-device handoff; the handoff is committed
// only when it accepts.
type AudioRouter interface {
	ClaimRoute(dev *DeviceID) bool
	SetAbsoluteVolume(volume int)
	Volume() int
}

// Presenter is the content-presentation collaborator.
type Presenter interface {
	Reset()
	SetActive(active bool)
	NowPlayingChanged(state avrcp.NowPlayingState)
}
