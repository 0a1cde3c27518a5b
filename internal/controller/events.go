package controller

// Event is one protocol occurrence for a single device. The set of
// implementations is closed; the session's transition function matches
// every kind, dropping the ones its current state refuses.
type Event interface {
	Device() DeviceID
	event()
}

type deviceEvent struct {
	Dev DeviceID
}

func (e deviceEvent) Device() DeviceID { return e.Dev }
func (deviceEvent) event()             {}

// ConnectionChanged reports transport channel availability. Both flags
// false means the device disconnected.
type ConnectionChanged struct {
	deviceEvent
	RemoteControl bool
	Browsing      bool
}

// TrackChanged carries the new current track.
type TrackChanged struct {
	deviceEvent
	Item MediaItem
}

// PlayPositionChanged carries a position update.
type PlayPositionChanged struct {
	deviceEvent
	DurationMS int64
	PositionMS int64
}

// PlayStatusChanged carries a play state update.
type PlayStatusChanged struct {
	deviceEvent
	Status PlaybackStatus
}

// SupportedSettingsChanged reports the player's supported settings.
type SupportedSettingsChanged struct {
	deviceEvent
	Settings PlayerSettings
}

// CurrentSettingsChanged reports the player's current settings.
type CurrentSettingsChanged struct {
	deviceEvent
	Settings PlayerSettings
}

// AvailablePlayersChanged signals the player list must be refetched.
type AvailablePlayersChanged struct {
	deviceEvent
}

// AddressedPlayerChanged reports a new addressed player.
type AddressedPlayerChanged struct {
	deviceEvent
	PlayerID int
}

// NowPlayingContentChanged signals the now-playing list must be
// refetched.
type NowPlayingContentChanged struct {
	deviceEvent
}

// FolderItemsResult is one page of a folder or now-playing fetch.
type FolderItemsResult struct {
	deviceEvent
	Epoch uint32
	Items []MediaItem
	Final bool
}

// PlayerItemsResult is one page of a player-list fetch.
type PlayerItemsResult struct {
	deviceEvent
	Epoch   uint32
	Players []PlayerItem
	Final   bool
}

// ChangeFolderResult acknowledges a folder navigation step.
type ChangeFolderResult struct {
	deviceEvent
	Count int
}

// SetBrowsedPlayerResult acknowledges a browsed-player change.
type SetBrowsedPlayerResult struct {
	deviceEvent
	Items int
	Depth int
}

// SetAddressedPlayerResult acknowledges an addressed-player change.
type SetAddressedPlayerResult struct {
	deviceEvent
	Status int
}

// RegisterAbsVolRequest asks the controller to report volume changes.
type RegisterAbsVolRequest struct {
	deviceEvent
	Label int
}

// SetAbsVolumeRequest asks the controller to apply an absolute volume.
type SetAbsVolumeRequest struct {
	deviceEvent
	Volume int
	Label  int
}

// CoverArtPSMReceived announces the accessory's cover-art channel.
type CoverArtPSMReceived struct {
	deviceEvent
	PSM int
}

// CoverArtDownloaded reports an image download completion or failure.
type CoverArtDownloaded struct {
	deviceEvent
	Handle  string
	Ref     string
	Success bool
}

// AudioFocusChanged reports a local audio-focus transition for the
// active device.
type AudioFocusChanged struct {
	deviceEvent
	Gained bool
}

// browseRequest asks the session to populate a tree node. Internal:
// queued by the service so navigation state stays inside the actor.
type browseRequest struct {
	deviceEvent
	NodeID string
}
