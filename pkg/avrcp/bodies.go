package avrcp

// Stack event types emitted by the native protocol engine.
const (
	EventConnectionChanged        = "connectionChanged"
	EventTrackChanged             = "trackChanged"
	EventPlayPositionChanged      = "playPositionChanged"
	EventPlayStatusChanged        = "playStatusChanged"
	EventSupportedSettings        = "playerSettingsSupported"
	EventCurrentSettings          = "playerSettingsChanged"
	EventAvailablePlayersChanged  = "availablePlayersChanged"
	EventAddressedPlayerChanged   = "addressedPlayerChanged"
	EventNowPlayingContentChanged = "nowPlayingContentChanged"
	EventFolderItems              = "folderItems"
	EventPlayerItems              = "playerItems"
	EventChangeFolder             = "changeFolder"
	EventSetBrowsedPlayer         = "setBrowsedPlayer"
	EventSetAddressedPlayer       = "setAddressedPlayer"
	EventRegisterAbsVolume        = "registerAbsVolume"
	EventSetAbsVolume             = "setAbsVolume"
	EventCoverArtPSM              = "coverArtPsm"
	EventCoverArtDownloaded       = "coverArtDownloaded"
)

// Engine command types issued by the controller.
const (
	CommandGetFolderList          = "getFolderList"
	CommandGetPlayerList          = "getPlayerList"
	CommandGetNowPlayingList      = "getNowPlayingList"
	CommandChangeFolderPath       = "changeFolderPath"
	CommandSetBrowsedPlayer       = "setBrowsedPlayer"
	CommandSetAddressedPlayer     = "setAddressedPlayer"
	CommandPlayItem               = "playItem"
	CommandPassThrough            = "passThrough"
	CommandGroupNavigation        = "groupNavigation"
	CommandSetPlayerSettings      = "setPlayerSettings"
	CommandAbsVolumeResponse      = "absVolumeResponse"
	CommandRegisterAbsVolResponse = "registerAbsVolResponse"
	CommandGetCurrentMetadata     = "getCurrentMetadata"
	CommandGetPlaybackState       = "getPlaybackState"
)

// Control-surface request types.
const (
	CtlContentsGet = "contents.get"
	CtlItemPlay    = "item.play"
	CtlDevicesList = "devices.list"
	CtlDeviceState = "device.state"
	CtlActiveGet   = "active.get"
	CtlActiveSet   = "active.set"
	CtlKeyPress    = "key.press"
)

// ConnectionChangedBody reports transport channel availability.
type ConnectionChangedBody struct {
	RemoteControl bool `json:"remoteControl"`
	Browsing      bool `json:"browsing"`
}

// ItemBody is a media element as reported by the accessory.
type ItemBody struct {
	UID            uint64 `json:"uid"`
	Title          string `json:"title,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Album          string `json:"album,omitempty"`
	TrackNumber    int64  `json:"trackNumber,omitempty"`
	TotalTracks    int64  `json:"totalTracks,omitempty"`
	Genre          string `json:"genre,omitempty"`
	DurationMS     int64  `json:"durationMs,omitempty"`
	Playable       bool   `json:"playable"`
	Browsable      bool   `json:"browsable"`
	CoverArtHandle string `json:"coverArtHandle,omitempty"`
}

// PlayerBody is a media player as reported by the accessory.
type PlayerBody struct {
	PlayerID   int    `json:"playerId"`
	Name       string `json:"name"`
	PlayStatus string `json:"playStatus,omitempty"`
	Browsable  bool   `json:"browsable"`
}

// TrackChangedBody carries the new current track metadata.
type TrackChangedBody struct {
	Item ItemBody `json:"item"`
}

// PlayPositionBody carries a position update.
type PlayPositionBody struct {
	DurationMS int64 `json:"durationMs"`
	PositionMS int64 `json:"positionMs"`
}

// PlayStatusBody carries a playback status update.
type PlayStatusBody struct {
	Status string `json:"status"`
}

// SettingsBody carries player application settings, keyed by setting name.
type SettingsBody struct {
	Settings map[string]string `json:"settings"`
}

// AddressedPlayerBody identifies the new addressed player.
type AddressedPlayerBody struct {
	PlayerID int `json:"playerId"`
}

// FolderItemsBody is a (possibly partial) folder or now-playing listing.
type FolderItemsBody struct {
	Epoch uint32     `json:"epoch"`
	Items []ItemBody `json:"items"`
	Final bool       `json:"final"`
}

// PlayerItemsBody is a (possibly partial) player listing.
type PlayerItemsBody struct {
	Epoch   uint32       `json:"epoch"`
	Players []PlayerBody `json:"players"`
	Final   bool         `json:"final"`
}

// ChangeFolderBody reports the item count of the entered folder.
type ChangeFolderBody struct {
	Count int `json:"count"`
}

// SetBrowsedPlayerBody reports the browsed player root listing shape.
type SetBrowsedPlayerBody struct {
	Items int `json:"items"`
	Depth int `json:"depth"`
}

// SetAddressedPlayerBody reports the addressed-player command status.
type SetAddressedPlayerBody struct {
	Status int `json:"status"`
}

// AbsVolumeBody is an absolute-volume request or response. Volume is in
// the protocol range 0..127.
type AbsVolumeBody struct {
	Volume int `json:"volume"`
	Label  int `json:"label"`
}

// CoverArtPSMBody announces the accessory's cover-art channel.
type CoverArtPSMBody struct {
	PSM int `json:"psm"`
}

// CoverArtDownloadedBody reports a completed (or failed) image download.
type CoverArtDownloadedBody struct {
	Handle  string `json:"handle"`
	UUID    string `json:"uuid,omitempty"`
	Success bool   `json:"success"`
}

// FetchRangeBody is the window for a paginated list fetch.
type FetchRangeBody struct {
	Epoch uint32 `json:"epoch"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ChangeFolderPathBody navigates one level in the virtual filesystem.
type ChangeFolderPathBody struct {
	Direction int    `json:"direction"`
	UID       uint64 `json:"uid"`
}

// PlayerIDBody addresses a player for setBrowsedPlayer/setAddressedPlayer.
type PlayerIDBody struct {
	PlayerID int `json:"playerId"`
}

// PlayItemBody starts playback of one element.
type PlayItemBody struct {
	Scope int    `json:"scope"`
	UID   uint64 `json:"uid"`
	Epoch uint32 `json:"epoch"`
}

// PassThroughBody is a key press or release.
type PassThroughBody struct {
	KeyCode  int `json:"keyCode"`
	KeyState int `json:"keyState"`
}

// ContentsGetBody requests the children of a browse node.
type ContentsGetBody struct {
	NodeID string `json:"nodeId"`
}

// ContentsReply is the control-surface browse result.
type ContentsReply struct {
	Status string         `json:"status"`
	Items  []ContentEntry `json:"items"`
}

// ContentEntry is one row of a browse result.
type ContentEntry struct {
	NodeID       string `json:"nodeId"`
	Name         string `json:"name"`
	Playable     bool   `json:"playable"`
	Browsable    bool   `json:"browsable"`
	Artist       string `json:"artist,omitempty"`
	Album        string `json:"album,omitempty"`
	DurationMS   int64  `json:"durationMs,omitempty"`
	CoverArtUUID string `json:"coverArtUuid,omitempty"`
}

// ItemPlayBody starts playback of a browse node.
type ItemPlayBody struct {
	NodeID string `json:"nodeId"`
}

// DevicesListBody optionally filters by connection states.
type DevicesListBody struct {
	States []string `json:"states,omitempty"`
}

// DevicesReply lists known devices.
type DevicesReply struct {
	Devices []DeviceEntry `json:"devices"`
}

// DeviceEntry is one device row.
type DeviceEntry struct {
	Address  string `json:"address"`
	State    string `json:"state"`
	Browsing bool   `json:"browsing"`
	Active   bool   `json:"active"`
}

// DeviceStateBody requests one device's connection state.
type DeviceStateBody struct {
	Address string `json:"address"`
}

// DeviceStateReply reports one device's connection state.
type DeviceStateReply struct {
	State string `json:"state"`
}

// ActiveBody addresses a device for active.set; empty clears.
type ActiveBody struct {
	Address string `json:"address,omitempty"`
}

// ActiveReply reports the active device, empty when none.
type ActiveReply struct {
	Address string `json:"address,omitempty"`
}

// KeyPressBody sends a pass-through key to the active device.
type KeyPressBody struct {
	Address string `json:"address,omitempty"`
	KeyCode int    `json:"keyCode"`
}

// NowPlayingState is the retained now-playing payload for presenters.
type NowPlayingState struct {
	Address      string `json:"address,omitempty"`
	Title        string `json:"title,omitempty"`
	Artist       string `json:"artist,omitempty"`
	Album        string `json:"album,omitempty"`
	DurationMS   int64  `json:"durationMs,omitempty"`
	PositionMS   int64  `json:"positionMs,omitempty"`
	Status       string `json:"status,omitempty"`
	CoverArtUUID string `json:"coverArtUuid,omitempty"`
	TS           int64  `json:"ts"`
}
