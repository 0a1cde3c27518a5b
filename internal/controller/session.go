package controller

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// ConnectionState is the session lifecycle state.
type ConnectionState int

// Session lifecycle states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// ParseConnectionState maps a wire state string.
func ParseConnectionState(s string) (ConnectionState, bool) {
	switch s {
	case "disconnected":
		return StateDisconnected, true
	case "connecting":
		return StateConnecting, true
	case "connected":
		return StateConnected, true
	case "disconnecting":
		return StateDisconnecting, true
	}
	return StateDisconnected, false
}

const mailboxSize = 64

// ControllerSession is the per-device protocol state machine. All field
// mutation happens inside its own sequential event loop, except the
// activity flag which the arbiter flips under its own critical section.
type ControllerSession struct {
	device    DeviceID
	log       *zap.Logger
	engine    ProtocolEngine
	tree      *BrowseTree
	covers    *CoverArtIndex
	router    AudioRouter
	presenter Presenter

	events chan Event
	done   chan struct{}
	once   sync.Once

	onDisconnected func(dev DeviceID)

	mu           sync.RWMutex
	state        ConnectionState
	browsingUp   bool
	active       bool
	currentTrack *MediaItem
	playStatus   PlaybackStatus
	durationMS   int64
	positionMS   int64
	supported    PlayerSettings
	current      PlayerSettings

	// Browse context, touched only by the event loop.
	deviceRootID    string
	nowPlayingID    string
	browsedPlayer   int
	pendingPlayer   int
	currentFolder   string
	navDown         string
	target          string
	targetEpoch     uint32
	addressedPlayer int
}

func newControllerSession(dev DeviceID, log *zap.Logger, engine ProtocolEngine, tree *BrowseTree, covers *CoverArtIndex, router AudioRouter, presenter Presenter, onDisconnected func(DeviceID)) *ControllerSession {
	return &ControllerSession{
		device:          dev,
		log:             log.With(zap.String("device", dev.String())),
		engine:          engine,
		tree:            tree,
		covers:          covers,
		router:          router,
		presenter:       presenter,
		events:          make(chan Event, mailboxSize),
		done:            make(chan struct{}),
		onDisconnected:  onDisconnected,
		state:           StateConnecting,
		playStatus:      PlaybackStopped,
		browsedPlayer:   -1,
		pendingPlayer:   -1,
		addressedPlayer: -1,
	}
}

func (s *ControllerSession) start() {
	go s.run()
}

func (s *ControllerSession) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *ControllerSession) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// Deliver places an event in the session mailbox without blocking. A
// full mailbox drops the event; the protocol tolerates lost async
// noise and the epoch guard covers lost fetch pages.
func (s *ControllerSession) Deliver(ev Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		s.log.Warn("mailbox full, dropping event", zap.Any("event", ev))
	}
}

// Device returns the session's device identity.
func (s *ControllerSession) Device() DeviceID { return s.device }

// State returns the connection state.
func (s *ControllerSession) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BrowsingConnected reports whether the browsing channel is up.
func (s *ControllerSession) BrowsingConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browsingUp
}

// Active reports whether this session owns local media routing.
func (s *ControllerSession) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// CurrentTrack returns the current track, if known.
func (s *ControllerSession) CurrentTrack() (MediaItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentTrack == nil {
		return MediaItem{}, false
	}
	return *s.currentTrack, true
}

// Playback returns the play status and position.
func (s *ControllerSession) Playback() (PlaybackStatus, int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playStatus, s.positionMS, s.durationMS
}

// Settings returns the supported and current player settings.
func (s *ControllerSession) Settings() (PlayerSettings, PlayerSettings) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supported.Clone(), s.current.Clone()
}

// setActivity flips the routing-activity flag. Called by the arbiter
// inside its handoff critical section so two sessions never appear
// active at once. Losing activity pauses a playing accessory.
func (s *ControllerSession) setActivity(active bool) {
	s.mu.Lock()
	wasPlaying := s.playStatus == PlaybackPlaying
	s.active = active
	s.mu.Unlock()

	if !active && wasPlaying {
		s.sendKey(avrcp.KeyPause)
	}
}

// RequestContents queues population of a browse node owned by this
// session. Returns immediately; results merge in asynchronously.
func (s *ControllerSession) RequestContents(nodeID string) {
	s.Deliver(browseRequest{deviceEvent{s.device}, nodeID})
}

// PlayItem asks the accessory to play one element.
func (s *ControllerSession) PlayItem(node BrowseNode) {
	s.mu.RLock()
	connected := s.state == StateConnected
	browsing := s.browsingUp
	s.mu.RUnlock()
	if !connected || !browsing {
		s.log.Warn("playItem refused, browsing not connected", zap.String("node", node.ID))
		return
	}
	var uid uint64
	if node.Item != nil {
		uid = node.Item.UID
	}
	s.engine.PlayItem(s.device, node.Scope, uid, node.Epoch)
}

// SendPassThrough forwards a key press and release to the accessory.
func (s *ControllerSession) SendPassThrough(keyCode int) {
	if s.State() != StateConnected {
		s.log.Warn("passthrough refused, not connected", zap.Int("key", keyCode))
		return
	}
	s.sendKey(keyCode)
}

// SendGroupNavigation forwards a group-navigation key to the accessory.
func (s *ControllerSession) SendGroupNavigation(keyCode int) {
	if s.State() != StateConnected {
		return
	}
	s.engine.SendGroupNavigation(s.device, keyCode, avrcp.KeyStatePressed)
	s.engine.SendGroupNavigation(s.device, keyCode, avrcp.KeyStateReleased)
}

// SetPlayerSettings forwards a settings change to the accessory.
func (s *ControllerSession) SetPlayerSettings(settings PlayerSettings) {
	if s.State() != StateConnected {
		return
	}
	s.engine.SetPlayerSettings(s.device, settings)
}

func (s *ControllerSession) sendKey(keyCode int) {
	s.engine.SendPassThrough(s.device, keyCode, avrcp.KeyStatePressed)
	s.engine.SendPassThrough(s.device, keyCode, avrcp.KeyStateReleased)
}

// handle is the transition function. Every event kind is matched; the
// ones invalid for the current state are dropped with a log line and
// nothing else.
func (s *ControllerSession) handle(ev Event) {
	switch ev := ev.(type) {
	case ConnectionChanged:
		s.handleConnectionChanged(ev)
	case TrackChanged:
		if !s.requireConnected("trackChanged") {
			return
		}
		s.handleTrackChanged(ev)
	case PlayPositionChanged:
		if !s.requireConnected("playPositionChanged") {
			return
		}
		s.mu.Lock()
		s.durationMS, s.positionMS = ev.DurationMS, ev.PositionMS
		s.mu.Unlock()
		s.publishNowPlaying()
	case PlayStatusChanged:
		if !s.requireConnected("playStatusChanged") {
			return
		}
		s.mu.Lock()
		s.playStatus = ev.Status
		s.mu.Unlock()
		s.publishNowPlaying()
	case SupportedSettingsChanged:
		if !s.requireConnected("playerSettingsSupported") {
			return
		}
		s.mu.Lock()
		s.supported = ev.Settings.Clone()
		s.mu.Unlock()
	case CurrentSettingsChanged:
		if !s.requireConnected("playerSettingsChanged") {
			return
		}
		s.mu.Lock()
		s.current = ev.Settings.Clone()
		s.mu.Unlock()
	case AvailablePlayersChanged:
		if !s.requireBrowsing("availablePlayersChanged") {
			return
		}
		s.tree.Invalidate(s.deviceRootID)
		s.handleBrowseRequest(s.deviceRootID)
	case AddressedPlayerChanged:
		if !s.requireBrowsing("addressedPlayerChanged") {
			return
		}
		s.addressedPlayer = ev.PlayerID
		s.refetchNowPlaying()
	case NowPlayingContentChanged:
		if !s.requireBrowsing("nowPlayingContentChanged") {
			return
		}
		s.refetchNowPlaying()
	case FolderItemsResult:
		if !s.requireBrowsing("folderItems") {
			return
		}
		s.handleFolderItems(ev)
	case PlayerItemsResult:
		if !s.requireBrowsing("playerItems") {
			return
		}
		s.handlePlayerItems(ev)
	case ChangeFolderResult:
		if !s.requireBrowsing("changeFolder") {
			return
		}
		s.handleChangeFolder(ev)
	case SetBrowsedPlayerResult:
		if !s.requireBrowsing("setBrowsedPlayer") {
			return
		}
		s.handleSetBrowsedPlayer(ev)
	case SetAddressedPlayerResult:
		if !s.requireBrowsing("setAddressedPlayer") {
			return
		}
		s.refetchNowPlaying()
	case RegisterAbsVolRequest:
		if !s.requireConnected("registerAbsVolume") {
			return
		}
		s.engine.SendRegisterAbsVolResponse(s.device, s.router.Volume(), ev.Label)
	case SetAbsVolumeRequest:
		if !s.requireConnected("setAbsVolume") {
			return
		}
		s.router.SetAbsoluteVolume(ev.Volume)
		s.engine.SendAbsVolumeResponse(s.device, ev.Volume, ev.Label)
	case CoverArtPSMReceived:
		if !s.requireConnected("coverArtPSM") {
			return
		}
		s.handleCoverArtPSM()
	case CoverArtDownloaded:
		s.handleCoverArtDownloaded(ev)
	case AudioFocusChanged:
		if !s.requireConnected("audioFocusChanged") {
			return
		}
		s.handleAudioFocus(ev)
	case browseRequest:
		if !s.requireBrowsing("browseRequest") {
			return
		}
		s.handleBrowseRequest(ev.NodeID)
	default:
		s.log.Warn("unhandled event kind", zap.Any("event", ev))
	}
}

func (s *ControllerSession) requireConnected(kind string) bool {
	if s.State() != StateConnected {
		s.log.Debug("event dropped, not connected", zap.String("event", kind))
		return false
	}
	return true
}

func (s *ControllerSession) requireBrowsing(kind string) bool {
	s.mu.RLock()
	ok := s.state == StateConnected && s.browsingUp
	s.mu.RUnlock()
	if !ok {
		s.log.Debug("event dropped, browsing not connected", zap.String("event", kind))
	}
	return ok
}

func (s *ControllerSession) handleConnectionChanged(ev ConnectionChanged) {
	if !ev.RemoteControl && !ev.Browsing {
		s.disconnect()
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateConnecting:
		s.state = StateConnected
	case StateConnected:
	default:
		s.mu.Unlock()
		s.log.Debug("connect event dropped while disconnecting")
		return
	}
	browsingCameUp := ev.Browsing && !s.browsingUp
	s.browsingUp = ev.Browsing
	s.mu.Unlock()

	s.log.Info("device connected",
		zap.Bool("remoteControl", ev.RemoteControl),
		zap.Bool("browsing", ev.Browsing))

	if browsingCameUp {
		s.deviceRootID, s.nowPlayingID = s.tree.AttachDevice(s.device)
	}
	s.engine.GetCurrentMetadata(s.device)
	s.engine.GetPlaybackState(s.device)
}

func (s *ControllerSession) disconnect() {
	s.mu.Lock()
	s.state = StateDisconnecting
	s.mu.Unlock()

	if s.target != "" {
		s.tree.AbandonFetch(s.target)
		s.target = ""
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.browsingUp = false
	s.mu.Unlock()

	s.log.Info("device disconnected")
	if s.onDisconnected != nil {
		s.onDisconnected(s.device)
	}
}

func (s *ControllerSession) handleTrackChanged(ev TrackChanged) {
	item := ev.Item
	if item.CoverArtHandle != "" && item.CoverArtUUID == "" {
		if ref, ok := s.covers.Resolve(s.device, item.CoverArtHandle); ok {
			item.CoverArtUUID = ref
		}
	}
	s.mu.Lock()
	s.currentTrack = &item
	s.mu.Unlock()
	s.publishNowPlaying()
}

func (s *ControllerSession) handleCoverArtDownloaded(ev CoverArtDownloaded) {
	if !ev.Success {
		s.covers.OnDownloadFailed(s.device, ev.Handle)
		return
	}
	s.covers.OnDownloadComplete(s.device, ev.Handle, ev.Ref)

	s.mu.Lock()
	refresh := false
	refetch := false
	if s.currentTrack != nil && s.currentTrack.CoverArtHandle == ev.Handle {
		track := *s.currentTrack
		track.CoverArtUUID = ev.Ref
		s.currentTrack = &track
		refresh = true
	} else if s.currentTrack != nil && s.currentTrack.CoverArtHandle == "" {
		// Metadata may predate the art channel; ask for it again.
		refetch = true
	}
	s.mu.Unlock()
	if refetch {
		s.engine.GetCurrentMetadata(s.device)
	}
	if refresh {
		s.publishNowPlaying()
	}
}

// handleCoverArtPSM marks the art channel usable. A track reported
// before the channel came up carries no image handle, so ask again.
func (s *ControllerSession) handleCoverArtPSM() {
	s.mu.RLock()
	refetch := s.currentTrack != nil && s.currentTrack.CoverArtHandle == ""
	s.mu.RUnlock()
	if refetch {
		s.engine.GetCurrentMetadata(s.device)
	}
}

func (s *ControllerSession) handleAudioFocus(ev AudioFocusChanged) {
	if ev.Gained {
		return
	}
	s.mu.RLock()
	playing := s.playStatus == PlaybackPlaying
	s.mu.RUnlock()
	if playing {
		s.sendKey(avrcp.KeyPause)
	}
}

func (s *ControllerSession) refetchNowPlaying() {
	if s.nowPlayingID == "" {
		return
	}
	s.tree.Invalidate(s.nowPlayingID)
	if s.Active() {
		s.handleBrowseRequest(s.nowPlayingID)
	}
}

// handleBrowseRequest starts, or continues toward, population of one
// node. A newer request supersedes an older in-flight one; the stale
// epoch makes the superseded reply harmless.
func (s *ControllerSession) handleBrowseRequest(nodeID string) {
	spec, state := s.tree.BeginFetch(nodeID)
	switch state {
	case FetchUnknownNode:
		s.log.Debug("browse request for unknown node", zap.String("node", nodeID))
		return
	case FetchCached, FetchPending:
		return
	}

	if s.target != "" && s.target != nodeID {
		s.tree.AbandonFetch(s.target)
	}
	s.target = nodeID
	s.targetEpoch = spec.Epoch
	s.advanceBrowse()
}

// advanceBrowse issues the next engine command needed to reach and list
// the target node: player selection, folder navigation steps, then the
// listing fetch itself.
func (s *ControllerSession) advanceBrowse() {
	if s.target == "" {
		return
	}
	spec, ok := s.tree.NextWindow(s.target, s.targetEpoch)
	if !ok {
		s.target = ""
		return
	}

	node, ok := s.tree.Node(s.target)
	if !ok {
		s.target = ""
		return
	}

	switch node.Scope {
	case ScopePlayerList:
		s.engine.GetPlayerList(s.device, spec.Epoch, spec.Start, spec.End)
	case ScopeNowPlaying:
		s.engine.GetNowPlayingList(s.device, spec.Epoch, spec.Start, spec.End)
	case ScopeSearch:
		s.engine.GetFolderList(s.device, spec.Epoch, spec.Start, spec.End)
	case ScopeFileSystem:
		if node.PlayerID >= 0 && node.PlayerID != s.browsedPlayer {
			s.pendingPlayer = node.PlayerID
			s.engine.SetBrowsedPlayer(s.device, node.PlayerID)
			return
		}
		if s.currentFolder == node.ID {
			s.engine.GetFolderList(s.device, spec.Epoch, spec.Start, spec.End)
			return
		}
		s.navigateToward(node)
	}
}

// navigateToward issues one folder navigation step toward the target.
// Down when the current folder is an ancestor of the target, otherwise
// up, one level per change-folder round trip. When the position sits in
// another player's subtree, or is unknown, the target's player is
// reselected, which resets the position to that player's root.
func (s *ControllerSession) navigateToward(node BrowseNode) {
	if step, ok := s.descendStep(node.ID); ok {
		var uid uint64
		if step.Item != nil {
			uid = step.Item.UID
		}
		s.navDown = step.ID
		s.engine.ChangeFolderPath(s.device, avrcp.FolderDown, uid)
		return
	}
	if current, ok := s.tree.Node(s.currentFolder); ok && current.PlayerID < 0 {
		s.navDown = ""
		s.engine.ChangeFolderPath(s.device, avrcp.FolderUp, 0)
		return
	}
	root, ok := s.playerRootOf(node.ID)
	if !ok {
		s.tree.AbandonFetch(s.target)
		s.target = ""
		return
	}
	s.pendingPlayer = root.PlayerID
	s.engine.SetBrowsedPlayer(s.device, root.PlayerID)
}

// descendStep returns the child of the current folder on the target's
// ancestor path, when the current folder is an ancestor of the target.
// Player roots are never a down step; entering one takes a browsed
// player selection, not a change-folder.
func (s *ControllerSession) descendStep(targetID string) (BrowseNode, bool) {
	id := targetID
	for {
		node, ok := s.tree.Node(id)
		if !ok || node.PlayerID >= 0 {
			return BrowseNode{}, false
		}
		if node.Parent == s.currentFolder {
			return node, true
		}
		if node.Parent == "" {
			return BrowseNode{}, false
		}
		id = node.Parent
	}
}

func (s *ControllerSession) handleSetBrowsedPlayer(ev SetBrowsedPlayerResult) {
	if s.pendingPlayer < 0 {
		s.log.Debug("unsolicited setBrowsedPlayer result")
		return
	}
	s.browsedPlayer = s.pendingPlayer
	s.pendingPlayer = -1
	if s.target == "" {
		return
	}
	if root, ok := s.playerRootOf(s.target); ok {
		s.currentFolder = root.ID
		if root.ID == s.target {
			s.tree.SetExpected(s.target, ev.Items)
		}
	}
	s.advanceBrowse()
}

// playerRootOf walks up to the player node owning a filesystem node.
func (s *ControllerSession) playerRootOf(nodeID string) (BrowseNode, bool) {
	id := nodeID
	for {
		node, ok := s.tree.Node(id)
		if !ok {
			return BrowseNode{}, false
		}
		if node.PlayerID >= 0 {
			return node, true
		}
		if node.Parent == "" {
			return BrowseNode{}, false
		}
		id = node.Parent
	}
}

func (s *ControllerSession) handleChangeFolder(ev ChangeFolderResult) {
	if s.navDown != "" {
		s.currentFolder = s.navDown
		s.navDown = ""
	} else if current, ok := s.tree.Node(s.currentFolder); ok {
		s.currentFolder = current.Parent
	}
	if s.currentFolder == s.target {
		s.tree.SetExpected(s.target, ev.Count)
	}
	s.advanceBrowse()
}

func (s *ControllerSession) handleFolderItems(ev FolderItemsResult) {
	if s.target == "" {
		s.log.Debug("folder items with no fetch in flight")
		return
	}
	res := s.tree.MergeItems(s.target, ev.Epoch, ev.Items, ev.Final)
	if res.Stale {
		s.log.Debug("stale folder items dropped", zap.Uint32("epoch", ev.Epoch))
		return
	}
	if res.Final {
		s.log.Debug("node cached", zap.String("node", s.target), zap.Int("children", res.Children))
		s.target = ""
		return
	}
	s.advanceBrowse()
}

func (s *ControllerSession) handlePlayerItems(ev PlayerItemsResult) {
	if s.target == "" {
		s.log.Debug("player items with no fetch in flight")
		return
	}
	res := s.tree.MergePlayers(s.target, ev.Epoch, ev.Players, ev.Final)
	if res.Stale {
		s.log.Debug("stale player items dropped", zap.Uint32("epoch", ev.Epoch))
		return
	}
	if res.Final {
		s.target = ""
		return
	}
	s.advanceBrowse()
}

func (s *ControllerSession) publishNowPlaying() {
	if s.presenter == nil || !s.Active() {
		return
	}
	s.mu.RLock()
	state := avrcp.NowPlayingState{
		Address:    s.device.String(),
		Status:     string(s.playStatus),
		PositionMS: s.positionMS,
		DurationMS: s.durationMS,
		TS:         time.Now().Unix(),
	}
	if s.currentTrack != nil {
		state.Title = s.currentTrack.Title
		state.Artist = s.currentTrack.Artist
		state.Album = s.currentTrack.Album
		state.DurationMS = s.currentTrack.DurationMS
		state.CoverArtUUID = s.currentTrack.CoverArtUUID
	}
	s.mu.RUnlock()
	s.presenter.NowPlayingChanged(state)
}
