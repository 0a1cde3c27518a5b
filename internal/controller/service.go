package controller

import (
	"go.uber.org/zap"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// BrowseStatus is the typed result of a contents request.
type BrowseStatus string

// Browse statuses surfaced to the presentation collaborator.
const (
	BrowseSuccess           BrowseStatus = "success"
	BrowseDownloadPending   BrowseStatus = "downloadPending"
	BrowseNoDeviceConnected BrowseStatus = "noDeviceConnected"
	BrowseInvalidID         BrowseStatus = "invalidId"
)

// BrowseResult carries the children of a node plus a status.
type BrowseResult struct {
	Status BrowseStatus
	Items  []avrcp.ContentEntry
}

// Config bounds the controller service.
type Config struct {
	MaxDevices int
}

// Service is the process-scoped controller context: it owns the browse
// tree, the cover-art index, the session registry and the active-device
// arbiter, and fans protocol events out to per-device sessions.
type Service struct {
	log       *zap.Logger
	cfg       Config
	engine    ProtocolEngine
	router    AudioRouter
	presenter Presenter

	Tree     *BrowseTree
	Covers   *CoverArtIndex
	Registry *SessionRegistry
	Arbiter  *ActiveDeviceArbiter
}

// NewService wires a controller service. Constructed once at startup
// and shared by reference; there are no ambient singletons.
func NewService(log *zap.Logger, cfg Config, engine ProtocolEngine, router AudioRouter, presenter Presenter) *Service {
	tree := NewBrowseTree()
	covers := NewCoverArtIndex()
	registry := NewSessionRegistry(log, cfg.MaxDevices, engine, tree, covers, router, presenter)
	arbiter := NewActiveDeviceArbiter(log, router, registry, presenter)
	registry.SetRemovalHook(arbiter.HandleRemoval)

	return &Service{
		log:       log,
		cfg:       cfg,
		engine:    engine,
		router:    router,
		presenter: presenter,
		Tree:      tree,
		Covers:    covers,
		Registry:  registry,
		Arbiter:   arbiter,
	}
}

// OnEvent routes one protocol event to its device's session, creating
// the session for connection events. Events for unknown devices with no
// creation path are dropped; asynchronous protocol noise is expected
// and never fatal.
func (s *Service) OnEvent(ev Event) {
	dev := ev.Device()

	if conn, ok := ev.(ConnectionChanged); ok {
		if !conn.RemoteControl && !conn.Browsing {
			if session, ok := s.Registry.GetSession(dev); ok {
				session.Deliver(ev)
			} else {
				s.log.Debug("disconnect for unknown device", zap.String("device", dev.String()))
			}
			return
		}
		session, err := s.Registry.GetOrCreateSession(dev)
		if err != nil {
			s.log.Warn("connect refused", zap.String("device", dev.String()), zap.Error(err))
			return
		}
		session.Deliver(ev)
		// The first device to connect becomes the active device.
		if _, ok := s.Arbiter.Active(); !ok {
			s.Arbiter.SetActive(&dev)
		}
		return
	}

	session, ok := s.Registry.GetSession(dev)
	if !ok {
		s.log.Debug("event for unknown device dropped",
			zap.String("device", dev.String()),
			zap.Any("event", ev))
		return
	}
	session.Deliver(ev)
}

// GetContents returns the children of a browse node. Requesting a
// node owned by a device makes that device active. Uncached nodes kick
// off a fetch and report pending alongside any partial contents.
func (s *Service) GetContents(nodeID string) BrowseResult {
	node, ok := s.Tree.Node(nodeID)
	if !ok {
		return BrowseResult{Status: BrowseInvalidID}
	}
	if nodeID == RootID && len(node.Children) == 0 {
		return BrowseResult{Status: BrowseNoDeviceConnected}
	}

	if node.Device != "" {
		dev := node.Device
		s.Arbiter.SetActive(&dev)
	}

	items := s.contentEntries(node)
	if !node.Cached {
		if session, ok := s.Registry.GetSession(node.Device); ok {
			session.RequestContents(nodeID)
		}
		return BrowseResult{Status: BrowseDownloadPending, Items: items}
	}
	return BrowseResult{Status: BrowseSuccess, Items: items}
}

// PlayItem starts playback of a browse node on its owning device,
// making that device active first.
func (s *Service) PlayItem(nodeID string) BrowseStatus {
	node, ok := s.Tree.Node(nodeID)
	if !ok {
		return BrowseInvalidID
	}
	if node.Device == "" {
		return BrowseInvalidID
	}
	session, ok := s.Registry.GetSession(node.Device)
	if !ok {
		return BrowseNoDeviceConnected
	}

	dev := node.Device
	s.Arbiter.SetActive(&dev)

	// Replies are matched against the listing epoch of the parent.
	if parent, ok := s.Tree.Node(node.Parent); ok {
		node.Epoch = parent.Epoch
	}
	session.PlayItem(node)
	return BrowseSuccess
}

// SendPassThrough forwards a key press to a device.
func (s *Service) SendPassThrough(dev DeviceID, keyCode int) bool {
	session, ok := s.Registry.GetSession(dev)
	if !ok {
		return false
	}
	session.SendPassThrough(keyCode)
	return true
}

// SendGroupNavigation forwards a group-navigation key to a device.
func (s *Service) SendGroupNavigation(dev DeviceID, keyCode int) bool {
	session, ok := s.Registry.GetSession(dev)
	if !ok {
		return false
	}
	session.SendGroupNavigation(keyCode)
	return true
}

// SetPlayerSettings forwards a player settings change to a device.
func (s *Service) SetPlayerSettings(dev DeviceID, settings PlayerSettings) bool {
	session, ok := s.Registry.GetSession(dev)
	if !ok {
		return false
	}
	session.SetPlayerSettings(settings)
	return true
}

// GetActiveDevice returns the active device, if any.
func (s *Service) GetActiveDevice() (DeviceID, bool) {
	return s.Arbiter.Active()
}

// SetActiveDevice changes the routing target; nil clears it.
func (s *Service) SetActiveDevice(dev *DeviceID) bool {
	return s.Arbiter.SetActive(dev)
}

// OnAudioFocusChanged reacts to a local audio-focus transition: the
// presenter follows focus and the active session adjusts playback.
func (s *Service) OnAudioFocusChanged(gained bool) {
	if s.presenter != nil {
		s.presenter.SetActive(gained)
	}
	dev, ok := s.Arbiter.Active()
	if !ok {
		s.log.Warn("no active device set, ignoring focus change")
		return
	}
	session, ok := s.Registry.GetSession(dev)
	if !ok {
		s.log.Warn("no session for active device", zap.String("device", dev.String()))
		return
	}
	session.Deliver(AudioFocusChanged{deviceEvent{dev}, gained})
}

func (s *Service) contentEntries(node BrowseNode) []avrcp.ContentEntry {
	children := s.Tree.ChildrenOf(node.ID)
	out := make([]avrcp.ContentEntry, 0, len(children))
	for _, child := range children {
		entry := avrcp.ContentEntry{
			NodeID:    child.ID,
			Name:      child.Name,
			Browsable: !child.Cached || len(child.Children) > 0 || child.Scope == ScopeNowPlaying,
		}
		if child.Item != nil {
			entry.Playable = child.Item.Playable
			entry.Browsable = child.Item.Browsable
			entry.Artist = child.Item.Artist
			entry.Album = child.Item.Album
			entry.DurationMS = child.Item.DurationMS
			entry.CoverArtUUID = child.Item.CoverArtUUID
		}
		if child.Player != nil {
			entry.Browsable = child.Player.Browsable
		}
		out = append(out, entry)
	}
	return out
}
