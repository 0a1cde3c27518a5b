package controller

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrTooManyDevices is returned when a connection attempt would exceed
// the configured concurrent-device limit.
var ErrTooManyDevices = errors.New("maximum connected devices reached")

// DefaultMaxDevices bounds concurrently connected accessories.
const DefaultMaxDevices = 5

// SessionRegistry owns the device-to-session mapping. Lookups and
// creation are safe from the concurrent event sources feeding it, one
// per physical accessory.
type SessionRegistry struct {
	log        *zap.Logger
	maxDevices int

	engine    ProtocolEngine
	tree      *BrowseTree
	covers    *CoverArtIndex
	router    AudioRouter
	presenter Presenter

	onRemoved func(dev DeviceID)

	mu       sync.RWMutex
	sessions map[DeviceID]*ControllerSession
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(log *zap.Logger, maxDevices int, engine ProtocolEngine, tree *BrowseTree, covers *CoverArtIndex, router AudioRouter, presenter Presenter) *SessionRegistry {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	return &SessionRegistry{
		log:        log,
		maxDevices: maxDevices,
		engine:     engine,
		tree:       tree,
		covers:     covers,
		router:     router,
		presenter:  presenter,
		sessions:   make(map[DeviceID]*ControllerSession),
	}
}

// SetRemovalHook registers the callback fired after a session has been
// torn down. Wired once at startup, before any events flow.
func (r *SessionRegistry) SetRemovalHook(hook func(dev DeviceID)) {
	r.onRemoved = hook
}

// GetSession returns the session for a device, if one exists.
func (r *SessionRegistry) GetSession(dev DeviceID) (*ControllerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[dev]
	return session, ok
}

// GetOrCreateSession returns the session for a device, creating and
// starting one when none exists. Refused at the registry boundary when
// the device limit is reached.
func (r *SessionRegistry) GetOrCreateSession(dev DeviceID) (*ControllerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[dev]; ok {
		return session, nil
	}
	if len(r.sessions) >= r.maxDevices {
		r.log.Warn("connection refused, device limit reached",
			zap.String("device", dev.String()),
			zap.Int("max", r.maxDevices))
		return nil, ErrTooManyDevices
	}

	session := newControllerSession(dev, r.log, r.engine, r.tree, r.covers, r.router, r.presenter, r.handleDisconnected)
	r.sessions[dev] = session
	session.start()
	r.log.Info("session created", zap.String("device", dev.String()))
	return session, nil
}

// RemoveSession tears down a device's session: its event loop stops,
// its subtree detaches from the browse tree, and its cover-art entries
// are purged. In-flight fetches are abandoned; their late replies find
// no session and fall on the floor.
func (r *SessionRegistry) RemoveSession(dev DeviceID) {
	r.mu.Lock()
	session, ok := r.sessions[dev]
	if ok {
		delete(r.sessions, dev)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	session.stop()
	r.tree.DetachDevice(dev)
	r.covers.OnSessionRemoved(dev)
	r.log.Info("session removed", zap.String("device", dev.String()))
	if r.onRemoved != nil {
		r.onRemoved(dev)
	}
}

func (r *SessionRegistry) handleDisconnected(dev DeviceID) {
	r.RemoveSession(dev)
}

// ConnectedDevices lists devices with a connected session.
func (r *SessionRegistry) ConnectedDevices() []DeviceID {
	return r.DevicesMatchingStates([]ConnectionState{StateConnected})
}

// DevicesMatchingStates lists devices whose session state is in the
// given set.
func (r *SessionRegistry) DevicesMatchingStates(states []ConnectionState) []DeviceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceID, 0, len(r.sessions))
	for dev, session := range r.sessions {
		state := session.State()
		for _, want := range states {
			if state == want {
				out = append(out, dev)
				break
			}
		}
	}
	return out
}

// ConnectionState reports a device's session state; devices with no
// session are disconnected.
func (r *SessionRegistry) ConnectionState(dev DeviceID) ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if session, ok := r.sessions[dev]; ok {
		return session.State()
	}
	return StateDisconnected
}

// Sessions snapshots all live sessions.
func (r *SessionRegistry) Sessions() []*ControllerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ControllerSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	return out
}
