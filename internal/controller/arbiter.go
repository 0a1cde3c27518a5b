package controller

import (
	"sync"

	"go.uber.org/zap"
)

// ActiveDeviceArbiter enforces that at most one connected session owns
// local audio/media routing. The pointer read, the routing claim, and
// both activity flips happen inside one critical section so two
// sessions never transiently appear active together.
type ActiveDeviceArbiter struct {
	log       *zap.Logger
	router    AudioRouter
	registry  *SessionRegistry
	presenter Presenter

	mu     sync.Mutex
	active *DeviceID
}

// NewActiveDeviceArbiter creates an arbiter with no active device.
func NewActiveDeviceArbiter(log *zap.Logger, router AudioRouter, registry *SessionRegistry, presenter Presenter) *ActiveDeviceArbiter {
	return &ActiveDeviceArbiter{
		log:       log,
		router:    router,
		registry:  registry,
		presenter: presenter,
	}
}

// Active returns the active device, if any.
func (a *ActiveDeviceArbiter) Active() (DeviceID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", false
	}
	return *a.active, true
}

// SetActive makes a device the routing target, or clears it when nil.
// A no-op when the request matches the current state. The handoff is
// committed only if the routing collaborator accepts the claim; on
// refusal nothing changes and false is returned.
func (a *ActiveDeviceArbiter) SetActive(dev *DeviceID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dev == nil && a.active == nil {
		return true
	}
	if dev != nil && a.active != nil && *dev == *a.active {
		return true
	}

	if !a.router.ClaimRoute(dev) {
		if dev != nil {
			a.log.Warn("routing claim refused", zap.String("device", dev.String()))
		}
		return false
	}

	previous := a.active
	a.active = dev

	if previous != nil {
		if session, ok := a.registry.GetSession(*previous); ok {
			session.setActivity(false)
		}
	}
	if dev == nil {
		a.log.Info("active device cleared")
		return true
	}

	if session, ok := a.registry.GetSession(*dev); ok {
		session.setActivity(true)
	} else if a.presenter != nil {
		// Active before its session exists; nothing to show yet.
		a.presenter.Reset()
	}
	a.log.Info("active device changed", zap.String("device", dev.String()))
	return true
}

// HandleRemoval clears the active pointer when the removed device held
// it, releasing the route.
func (a *ActiveDeviceArbiter) HandleRemoval(dev DeviceID) {
	if active, ok := a.Active(); ok && active == dev {
		a.SetActive(nil)
	}
}
