package controller

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) count(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, call := range e.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) GetPlayerList(dev DeviceID, epoch uint32, start, end int) {
	e.record(fmt.Sprintf("getPlayerList %s %d-%d", dev, start, end))
}

func (e *fakeEngine) GetFolderList(dev DeviceID, epoch uint32, start, end int) {
	e.record(fmt.Sprintf("getFolderList %s %d-%d", dev, start, end))
}

func (e *fakeEngine) GetNowPlayingList(dev DeviceID, epoch uint32, start, end int) {
	e.record(fmt.Sprintf("getNowPlayingList %s %d-%d", dev, start, end))
}

func (e *fakeEngine) ChangeFolderPath(dev DeviceID, direction int, uid uint64) {
	e.record(fmt.Sprintf("changeFolder %d %d", direction, uid))
}

func (e *fakeEngine) SetBrowsedPlayer(dev DeviceID, playerID int) {
	e.record(fmt.Sprintf("setBrowsedPlayer %d", playerID))
}

func (e *fakeEngine) SetAddressedPlayer(dev DeviceID, playerID int) {
	e.record(fmt.Sprintf("setAddressedPlayer %d", playerID))
}

func (e *fakeEngine) PlayItem(dev DeviceID, scope Scope, uid uint64, epoch uint32) {
	e.record(fmt.Sprintf("playItem %d %d %d", scope, uid, epoch))
}

func (e *fakeEngine) SendPassThrough(dev DeviceID, keyCode, keyState int) {
	e.record(fmt.Sprintf("passThrough %#x %d", keyCode, keyState))
}

func (e *fakeEngine) SendGroupNavigation(dev DeviceID, keyCode, keyState int) {
	e.record(fmt.Sprintf("groupNav %#x %d", keyCode, keyState))
}

func (e *fakeEngine) SetPlayerSettings(dev DeviceID, settings PlayerSettings) {
	e.record(fmt.Sprintf("setPlayerSettings %d", len(settings)))
}

func (e *fakeEngine) SendAbsVolumeResponse(dev DeviceID, volume, label int) {
	e.record(fmt.Sprintf("absVolumeResponse %d %d", volume, label))
}

func (e *fakeEngine) SendRegisterAbsVolResponse(dev DeviceID, volume, label int) {
	e.record(fmt.Sprintf("registerAbsVolResponse %d %d", volume, label))
}

func (e *fakeEngine) GetCurrentMetadata(dev DeviceID) {
	e.record(fmt.Sprintf("getCurrentMetadata %s", dev))
}

func (e *fakeEngine) GetPlaybackState(dev DeviceID) {
	e.record(fmt.Sprintf("getPlaybackState %s", dev))
}

type fakeRouter struct {
	mu     sync.Mutex
	accept bool
	claims []string
	volume int
}

func (r *fakeRouter) ClaimRoute(dev *DeviceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim := "none"
	if dev != nil {
		claim = dev.String()
	}
	r.claims = append(r.claims, claim)
	return r.accept
}

func (r *fakeRouter) SetAbsoluteVolume(volume int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = volume
}

func (r *fakeRouter) Volume() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

func (r *fakeRouter) setAccept(accept bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accept = accept
}

type fakePresenter struct {
	mu     sync.Mutex
	resets int
	active []bool
	states []avrcp.NowPlayingState
}

func (p *fakePresenter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePresenter) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = append(p.active, active)
}

func (p *fakePresenter) NowPlayingChanged(state avrcp.NowPlayingState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *fakePresenter) lastState() (avrcp.NowPlayingState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return avrcp.NowPlayingState{}, false
	}
	return p.states[len(p.states)-1], true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(maxDevices int) (*Service, *fakeEngine, *fakeRouter, *fakePresenter) {
	engine := &fakeEngine{}
	router := &fakeRouter{accept: true, volume: 50}
	presenter := &fakePresenter{}
	svc := NewService(zap.NewNop(), Config{MaxDevices: maxDevices}, engine, router, presenter)
	return svc, engine, router, presenter
}

func connectDevice(t *testing.T, svc *Service, dev DeviceID) {
	t.Helper()
	svc.OnEvent(ConnectionChanged{deviceEvent{dev}, true, true})
	waitFor(t, "device connected", func() bool {
		session, ok := svc.Registry.GetSession(dev)
		return ok && session.State() == StateConnected && session.BrowsingConnected()
	})
	waitFor(t, "device subtree attached", func() bool {
		_, ok := svc.Tree.DeviceRoot(dev)
		return ok
	})
}

// populateDeviceRoot drives a player-list fetch to completion and
// returns the device-root node ID.
func populateDeviceRoot(t *testing.T, svc *Service, engine *fakeEngine, dev DeviceID, players []PlayerItem) string {
	t.Helper()
	root, _ := svc.Tree.DeviceRoot(dev)

	before := engine.count("getPlayerList")
	res := svc.GetContents(root.ID)
	if res.Status != BrowseDownloadPending {
		t.Fatalf("expected downloadPending, got %s", res.Status)
	}
	waitFor(t, "player list command", func() bool {
		return engine.count("getPlayerList") == before+1
	})

	node, _ := svc.Tree.Node(root.ID)
	if session, ok := svc.Registry.GetSession(dev); ok {
		session.Deliver(PlayerItemsResult{deviceEvent{dev}, node.Epoch, players, true})
	}
	waitFor(t, "player list cached", func() bool {
		node, ok := svc.Tree.Node(root.ID)
		return ok && node.Cached
	})
	return root.ID
}

func TestFirstConnectedDeviceBecomesActive(t *testing.T) {
	svc, _, _, _ := newTestService(0)
	devA := DeviceID("aa:aa:aa:aa:aa:aa")
	devB := DeviceID("bb:bb:bb:bb:bb:bb")

	connectDevice(t, svc, devA)
	connectDevice(t, svc, devB)

	active, ok := svc.GetActiveDevice()
	if !ok || active != devA {
		t.Fatalf("expected %s active, got %q ok=%v", devA, active, ok)
	}
	sessionA, _ := svc.Registry.GetSession(devA)
	sessionB, _ := svc.Registry.GetSession(devB)
	if !sessionA.Active() || sessionB.Active() {
		t.Fatalf("expected only first session active")
	}
}

func TestGetContentsEmptyRoot(t *testing.T) {
	svc, _, _, _ := newTestService(0)

	res := svc.GetContents(RootID)
	if res.Status != BrowseNoDeviceConnected {
		t.Fatalf("expected noDeviceConnected, got %s", res.Status)
	}
}

func TestGetContentsUnknownNode(t *testing.T) {
	svc, _, _, _ := newTestService(0)

	res := svc.GetContents("item:no-such-node")
	if res.Status != BrowseInvalidID {
		t.Fatalf("expected invalidId, got %s", res.Status)
	}
}

func TestGetContentsPlayerList(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")
	connectDevice(t, svc, dev)

	root, _ := svc.Tree.DeviceRoot(dev)

	// First request kicks off a fetch; a duplicate while pending does
	// not issue a second command.
	if res := svc.GetContents(root.ID); res.Status != BrowseDownloadPending {
		t.Fatalf("expected downloadPending, got %s", res.Status)
	}
	waitFor(t, "player list command", func() bool {
		return engine.count("getPlayerList") == 1
	})
	if res := svc.GetContents(root.ID); res.Status != BrowseDownloadPending {
		t.Fatalf("expected downloadPending on repeat, got %s", res.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if n := engine.count("getPlayerList"); n != 1 {
		t.Fatalf("expected one fetch command, got %d", n)
	}

	node, _ := svc.Tree.Node(root.ID)
	players := []PlayerItem{
		{Device: dev, PlayerID: 1, Name: "Music", Browsable: true},
		{Device: dev, PlayerID: 2, Name: "Radio"},
		{Device: dev, PlayerID: 3, Name: "Podcasts", Browsable: true},
	}
	session, _ := svc.Registry.GetSession(dev)
	session.Deliver(PlayerItemsResult{deviceEvent{dev}, node.Epoch, players, true})
	waitFor(t, "player list cached", func() bool {
		node, ok := svc.Tree.Node(root.ID)
		return ok && node.Cached
	})

	res := svc.GetContents(root.ID)
	if res.Status != BrowseSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	// Now-playing entry plus the three players, in reported order.
	want := []string{"Now Playing", "Music", "Radio", "Podcasts"}
	if len(res.Items) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(res.Items))
	}
	for i, entry := range res.Items {
		if entry.Name != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, entry.Name, want[i])
		}
	}
}

func TestGetContentsMakesOwnerActive(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	devA := DeviceID("aa:aa:aa:aa:aa:aa")
	devB := DeviceID("bb:bb:bb:bb:bb:bb")
	connectDevice(t, svc, devA)
	connectDevice(t, svc, devB)

	populateDeviceRoot(t, svc, engine, devB, []PlayerItem{
		{Device: devB, PlayerID: 1, Name: "Music", Browsable: true},
	})

	active, _ := svc.GetActiveDevice()
	if active != devB {
		t.Fatalf("expected browse to hand activity to %s, got %s", devB, active)
	}
}

func TestSetActiveDeviceHandoff(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	devA := DeviceID("aa:aa:aa:aa:aa:aa")
	devB := DeviceID("bb:bb:bb:bb:bb:bb")
	connectDevice(t, svc, devA)
	connectDevice(t, svc, devB)

	sessionA, _ := svc.Registry.GetSession(devA)
	sessionA.Deliver(PlayStatusChanged{deviceEvent{devA}, PlaybackPlaying})
	waitFor(t, "play status", func() bool {
		status, _, _ := sessionA.Playback()
		return status == PlaybackPlaying
	})

	if !svc.SetActiveDevice(&devB) {
		t.Fatalf("expected handoff to succeed")
	}

	sessionB, _ := svc.Registry.GetSession(devB)
	if sessionA.Active() || !sessionB.Active() {
		t.Fatalf("expected activity to move to %s", devB)
	}
	// The playing loser is paused.
	waitFor(t, "pause on handoff", func() bool {
		return engine.count(fmt.Sprintf("passThrough %#x", avrcp.KeyPause)) == 2
	})
}

func TestRoutingClaimRefusalLeavesStateUnchanged(t *testing.T) {
	svc, _, router, _ := newTestService(0)
	devA := DeviceID("aa:aa:aa:aa:aa:aa")
	devB := DeviceID("bb:bb:bb:bb:bb:bb")
	connectDevice(t, svc, devA)
	connectDevice(t, svc, devB)

	router.setAccept(false)
	if svc.SetActiveDevice(&devB) {
		t.Fatalf("expected handoff refusal")
	}

	active, ok := svc.GetActiveDevice()
	if !ok || active != devA {
		t.Fatalf("expected %s to stay active, got %q", devA, active)
	}
	sessionA, _ := svc.Registry.GetSession(devA)
	sessionB, _ := svc.Registry.GetSession(devB)
	if !sessionA.Active() || sessionB.Active() {
		t.Fatalf("expected activity unchanged after refusal")
	}
}

func TestDeviceLimitRefusesConnections(t *testing.T) {
	svc, _, _, _ := newTestService(1)
	devA := DeviceID("aa:aa:aa:aa:aa:aa")
	devB := DeviceID("bb:bb:bb:bb:bb:bb")

	connectDevice(t, svc, devA)
	svc.OnEvent(ConnectionChanged{deviceEvent{devB}, true, true})

	time.Sleep(20 * time.Millisecond)
	if _, ok := svc.Registry.GetSession(devB); ok {
		t.Fatalf("expected second connection refused")
	}
	if state := svc.Registry.ConnectionState(devB); state != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", state)
	}
}

func TestDisconnectTearsDownDevice(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")
	connectDevice(t, svc, dev)
	rootID := populateDeviceRoot(t, svc, engine, dev, []PlayerItem{
		{Device: dev, PlayerID: 1, Name: "Music", Browsable: true},
	})

	svc.Covers.OnDownloadComplete(dev, "1000001", "ref-1")
	svc.OnEvent(ConnectionChanged{deviceEvent{dev}, false, false})

	waitFor(t, "session removed", func() bool {
		_, ok := svc.Registry.GetSession(dev)
		return !ok
	})
	if _, ok := svc.Tree.Node(rootID); ok {
		t.Fatalf("expected subtree removed")
	}
	if _, ok := svc.GetActiveDevice(); ok {
		t.Fatalf("expected active device cleared")
	}
	if _, ok := svc.Covers.Resolve(dev, "1000001"); ok {
		t.Fatalf("expected cover art purged")
	}

	// Late replies for the removed device fall on the floor.
	svc.OnEvent(FolderItemsResult{deviceEvent{dev}, 7, testItems(dev, "late"), true})
	if res := svc.GetContents(RootID); res.Status != BrowseNoDeviceConnected {
		t.Fatalf("expected empty root after disconnect, got %s", res.Status)
	}
}

func TestPlayItemUsesParentEpoch(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")
	connectDevice(t, svc, dev)

	session, _ := svc.Registry.GetSession(dev)
	root, _ := svc.Tree.DeviceRoot(dev)
	var npID string
	for _, childID := range root.Children {
		if child, ok := svc.Tree.Node(childID); ok && child.Scope == ScopeNowPlaying {
			npID = childID
		}
	}

	if res := svc.GetContents(npID); res.Status != BrowseDownloadPending {
		t.Fatalf("expected downloadPending, got %s", res.Status)
	}
	waitFor(t, "now playing command", func() bool {
		return engine.count("getNowPlayingList") == 1
	})
	node, _ := svc.Tree.Node(npID)
	session.Deliver(FolderItemsResult{deviceEvent{dev}, node.Epoch, []MediaItem{
		{Device: dev, UID: 42, Title: "Song", Playable: true},
	}, true})
	waitFor(t, "now playing cached", func() bool {
		n, ok := svc.Tree.Node(npID)
		return ok && n.Cached
	})

	res := svc.GetContents(npID)
	if res.Status != BrowseSuccess || len(res.Items) != 1 {
		t.Fatalf("unexpected contents %+v", res)
	}
	if status := svc.PlayItem(res.Items[0].NodeID); status != BrowseSuccess {
		t.Fatalf("expected play success, got %s", status)
	}
	want := fmt.Sprintf("playItem %d %d %d", ScopeNowPlaying, 42, node.Epoch)
	waitFor(t, "play command", func() bool {
		return engine.count(want) == 1
	})
}

func TestAudioFocusLossPausesActiveDevice(t *testing.T) {
	svc, engine, _, presenter := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")
	connectDevice(t, svc, dev)

	session, _ := svc.Registry.GetSession(dev)
	session.Deliver(PlayStatusChanged{deviceEvent{dev}, PlaybackPlaying})
	waitFor(t, "play status", func() bool {
		status, _, _ := session.Playback()
		return status == PlaybackPlaying
	})

	svc.OnAudioFocusChanged(false)
	waitFor(t, "pause on focus loss", func() bool {
		return engine.count(fmt.Sprintf("passThrough %#x", avrcp.KeyPause)) == 2
	})

	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	if len(presenter.active) == 0 || presenter.active[len(presenter.active)-1] {
		t.Fatalf("expected presenter deactivated")
	}
}

func TestNowPlayingPublishedForActiveDevice(t *testing.T) {
	svc, _, _, presenter := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")
	connectDevice(t, svc, dev)

	session, _ := svc.Registry.GetSession(dev)
	session.Deliver(TrackChanged{deviceEvent{dev}, MediaItem{
		Device:     dev,
		Title:      "Blue Train",
		Artist:     "John Coltrane",
		DurationMS: 643000,
	}})

	waitFor(t, "now playing publish", func() bool {
		state, ok := presenter.lastState()
		return ok && state.Title == "Blue Train"
	})
	state, _ := presenter.lastState()
	if state.Artist != "John Coltrane" || state.Address != dev.String() {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestPassThroughRequiresSession(t *testing.T) {
	svc, engine, _, _ := newTestService(0)
	dev := DeviceID("aa:bb:cc:dd:ee:ff")

	if svc.SendPassThrough(dev, avrcp.KeyPlay) {
		t.Fatalf("expected refusal for unknown device")
	}

	connectDevice(t, svc, dev)
	if !svc.SendPassThrough(dev, avrcp.KeyPlay) {
		t.Fatalf("expected passthrough accepted")
	}
	waitFor(t, "press and release", func() bool {
		return engine.count(fmt.Sprintf("passThrough %#x", avrcp.KeyPlay)) == 2
	})
}
