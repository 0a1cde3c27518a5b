package controller

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	ctrl "github.com/mikey-austin/avrcpctl/internal/controller"
	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

type pubRecord struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBus struct {
	mu      sync.Mutex
	records []pubRecord
	subs    map[string]paho.MessageHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: map[string]paho.MessageHandler{}}
}

func (b *fakeBus) Publish(topic string, _ byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, pubRecord{topic: topic, retained: retained, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler paho.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

func (b *fakeBus) published(topic string) []pubRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []pubRecord
	for _, rec := range b.records {
		if rec.topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

func (b *fakeBus) commandTypes(topic string) []string {
	var out []string
	for _, rec := range b.published(topic) {
		var cmd avrcp.CommandEnvelope
		if err := json.Unmarshal(rec.payload, &cmd); err != nil {
			continue
		}
		out = append(out, cmd.Type)
	}
	return out
}

type fakeRouter struct {
	mu     sync.Mutex
	volume int
}

func (r *fakeRouter) ClaimRoute(_ *ctrl.DeviceID) bool { return true }

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

func newTestModule(t *testing.T) (*Module, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	m, err := NewModule(zap.NewNop(), bus, &fakeRouter{volume: 50}, Config{
		Identity:   "test@host",
		MaxDevices: 5,
	})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return m, bus
}

func deliverEvent(t *testing.T, m *Module, eventType string, address string, body any) {
	t.Helper()
	env, err := avrcp.NewEvent(eventType, address, body)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	m.handleStackEvent(payload)
}

func connectDevice(t *testing.T, m *Module, address string) ctrl.DeviceID {
	t.Helper()
	deliverEvent(t, m, avrcp.EventConnectionChanged, address,
		avrcp.ConnectionChangedBody{RemoteControl: true, Browsing: true})
	dev, err := ctrl.ParseDeviceID(address)
	if err != nil {
		t.Fatalf("ParseDeviceID: %v", err)
	}
	waitFor(t, "device connected", func() bool {
		return m.service.Registry.ConnectionState(dev) == ctrl.StateConnected
	})
	return dev
}

func TestStackEventConnectIssuesStateFetch(t *testing.T) {
	m, bus := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	topic := avrcp.TopicStackCommands(avrcp.BaseTopic, dev.String())
	waitFor(t, "metadata and state fetch", func() bool {
		types := bus.commandTypes(topic)
		return contains(types, avrcp.CommandGetCurrentMetadata) &&
			contains(types, avrcp.CommandGetPlaybackState)
	})
}

func TestStackEventUnknownTypeDropped(t *testing.T) {
	m, _ := newTestModule(t)
	deliverEvent(t, m, "somethingElse", "aa:bb:cc:dd:ee:01", struct{}{})

	if got := len(m.service.Registry.Sessions()); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
}

func TestDispatchContentsGetRoot(t *testing.T) {
	m, _ := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	reply := m.dispatch(ctlRequest(t, avrcp.CtlContentsGet, avrcp.ContentsGetBody{NodeID: ctrl.RootID}))
	if !reply.OK {
		t.Fatalf("expected ok reply, got %+v", reply.Err)
	}
	var out avrcp.ContentsReply
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out.Status != string(ctrl.BrowseSuccess) {
		t.Fatalf("expected success, got %s", out.Status)
	}
	root, ok := m.service.Tree.DeviceRoot(dev)
	if !ok {
		t.Fatal("expected device root attached")
	}
	if len(out.Items) != 1 || out.Items[0].NodeID != root.ID {
		t.Fatalf("expected device root entry, got %+v", out.Items)
	}
}

func TestDispatchDevicesList(t *testing.T) {
	m, _ := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	reply := m.dispatch(ctlRequest(t, avrcp.CtlDevicesList, nil))
	if !reply.OK {
		t.Fatalf("expected ok reply, got %+v", reply.Err)
	}
	var out avrcp.DevicesReply
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if len(out.Devices) != 1 {
		t.Fatalf("expected one device, got %d", len(out.Devices))
	}
	entry := out.Devices[0]
	if entry.Address != dev.String() || entry.State != "connected" || !entry.Active || !entry.Browsing {
		t.Fatalf("unexpected entry %+v", entry)
	}

	reply = m.dispatch(ctlRequest(t, avrcp.CtlDevicesList, avrcp.DevicesListBody{States: []string{"disconnecting"}}))
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if len(out.Devices) != 0 {
		t.Fatalf("expected filtered list empty, got %d", len(out.Devices))
	}
}

func TestDispatchDeviceState(t *testing.T) {
	m, _ := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	reply := m.dispatch(ctlRequest(t, avrcp.CtlDeviceState, avrcp.DeviceStateBody{Address: dev.String()}))
	var out avrcp.DeviceStateReply
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out.State != "connected" {
		t.Fatalf("expected connected, got %s", out.State)
	}

	reply = m.dispatch(ctlRequest(t, avrcp.CtlDeviceState, avrcp.DeviceStateBody{Address: "aa:bb:cc:dd:ee:99"}))
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out.State != "disconnected" {
		t.Fatalf("expected disconnected for unknown device, got %s", out.State)
	}
}

func TestDispatchActiveGetSet(t *testing.T) {
	m, _ := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	reply := m.dispatch(ctlRequest(t, avrcp.CtlActiveGet, nil))
	var out avrcp.ActiveReply
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out.Address != dev.String() {
		t.Fatalf("expected %s active, got %q", dev, out.Address)
	}

	reply = m.dispatch(ctlRequest(t, avrcp.CtlActiveSet, avrcp.ActiveBody{}))
	if !reply.OK {
		t.Fatalf("expected ok clearing active, got %+v", reply.Err)
	}
	if _, ok := m.service.GetActiveDevice(); ok {
		t.Fatal("expected active device cleared")
	}

	reply = m.dispatch(ctlRequest(t, avrcp.CtlActiveSet, avrcp.ActiveBody{Address: dev.String()}))
	if !reply.OK {
		t.Fatalf("expected ok setting active, got %+v", reply.Err)
	}
	if active, ok := m.service.GetActiveDevice(); !ok || active != dev {
		t.Fatalf("expected %s active", dev)
	}
}

func TestDispatchKeyPressDefaultsToActive(t *testing.T) {
	m, bus := newTestModule(t)
	dev := connectDevice(t, m, "aa:bb:cc:dd:ee:01")

	reply := m.dispatch(ctlRequest(t, avrcp.CtlKeyPress, avrcp.KeyPressBody{KeyCode: avrcp.KeyPlay}))
	if !reply.OK {
		t.Fatalf("expected ok reply, got %+v", reply.Err)
	}

	topic := avrcp.TopicStackCommands(avrcp.BaseTopic, dev.String())
	passes := 0
	for _, typ := range bus.commandTypes(topic) {
		if typ == avrcp.CommandPassThrough {
			passes++
		}
	}
	if passes != 2 {
		t.Fatalf("expected press and release, got %d passThrough commands", passes)
	}
}

func TestDispatchKeyPressNoActiveDevice(t *testing.T) {
	m, _ := newTestModule(t)

	reply := m.dispatch(ctlRequest(t, avrcp.CtlKeyPress, avrcp.KeyPressBody{KeyCode: avrcp.KeyPlay}))
	if reply.OK || reply.Err == nil || reply.Err.Code != "NOT_CONNECTED" {
		t.Fatalf("expected NOT_CONNECTED, got %+v", reply)
	}
}

func TestDispatchUnsupportedCommand(t *testing.T) {
	m, _ := newTestModule(t)

	reply := m.dispatch(ctlRequest(t, "bogus.command", nil))
	if reply.OK || reply.Err == nil || reply.Err.Code != "INVALID" {
		t.Fatalf("expected INVALID, got %+v", reply)
	}
}

func TestNowPlayingRetained(t *testing.T) {
	m, bus := newTestModule(t)

	m.NowPlayingChanged(avrcp.NowPlayingState{
		Address: "aa:bb:cc:dd:ee:01",
		Title:   "Song",
		Status:  "playing",
		TS:      time.Now().Unix(),
	})

	topic := avrcp.TopicNowPlaying(avrcp.BaseTopic)
	records := bus.published(topic)
	if len(records) != 1 || !records[0].retained {
		t.Fatalf("expected one retained publish, got %+v", records)
	}
	var state avrcp.NowPlayingState
	if err := json.Unmarshal(records[0].payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Title != "Song" {
		t.Fatalf("unexpected state %+v", state)
	}

	m.Reset()
	records = bus.published(topic)
	if len(records) != 2 || len(records[1].payload) != 0 {
		t.Fatalf("expected retained clear, got %+v", records)
	}
}

func TestRunSubscribesAndPublishesPresence(t *testing.T) {
	m, bus := newTestModule(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "presence publish", func() bool {
		return len(bus.published(avrcp.TopicPresence(avrcp.BaseTopic))) == 1
	})

	bus.mu.Lock()
	_, evtSub := bus.subs[avrcp.TopicStackEvents(avrcp.BaseTopic)]
	_, ctlSub := bus.subs[avrcp.TopicCtl(avrcp.BaseTopic)]
	bus.mu.Unlock()
	if !evtSub || !ctlSub {
		t.Fatal("expected event and ctl subscriptions")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewModuleRequiresIdentity(t *testing.T) {
	_, err := NewModule(zap.NewNop(), newFakeBus(), &fakeRouter{}, Config{})
	if err == nil || !strings.Contains(err.Error(), "identity") {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func ctlRequest(t *testing.T, cmdType string, body any) avrcp.CtlEnvelope {
	t.Helper()
	cmd := avrcp.CtlEnvelope{
		ID:   "req-1",
		Type: cmdType,
		TS:   time.Now().Unix(),
		From: "cli@test",
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		cmd.Body = payload
	}
	return cmd
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
