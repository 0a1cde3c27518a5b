package controller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	ctrl "github.com/mikey-austin/avrcpctl/internal/controller"
	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// publisher is the slice of the MQTT client the module needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the controller module.
type Config struct {
	Identity   string
	TopicBase  string
	MaxDevices int
}

// Module hosts the controller core behind the MQTT bridge: it feeds
// stack events in, publishes engine commands out, serves the control
// surface and mirrors now-playing state to a retained topic.
type Module struct {
	log     *zap.Logger
	client  publisher
	config  Config
	service *ctrl.Service

	evtTopic string
	ctlTopic string
}

// NewModule initializes the controller module. The module itself is
// the core's protocol engine and presenter.
func NewModule(log *zap.Logger, client publisher, router ctrl.AudioRouter, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, errors.New("controller identity required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = avrcp.BaseTopic
	}

	m := &Module{
		log:      log,
		client:   client,
		config:   cfg,
		evtTopic: avrcp.TopicStackEvents(cfg.TopicBase),
		ctlTopic: avrcp.TopicCtl(cfg.TopicBase),
	}
	m.service = ctrl.NewService(log, ctrl.Config{MaxDevices: cfg.MaxDevices}, m, router, m)
	return m, nil
}

// Service exposes the controller core, for collaborators wired in at
// startup such as the audio router focus callback.
func (m *Module) Service() *ctrl.Service { return m.service }

// Run subscribes the module and blocks until the context is done.
func (m *Module) Run(ctx context.Context) error {
	evtHandler := func(_ paho.Client, msg paho.Message) {
		m.handleStackEvent(msg.Payload())
	}
	if err := m.client.Subscribe(m.evtTopic, 1, evtHandler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.evtTopic)

	ctlHandler := func(_ paho.Client, msg paho.Message) {
		m.handleCtl(msg.Payload())
	}
	if err := m.client.Subscribe(m.ctlTopic, 1, ctlHandler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.ctlTopic)

	if err := m.publishPresence(); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (m *Module) publishPresence() error {
	presence := avrcp.Presence{
		Identity: m.config.Identity,
		Kind:     "controller",
		TS:       time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(avrcp.TopicPresence(m.config.TopicBase), 1, true, payload)
}

func (m *Module) handleStackEvent(payload []byte) {
	var env avrcp.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.log.Warn("invalid stack event", zap.Error(err))
		return
	}
	ev, err := ctrl.EventFromEnvelope(env, m.service.Covers)
	if err != nil {
		m.log.Warn("stack event dropped",
			zap.String("type", env.Type),
			zap.String("address", env.Address),
			zap.Error(err))
		return
	}
	m.service.OnEvent(ev)
}

func (m *Module) handleCtl(payload []byte) {
	var cmd avrcp.CtlEnvelope
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Warn("invalid control request", zap.Error(err))
		return
	}
	if err := avrcp.ValidateCtlEnvelope(cmd); err != nil {
		m.log.Warn("malformed control request", zap.Error(err))
		return
	}

	reply := m.dispatch(cmd)
	if cmd.ReplyTo == "" {
		return
	}
	out, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, out); err != nil {
		m.log.Error("publish reply", zap.Error(err))
	}
}

func (m *Module) dispatch(cmd avrcp.CtlEnvelope) avrcp.ReplyEnvelope {
	reply := avrcp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
	}

	switch cmd.Type {
	case avrcp.CtlContentsGet:
		return m.contentsGet(cmd, reply)
	case avrcp.CtlItemPlay:
		return m.itemPlay(cmd, reply)
	case avrcp.CtlDevicesList:
		return m.devicesList(cmd, reply)
	case avrcp.CtlDeviceState:
		return m.deviceState(cmd, reply)
	case avrcp.CtlActiveGet:
		return m.activeGet(cmd, reply)
	case avrcp.CtlActiveSet:
		return m.activeSet(cmd, reply)
	case avrcp.CtlKeyPress:
		return m.keyPress(cmd, reply)
	default:
		return errorReply(cmd, "INVALID", "unsupported command")
	}
}

func (m *Module) contentsGet(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.ContentsGetBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if strings.TrimSpace(body.NodeID) == "" {
		return errorReply(cmd, "INVALID", "nodeId required")
	}

	res := m.service.GetContents(body.NodeID)
	out := avrcp.ContentsReply{Status: string(res.Status), Items: res.Items}
	payload, _ := json.Marshal(out)
	reply.Body = payload
	return reply
}

func (m *Module) itemPlay(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.ItemPlayBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if strings.TrimSpace(body.NodeID) == "" {
		return errorReply(cmd, "INVALID", "nodeId required")
	}

	switch m.service.PlayItem(body.NodeID) {
	case ctrl.BrowseSuccess:
		return reply
	case ctrl.BrowseNoDeviceConnected:
		return errorReply(cmd, "NOT_CONNECTED", "device not connected")
	default:
		return errorReply(cmd, "NOT_FOUND", "node not found or not playable")
	}
}

func (m *Module) devicesList(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.DevicesListBody
	if len(cmd.Body) > 0 {
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			return errorReply(cmd, "INVALID", "invalid body")
		}
	}

	var filter []ctrl.ConnectionState
	for _, s := range body.States {
		state, ok := ctrl.ParseConnectionState(s)
		if !ok {
			return errorReply(cmd, "INVALID", "unknown state "+s)
		}
		filter = append(filter, state)
	}

	active, haveActive := m.service.GetActiveDevice()
	sessions := m.service.Registry.Sessions()
	out := avrcp.DevicesReply{Devices: make([]avrcp.DeviceEntry, 0, len(sessions))}
	for _, session := range sessions {
		state := session.State()
		if len(filter) > 0 && !containsState(filter, state) {
			continue
		}
		dev := session.Device()
		out.Devices = append(out.Devices, avrcp.DeviceEntry{
			Address:  dev.String(),
			State:    state.String(),
			Browsing: session.BrowsingConnected(),
			Active:   haveActive && dev == active,
		})
	}
	payload, _ := json.Marshal(out)
	reply.Body = payload
	return reply
}

func (m *Module) deviceState(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.DeviceStateBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	dev, err := ctrl.ParseDeviceID(body.Address)
	if err != nil {
		return errorReply(cmd, "INVALID", err.Error())
	}

	state := m.service.Registry.ConnectionState(dev)
	out := avrcp.DeviceStateReply{State: state.String()}
	payload, _ := json.Marshal(out)
	reply.Body = payload
	return reply
}

func (m *Module) activeGet(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	out := avrcp.ActiveReply{}
	if dev, ok := m.service.GetActiveDevice(); ok {
		out.Address = dev.String()
	}
	payload, _ := json.Marshal(out)
	reply.Body = payload
	return reply
}

func (m *Module) activeSet(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.ActiveBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}

	if strings.TrimSpace(body.Address) == "" {
		m.service.SetActiveDevice(nil)
		return reply
	}
	dev, err := ctrl.ParseDeviceID(body.Address)
	if err != nil {
		return errorReply(cmd, "INVALID", err.Error())
	}
	if !m.service.SetActiveDevice(&dev) {
		return errorReply(cmd, "REFUSED", "audio route claim refused")
	}
	return reply
}

func (m *Module) keyPress(cmd avrcp.CtlEnvelope, reply avrcp.ReplyEnvelope) avrcp.ReplyEnvelope {
	var body avrcp.KeyPressBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}

	var dev ctrl.DeviceID
	if strings.TrimSpace(body.Address) == "" {
		active, ok := m.service.GetActiveDevice()
		if !ok {
			return errorReply(cmd, "NOT_CONNECTED", "no active device")
		}
		dev = active
	} else {
		parsed, err := ctrl.ParseDeviceID(body.Address)
		if err != nil {
			return errorReply(cmd, "INVALID", err.Error())
		}
		dev = parsed
	}

	if !m.service.SendPassThrough(dev, body.KeyCode) {
		return errorReply(cmd, "NOT_CONNECTED", "device not connected")
	}
	return reply
}

func errorReply(cmd avrcp.CtlEnvelope, code string, message string) avrcp.ReplyEnvelope {
	return avrcp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err: &avrcp.ReplyError{
			Code:    code,
			Message: message,
		},
	}
}

func containsState(states []ctrl.ConnectionState, state ctrl.ConnectionState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// sendCommand publishes one engine command for a device. Commands are
// fire and forget; results come back as stack events.
func (m *Module) sendCommand(dev ctrl.DeviceID, cmdType string, body any) {
	cmd, err := avrcp.NewCommand(cmdType, dev.String(), body)
	if err != nil {
		m.log.Error("build command", zap.String("type", cmdType), zap.Error(err))
		return
	}
	cmd.ID = uuid.NewString()
	cmd.TS = time.Now().Unix()

	payload, err := json.Marshal(cmd)
	if err != nil {
		m.log.Error("marshal command", zap.String("type", cmdType), zap.Error(err))
		return
	}
	topic := avrcp.TopicStackCommands(m.config.TopicBase, dev.String())
	if err := m.client.Publish(topic, 1, false, payload); err != nil {
		m.log.Error("publish command",
			zap.String("type", cmdType),
			zap.String("device", dev.String()),
			zap.Error(err))
	}
}

// GetPlayerList implements the controller core's protocol engine.
func (m *Module) GetPlayerList(dev ctrl.DeviceID, epoch uint32, start, end int) {
	m.sendCommand(dev, avrcp.CommandGetPlayerList, avrcp.FetchRangeBody{Epoch: epoch, Start: start, End: end})
}

func (m *Module) GetFolderList(dev ctrl.DeviceID, epoch uint32, start, end int) {
	m.sendCommand(dev, avrcp.CommandGetFolderList, avrcp.FetchRangeBody{Epoch: epoch, Start: start, End: end})
}

func (m *Module) GetNowPlayingList(dev ctrl.DeviceID, epoch uint32, start, end int) {
	m.sendCommand(dev, avrcp.CommandGetNowPlayingList, avrcp.FetchRangeBody{Epoch: epoch, Start: start, End: end})
}

func (m *Module) ChangeFolderPath(dev ctrl.DeviceID, direction int, uid uint64) {
	m.sendCommand(dev, avrcp.CommandChangeFolderPath, avrcp.ChangeFolderPathBody{Direction: direction, UID: uid})
}

func (m *Module) SetBrowsedPlayer(dev ctrl.DeviceID, playerID int) {
	m.sendCommand(dev, avrcp.CommandSetBrowsedPlayer, avrcp.PlayerIDBody{PlayerID: playerID})
}

func (m *Module) SetAddressedPlayer(dev ctrl.DeviceID, playerID int) {
	m.sendCommand(dev, avrcp.CommandSetAddressedPlayer, avrcp.PlayerIDBody{PlayerID: playerID})
}

func (m *Module) PlayItem(dev ctrl.DeviceID, scope ctrl.Scope, uid uint64, epoch uint32) {
	m.sendCommand(dev, avrcp.CommandPlayItem, avrcp.PlayItemBody{Scope: int(scope), UID: uid, Epoch: epoch})
}

func (m *Module) SendPassThrough(dev ctrl.DeviceID, keyCode, keyState int) {
	m.sendCommand(dev, avrcp.CommandPassThrough, avrcp.PassThroughBody{KeyCode: keyCode, KeyState: keyState})
}

func (m *Module) SendGroupNavigation(dev ctrl.DeviceID, keyCode, keyState int) {
	m.sendCommand(dev, avrcp.CommandGroupNavigation, avrcp.PassThroughBody{KeyCode: keyCode, KeyState: keyState})
}

func (m *Module) SetPlayerSettings(dev ctrl.DeviceID, settings ctrl.PlayerSettings) {
	m.sendCommand(dev, avrcp.CommandSetPlayerSettings, avrcp.SettingsBody{Settings: settings})
}

func (m *Module) SendAbsVolumeResponse(dev ctrl.DeviceID, volume, label int) {
	m.sendCommand(dev, avrcp.CommandAbsVolumeResponse, avrcp.AbsVolumeBody{Volume: volume, Label: label})
}

func (m *Module) SendRegisterAbsVolResponse(dev ctrl.DeviceID, volume, label int) {
	m.sendCommand(dev, avrcp.CommandRegisterAbsVolResponse, avrcp.AbsVolumeBody{Volume: volume, Label: label})
}

func (m *Module) GetCurrentMetadata(dev ctrl.DeviceID) {
	m.sendCommand(dev, avrcp.CommandGetCurrentMetadata, struct{}{})
}

func (m *Module) GetPlaybackState(dev ctrl.DeviceID) {
	m.sendCommand(dev, avrcp.CommandGetPlaybackState, struct{}{})
}

// NowPlayingChanged implements the core's presenter by mirroring the
// active device's state to the retained now-playing topic.
func (m *Module) NowPlayingChanged(state avrcp.NowPlayingState) {
	payload, err := json.Marshal(state)
	if err != nil {
		m.log.Error("marshal now playing", zap.Error(err))
		return
	}
	if err := m.client.Publish(avrcp.TopicNowPlaying(m.config.TopicBase), 1, true, payload); err != nil {
		m.log.Error("publish now playing", zap.Error(err))
	}
}

// Reset clears the retained now-playing state.
func (m *Module) Reset() {
	if err := m.client.Publish(avrcp.TopicNowPlaying(m.config.TopicBase), 1, true, nil); err != nil {
		m.log.Error("clear now playing", zap.Error(err))
	}
}

// SetActive is called when local audio focus moves. Losing focus
// clears the retained state; the owning session republishes on its
// next state change after regaining it.
func (m *Module) SetActive(active bool) {
	if !active {
		m.Reset()
	}
}
