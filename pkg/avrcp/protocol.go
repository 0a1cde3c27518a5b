package avrcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the bridge protocol.
const BaseTopic = "avrcp/v1"

// EventEnvelope wraps an event emitted by the native protocol engine for
// a single accessory, identified by its link-layer address.
type EventEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Address string          `json:"address"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// CommandEnvelope wraps a fire-and-forget command issued to the native
// protocol engine for a single accessory.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Address string          `json:"address"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// CtlEnvelope is a request on the control surface (CLI, media browser).
type CtlEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ReplyEnvelope is the response envelope for control-surface requests.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Browse scopes as reported by the remote accessory.
const (
	ScopePlayerList = 0x00
	ScopeFileSystem = 0x01
	ScopeSearch     = 0x02
	ScopeNowPlaying = 0x03
)

// Folder navigation directions for changeFolderPath.
const (
	FolderUp   = 0x00
	FolderDown = 0x01
)

// Pass-through key codes.
const (
	KeyPlay     = 0x44
	KeyPause    = 0x46
	KeyStop     = 0x45
	KeyVolUp    = 0x41
	KeyVolDown  = 0x42
	KeyFastFwd  = 0x49
	KeyRewind   = 0x48
	KeyForward  = 0x4B
	KeyBackward = 0x4C
)

// Pass-through key states.
const (
	KeyStatePressed  = 0
	KeyStateReleased = 1
)

// NewEvent builds an event envelope with a JSON body.
func NewEvent(eventType string, address string, body any) (EventEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}
	return EventEnvelope{
		Type:    eventType,
		Address: address,
		Body:    payload,
	}, nil
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, address string, body any) (CommandEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}
	return CommandEnvelope{
		Type:    cmdType,
		Address: address,
		Body:    payload,
	}, nil
}

// ValidateEventEnvelope validates required fields on a stack event.
func ValidateEventEnvelope(ev EventEnvelope) error {
	if strings.TrimSpace(ev.Type) == "" {
		return errors.New("type is required")
	}
	if strings.TrimSpace(ev.Address) == "" {
		return errors.New("address is required")
	}
	return nil
}

// ValidateCtlEnvelope validates required fields on a control request.
func ValidateCtlEnvelope(cmd CtlEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	return nil
}

// TopicStackEvents is where the native engine publishes device events.
func TopicStackEvents(topicBase string) string {
	return fmt.Sprintf("%s/stack/evt", topicBase)
}

// TopicStackCommands is where the controller publishes engine commands
// for one accessory.
func TopicStackCommands(topicBase string, address string) string {
	return fmt.Sprintf("%s/stack/%s/cmd", topicBase, address)
}

// TopicCtl is the control-surface request topic.
func TopicCtl(topicBase string) string {
	return fmt.Sprintf("%s/ctl/cmd", topicBase)
}

// TopicReply builds the reply topic for a control client instance.
func TopicReply(topicBase string, clientID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, clientID)
}

// TopicPresence is the retained controller presence topic.
func TopicPresence(topicBase string) string {
	return fmt.Sprintf("%s/controller/presence", topicBase)
}

// TopicNowPlaying is the retained now-playing state topic.
func TopicNowPlaying(topicBase string) string {
	return fmt.Sprintf("%s/controller/nowplaying", topicBase)
}

// Presence describes the controller presence payload.
type Presence struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
	TS       int64  `json:"ts"`
}
