package audiorouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikey-austin/avrcpctl/internal/controller"
)

const rpcTimeout = 2 * time.Second

// Client talks JSON-RPC over a websocket to an external audio router
// service. Routing claims are synchronous round trips; volume and focus
// updates arrive as notifications. It implements the controller's
// routing port; releasing a route is best effort and never refused.
type Client struct {
	log       *zap.Logger
	serverURL string

	mu    sync.Mutex
	conn  *websocket.Conn
	reqID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan json.RawMessage

	volumeMu sync.Mutex
	volume   int

	onFocus func(gained bool)
}

// NewClient creates a client for the given websocket URL.
func NewClient(log *zap.Logger, serverURL string, initialVolume int) *Client {
	return &Client{
		log:       log,
		serverURL: serverURL,
		pending:   make(map[uint64]chan json.RawMessage),
		volume:    clampVolume(initialVolume),
	}
}

// SetFocusCallback registers the callback for focus notifications.
// Wired once before Connect.
func (c *Client) SetFocusCallback(cb func(gained bool)) {
	c.onFocus = cb
}

// Connect establishes the websocket connection and starts the read
// loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", c.serverURL)

	conn, _, err := dialer.DialContext(ctx, c.serverURL, headers)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	go c.readLoop()
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ClaimRoute asks the router to route local audio for a device. A nil
// device releases the route, which always succeeds locally.
func (c *Client) ClaimRoute(dev *controller.DeviceID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	if dev == nil {
		if _, err := c.call(ctx, "route.release", nil); err != nil {
			c.log.Debug("route release failed", zap.Error(err))
		}
		return true
	}

	result, err := c.call(ctx, "route.claim", map[string]any{"address": dev.String()})
	if err != nil {
		c.log.Warn("route claim failed", zap.String("device", dev.String()), zap.Error(err))
		return false
	}
	var granted struct {
		Granted bool `json:"granted"`
	}
	if err := json.Unmarshal(result, &granted); err != nil {
		c.log.Warn("route claim reply unreadable", zap.Error(err))
		return false
	}
	return granted.Granted
}

// SetAbsoluteVolume forwards a volume change from the accessory.
func (c *Client) SetAbsoluteVolume(volume int) {
	volume = clampVolume(volume)
	c.volumeMu.Lock()
	c.volume = volume
	c.volumeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	if _, err := c.call(ctx, "volume.set", map[string]any{"percent": VolumeToPercent(volume)}); err != nil {
		c.log.Warn("volume set failed", zap.Error(err))
	}
}

// Volume returns the last known volume in the protocol range.
func (c *Client) Volume() int {
	c.volumeMu.Lock()
	defer c.volumeMu.Unlock()
	return c.volume
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("websocket read error", zap.Error(err))
			c.Close()
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		ID     *uint64         `json:"id,omitempty"`
		Method string          `json:"method,omitempty"`
		Params json.RawMessage `json:"params,omitempty"`
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	if msg.ID != nil {
		c.pendingMu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.pendingMu.Unlock()
		if ok && ch != nil {
			ch <- msg.Result
		}
		return
	}

	switch msg.Method {
	case "volume.changed":
		var params struct {
			Percent int `json:"percent"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		c.volumeMu.Lock()
		c.volume = PercentToVolume(params.Percent)
		c.volumeMu.Unlock()
	case "focus.changed":
		var params struct {
			Gained bool `json:"gained"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		if c.onFocus != nil {
			c.onFocus(params.Gained)
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	id := c.reqID.Add(1)
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	c.mu.Lock()
	if c.conn != nil {
		err = c.conn.WriteMessage(websocket.TextMessage, data)
	} else {
		err = fmt.Errorf("connection lost")
	}
	c.mu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case result := <-respCh:
		return result, nil
	}
}
