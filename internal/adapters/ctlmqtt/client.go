// Package ctlmqtt is the control-surface MQTT adapter used by the CLI:
// request/reply over a per-instance reply topic, plus readers for the
// retained presence and now-playing topics.
package ctlmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

// Options configures the control client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client is the control-surface MQTT client.
type Client struct {
	client     paho.Client
	replyTopic string
	ctlTopic   string
	topicBase  string
	timeout    time.Duration

	mu            sync.Mutex
	replyHandlers map[string]chan avrcp.ReplyEnvelope
}

// NewClient creates and connects a control client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = avrcp.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	c := &Client{
		replyTopic:    avrcp.TopicReply(opts.TopicBase, opts.ClientID),
		ctlTopic:      avrcp.TopicCtl(opts.TopicBase),
		topicBase:     opts.TopicBase,
		timeout:       opts.Timeout,
		replyHandlers: map[string]chan avrcp.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.replyTopic, 1, c.handleReply)
		token.Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := buildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// Request publishes a control request and waits for the reply.
func (c *Client) Request(ctx context.Context, cmd avrcp.CtlEnvelope) (avrcp.ReplyEnvelope, error) {
	cmd.ReplyTo = c.replyTopic
	req, err := json.Marshal(cmd)
	if err != nil {
		return avrcp.ReplyEnvelope{}, fmt.Errorf("marshal request: %w", err)
	}

	replyCh := make(chan avrcp.ReplyEnvelope, 1)
	c.mu.Lock()
	c.replyHandlers[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replyHandlers, cmd.ID)
		c.mu.Unlock()
	}()

	if token := c.client.Publish(c.ctlTopic, 1, false, req); token.Wait() && token.Error() != nil {
		return avrcp.ReplyEnvelope{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return avrcp.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(c.timeout):
		return avrcp.ReplyEnvelope{}, errors.New("timeout waiting for reply")
	}
}

// GetPresence reads the retained controller presence.
func (c *Client) GetPresence(ctx context.Context) (avrcp.Presence, error) {
	presenceCh := make(chan avrcp.Presence, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var presence avrcp.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil {
			return
		}
		select {
		case presenceCh <- presence:
		default:
		}
	}

	topic := avrcp.TopicPresence(c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return avrcp.Presence{}, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	select {
	case <-ctx.Done():
		return avrcp.Presence{}, ctx.Err()
	case presence := <-presenceCh:
		return presence, nil
	case <-time.After(c.timeout):
		return avrcp.Presence{}, errors.New("timeout waiting for presence")
	}
}

// GetNowPlaying reads the retained now-playing state. An empty retained
// payload means no device is active.
func (c *Client) GetNowPlaying(ctx context.Context) (avrcp.NowPlayingState, bool, error) {
	type result struct {
		state avrcp.NowPlayingState
		ok    bool
	}
	stateCh := make(chan result, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		if len(msg.Payload()) == 0 {
			select {
			case stateCh <- result{}:
			default:
			}
			return
		}
		var state avrcp.NowPlayingState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- result{state: state, ok: true}:
		default:
		}
	}

	topic := avrcp.TopicNowPlaying(c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return avrcp.NowPlayingState{}, false, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	select {
	case <-ctx.Done():
		return avrcp.NowPlayingState{}, false, ctx.Err()
	case res := <-stateCh:
		return res.state, res.ok, nil
	case <-time.After(c.timeout):
		// No retained message at all: the controller has never run.
		return avrcp.NowPlayingState{}, false, nil
	}
}

// WatchNowPlaying streams now-playing updates until the context ends.
func (c *Client) WatchNowPlaying(ctx context.Context) (<-chan avrcp.NowPlayingState, <-chan error) {
	stateCh := make(chan avrcp.NowPlayingState, 8)
	errCh := make(chan error, 1)

	handler := func(_ paho.Client, msg paho.Message) {
		if len(msg.Payload()) == 0 {
			return
		}
		var state avrcp.NowPlayingState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := avrcp.TopicNowPlaying(c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		errCh <- token.Error()
		return stateCh, errCh
	}

	go func() {
		<-ctx.Done()
		c.client.Unsubscribe(topic)
		close(stateCh)
		close(errCh)
	}()

	return stateCh, errCh
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply avrcp.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.replyHandlers[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}

func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	config := &tls.Config{}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.RootCAs = pool
	}

	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, errors.New("both tls cert and key are required")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}
