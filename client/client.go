// Package client is a Go client for the rendezvous server: it maintains a
// WebSocket session with automatic reconnect and exposes typed operations
// for matchmaking and signaling relay.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
)

// Status is the status of the client
type Status string

const StreamConnected Status = "Connected"
const StreamDisconnected Status = "Disconnected"

// MsgHandler is called for every server message that is not the welcome
// notice. Returning an error only logs it; the stream keeps running.
type MsgHandler func(env *messages.Envelope) error

// Client wraps a session with the rendezvous server.
type Client struct {
	endpoint string
	ctx      context.Context

	mux    sync.Mutex
	conn   *websocket.Conn
	peerID string
	status Status
	// connectedCh used to notify goroutines waiting for the connection to the stream
	connectedCh chan struct{}
}

// NewClient creates a client for the given endpoint (e.g. ws://host:port).
func NewClient(ctx context.Context, endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		ctx:      ctx,
		status:   StreamDisconnected,
	}
}

// GetStatus returns the current stream status.
func (c *Client) GetStatus() Status {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.status
}

// PeerID returns the session id assigned by the server, empty before the
// first welcome notice arrives.
func (c *Client) PeerID() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.peerID
}

// Close closes the underlying connection to the server.
func (c *Client) Close() error {
	c.mux.Lock()
	conn := c.conn
	c.mux.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "close")
}

// defaultBackoff is a basic backoff mechanism for general issues
func defaultBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     800 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      12 * time.Hour, // stop after 12 hours of trying, the error will be propagated to the caller
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

// Receive connects to the server message stream and starts receiving
// messages, handing each to msgHandler. It blocks and reconnects on errors
// (e.g. a server restart) until the backoff gives up or the context ends.
// Note that a reconnect starts a fresh anonymous session with a new id.
func (c *Client) Receive(msgHandler MsgHandler) error {
	var backOff = defaultBackoff(c.ctx)

	operation := func() error {
		c.notifyStreamDisconnected()

		conn, err := c.connect()
		if err != nil {
			log.Warnf("disconnected from the rendezvous server due to an error: %v", err)
			return err
		}

		c.notifyStreamConnected()
		log.Infof("connected to the rendezvous server stream as [%s]", c.PeerID())

		err = c.receive(conn, msgHandler)
		if err != nil {
			log.Warnf("disconnected from the rendezvous server due to an error: %v", err)
			backOff.Reset()
			return err
		}

		return nil
	}

	err := backoff.Retry(operation, backOff)
	if err != nil {
		log.Errorf("exiting the rendezvous server connection retry loop due to an unrecoverable error: %s", err)
		return err
	}

	return nil
}

// connect dials the server and waits for the welcome notice that carries
// the assigned session id.
func (c *Client) connect() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.endpoint+"/connect", nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	env, err := c.read(conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "no welcome")
		return nil, err
	}
	if env.Kind != messages.KindWelcome {
		_ = conn.Close(websocket.StatusProtocolError, "no welcome")
		return nil, fmt.Errorf("expected a welcome notice, got %q", env.Kind)
	}

	var welcome messages.WelcomeBody
	if err := json.Unmarshal(env.Body, &welcome); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "bad welcome")
		return nil, fmt.Errorf("invalid welcome notice: %w", err)
	}

	c.mux.Lock()
	c.conn = conn
	c.peerID = welcome.PeerID
	c.mux.Unlock()

	return conn, nil
}

func (c *Client) receive(conn *websocket.Conn, msgHandler MsgHandler) error {
	for {
		env, err := c.read(conn)
		if err != nil {
			return err
		}
		if err := msgHandler(env); err != nil {
			log.Errorf("error while handling message from peer [%s]: %v", env.From, err)
		}
	}
}

func (c *Client) read(conn *websocket.Conn) (*messages.Envelope, error) {
	_, data, err := conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	env := &messages.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("unmarshal server message: %w", err)
	}
	return env, nil
}

func (c *Client) notifyStreamDisconnected() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.status = StreamDisconnected
	c.conn = nil
	c.peerID = ""
}

func (c *Client) notifyStreamConnected() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.status = StreamConnected
	if c.connectedCh != nil {
		// there are goroutines waiting on this channel -> release them
		close(c.connectedCh)
		c.connectedCh = nil
	}
}

func (c *Client) getStreamStatusChan() <-chan struct{} {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.connectedCh == nil {
		c.connectedCh = make(chan struct{})
	}
	return c.connectedCh
}

// WaitStreamConnected waits until the client is connected to the server stream
func (c *Client) WaitStreamConnected() {
	if c.GetStatus() == StreamConnected {
		return
	}

	ch := c.getStreamStatusChan()
	select {
	case <-c.ctx.Done():
	case <-ch:
	}
}

// send writes an envelope to the stream. Receive must be running so that a
// connection exists.
func (c *Client) send(env *messages.Envelope) error {
	c.mux.Lock()
	conn := c.conn
	c.mux.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection to the rendezvous server")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Match submits matchmaking preferences and enters the waiting pool. The
// pairing outcome arrives asynchronously as a paired notice.
func (c *Client) Match(prefs messages.Preferences) error {
	body, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return c.send(&messages.Envelope{Kind: messages.KindMatch, Body: body})
}

// Relay sends an opaque signaling payload to another peer, normally the
// current partner.
func (c *Client) Relay(kind messages.Kind, to string, body json.RawMessage) error {
	if !kind.Relayable() {
		return fmt.Errorf("message kind %q cannot be relayed", kind)
	}
	return c.send(&messages.Envelope{Kind: kind, To: to, Body: body})
}

// Skip dissolves the current pairing and re-enters the waiting pool.
func (c *Client) Skip() error {
	return c.send(&messages.Envelope{Kind: messages.KindSkip})
}

// Leave ends the session.
func (c *Client) Leave() error {
	return c.send(&messages.Envelope{Kind: messages.KindLeave})
}
