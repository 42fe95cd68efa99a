package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrBufferFull   = errors.New("send buffer full")
)

type State int

const (
	StateConnecting State = iota
	StateRegistered
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	SendBufferSize int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	return o
}

// Client is one websocket connection. It implements presence.Handle.
type Client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	opts Options
	log  zerolog.Logger

	// authUser is set when the upgrade request carried a valid session.
	authUser uuid.UUID

	mu     sync.Mutex
	state  State
	userID uuid.UUID
}

func NewClient(hub *Hub, conn *websocket.Conn, authUser uuid.UUID, opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	id := uuid.New()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, opts.SendBufferSize),
		opts:     opts,
		authUser: authUser,
		log:      log.With().Str("connection_id", id.String()).Logger(),
	}
}

func (c *Client) ID() uuid.UUID { return c.id }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID is the user this connection registered as, uuid.Nil before register.
func (c *Client) UserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Deliver queues env without blocking. A full buffer drops the event.
func (c *Client) Deliver(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", env.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Client) bind(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.userID = userID
	c.state = StateRegistered
}

// close moves the client to Disconnected and closes the send buffer. It
// reports false when the client was already closed.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.state = StateDisconnected
	close(c.send)
	return true
}

// ReadPump decodes inbound frames and dispatches them until the socket fails
// or the peer stops answering pings.
func (c *Client) ReadPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected websocket close")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		cmd, err := DecodeCommand(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to decode command")
			continue
		}
		d.Dispatch(ctx, c, cmd)
	}
}

// WritePump drains the send buffer to the socket and pings the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("Failed to write frame")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
