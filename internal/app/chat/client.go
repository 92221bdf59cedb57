/*
Package chat contains the real-time session coordinator and the websocket client.

This file defines the Client struct, representing an active WebSocket connection. It manages
the connection's message loops (ReadPump and WritePump) and hands every inbound frame to the
Coordinator, one at a time.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// capacity of the outbound queue.
	sendBuffer = 256
)

// ErrSendQueueFull is returned when a client's outbound queue cannot take another frame.
var ErrSendQueueFull = errors.New("client send queue full")

// ErrClientClosed is returned for frames sent after the client started closing.
var ErrClientClosed = errors.New("client closed")

type closeFrame struct {
	code   int
	reason string
}

// Client struct represents an active WebSocket connection and its session.
type Client struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// the coordinator state of this connection.
	session *Session

	coordinator *Coordinator

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// receives at most one close request; WritePump flushes send before honouring it.
	closing   chan closeFrame
	closeOnce sync.Once

	// done is closed when the client stops accepting frames.
	done chan struct{}

	// structured logger with connection and user context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(wsConn *websocket.Conn, session *Session, coordinator *Coordinator) *Client {
	return &Client{
		conn:        wsConn,
		session:     session,
		coordinator: coordinator,
		send:        make(chan []byte, sendBuffer),
		closing:     make(chan closeFrame, 1),
		done:        make(chan struct{}),
		logger:      session.logger,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.session.ID
}

// Send queues payload for the WritePump without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return ErrSendQueueFull
	}
}

// Close asks the WritePump to flush queued frames and then close the connection
// with code. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.logger.Info().Int("close_code", code).Str("reason", reason).Msg("Closing client connection.")
		c.closing <- closeFrame{code: code, reason: reason}
		close(c.done)
	})
}

// ReadPump handles reading messages from the WebSocket connection and runs them through
// the coordinator in arrival order. On exit it runs the disconnect bookkeeping, then onClose.
func (c *Client) ReadPump(ctx context.Context, onClose func()) {
	defer c.cleanupOnDisconnect(ctx, onClose)

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.coordinator.Handle(ctx, c.session, messageBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect(ctx context.Context, onClose func()) {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	c.coordinator.Disconnect(ctx, c.session)
	if onClose != nil {
		onClose()
	}
	c.Close(websocket.CloseNormalClosure, "")
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}

		case frame := <-c.closing:
			c.flush()
			c.writeCloseMessage(frame)
			return

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// flush writes whatever is still queued.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}
		default:
			return
		}
	}
}

// writeQueuedMessage writes one queued frame.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writeCloseMessage(frame closeFrame) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on close")
		return
	}

	msg := websocket.FormatCloseMessage(frame.code, frame.reason)
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send WS close message.")
	}
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
