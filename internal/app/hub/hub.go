/*
Package hub routes outbound frames to websocket connections by connection id.

A Hub owns the sockets accepted by this process. Frames addressed to a connection it
does not hold are published on a Relay so that the instance holding the socket can
deliver them.
*/
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnknownConnection is returned when no instance can be asked to deliver.
var ErrUnknownConnection = errors.New("hub: unknown connection")

// Conn is a live connection the hub can deliver to.
type Conn interface {
	ID() string

	// Send queues payload without blocking.
	Send(payload []byte) error

	// Close flushes queued frames, then sends a close frame with code and reason.
	Close(code int, reason string)
}

// Delivery is a frame travelling between instances.
type Delivery struct {
	ConnID  string `json:"connId"`
	Payload []byte `json:"payload,omitempty"`
	Close   *Close `json:"close,omitempty"`
}

// Close asks the owning instance to close a connection.
type Close struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Relay fans deliveries out to every instance.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error

	// Subscribe blocks, passing every delivery to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(Delivery)) error
}

// Hub tracks the connections held by this instance.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// relay is nil for single-instance deployments.
	relay Relay

	logger zerolog.Logger
}

// New returns a Hub. relay may be nil.
func New(relay Relay, logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		relay:  relay,
		logger: logger,
	}
}

// Register makes c addressable by its id.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug().Str("conn_id", c.ID()).Int("total_conns", total).Msg("Connection registered.")
}

// Unregister removes c. A different connection registered under the same id is kept.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[c.ID()]; ok && current == c {
		delete(h.conns, c.ID())
	}
}

func (h *Hub) local(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connID]
	return c, ok
}

// Send delivers payload to connID on whichever instance holds it.
func (h *Hub) Send(ctx context.Context, connID string, payload []byte) error {
	if c, ok := h.local(connID); ok {
		return c.Send(payload)
	}
	if h.relay == nil {
		return ErrUnknownConnection
	}
	return h.relay.Publish(ctx, Delivery{ConnID: connID, Payload: payload})
}

// Disconnect closes connID with a websocket close code on whichever instance holds it.
func (h *Hub) Disconnect(ctx context.Context, connID string, code int, reason string) error {
	if c, ok := h.local(connID); ok {
		c.Close(code, reason)
		return nil
	}
	if h.relay == nil {
		return ErrUnknownConnection
	}
	return h.relay.Publish(ctx, Delivery{ConnID: connID, Close: &Close{Code: code, Reason: reason}})
}

// Run consumes relayed deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}

	h.logger.Info().Msg("Hub relay subscription started.")
	err := h.relay.Subscribe(ctx, h.deliver)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	h.logger.Info().Msg("Hub relay subscription stopped.")
	return err
}

// deliver hands a relayed frame to a local connection; frames for sockets held
// elsewhere are ignored.
func (h *Hub) deliver(d Delivery) {
	c, ok := h.local(d.ConnID)
	if !ok {
		return
	}

	if len(d.Payload) > 0 {
		if err := c.Send(d.Payload); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", d.ConnID).Msg("Relayed delivery dropped.")
		}
	}
	if d.Close != nil {
		c.Close(d.Close.Code, d.Close.Reason)
	}
}

// Shutdown closes every local connection with code.
func (h *Hub) Shutdown(code int, reason string) {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
	h.logger.Info().Int("closed_conns", len(conns)).Msg("Hub shutdown complete.")
}
