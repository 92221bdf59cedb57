package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/app/user"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/passwd"
)

const (
	// MaxContentBytes is the maximum allowed size (in bytes) of chat content.
	MaxContentBytes = 5000

	// DefaultCapacity is the live member limit of a room, the joiner included.
	DefaultCapacity = 5

	// DefaultStoreTimeout bounds every repository and presence call.
	DefaultStoreTimeout = 3 * time.Second
)

// Custom websocket close codes (4000-4999 range).
const (
	WsCloseCodeSessionReplaced = 4001
	WsCloseCodeKicked          = 4002
	WsCloseCodeJoinFailed      = 4003
	WsCloseCodeRoomClosed      = 4004
)

// Gateway delivers frames to connections by id, wherever they are held.
type Gateway interface {
	Send(ctx context.Context, connID string, payload []byte) error
	Disconnect(ctx context.Context, connID string, code int, reason string) error
}

// Verifier resolves a bearer credential to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Settings tunes the coordinator.
type Settings struct {
	Capacity     int
	StoreTimeout time.Duration
	Curve        user.Curve
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Rooms    room.Repository
	Users    user.Repository
	Presence presence.Store
	Gateway  Gateway
	Verifier Verifier
	Hasher   passwd.Hasher
	Settings Settings
	Logger   zerolog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Coordinator keeps the durable roster, live presence and connection routing of
// every room consistent while connections come and go.
type Coordinator struct {
	rooms    room.Repository
	users    user.Repository
	presence presence.Store
	gateway  Gateway
	verifier Verifier
	hasher   passwd.Hasher
	settings Settings
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCoordinator wires a Coordinator from deps, filling unset settings with defaults.
func NewCoordinator(deps Deps) *Coordinator {
	s := deps.Settings
	if s.Capacity <= 0 {
		s.Capacity = DefaultCapacity
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = DefaultStoreTimeout
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Coordinator{
		rooms:    timedRooms{Repository: deps.Rooms, timeout: s.StoreTimeout},
		users:    timedUsers{Repository: deps.Users, timeout: s.StoreTimeout},
		presence: timedPresence{Store: deps.Presence, timeout: s.StoreTimeout},
		gateway:  deps.Gateway,
		verifier: deps.Verifier,
		hasher:   deps.Hasher,
		settings: s,
		now:      clock,
		logger:   deps.Logger,
	}
}

// Connect verifies token and loads the caller's profile. No state exists for a
// connection whose Connect failed.
func (c *Coordinator) Connect(ctx context.Context, connID, token string) (*Session, *errs.CustomError) {
	userID, err := c.verifier.Verify(token)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	profile, err := c.users.Get(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}
	if err != nil {
		return nil, c.fail(err, "Failed to load profile on connect")
	}

	base := c.logger.With().
		Str("conn_id", connID).
		Str("user_id", userID).
		Logger()
	s := &Session{
		ID:      connID,
		profile: profile,
		state:   StateAuthenticated,
		base:    base,
		logger:  base,
	}
	s.logger.Info().Msg("Session authenticated.")
	return s, nil
}

// Handle runs one inbound frame for s. Failures are reported to the connection as
// error frames; a join that fails for a domain reason also closes it.
func (c *Coordinator) Handle(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.sendError(ctx, s, errs.NewError(errs.ErrInvalidPayload))
		return
	}

	cerr := c.dispatch(ctx, s, env)
	if cerr == nil {
		return
	}

	c.sendError(ctx, s, cerr)

	// Outages and lost races leave the connection open so the join can be retried.
	retryable := cerr.Kind == errs.KindTransient || cerr.Kind == errs.KindConflict
	if env.Type == EventJoin && cerr.Code != errs.ErrAlreadyJoined && !retryable {
		if err := c.gateway.Disconnect(ctx, s.ID, WsCloseCodeJoinFailed, string(cerr.Code)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close connection after join failure")
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, s *Session, env Envelope) (cerr *errs.CustomError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("msg_type", string(env.Type)).
				Msg("Recovered from panic in event handler")
			cerr = errs.NewError(errs.ErrUnknown)
		}
	}()

	if s.state != StateAuthenticated && s.state != StateInRoom {
		return errs.NewError(errs.ErrUnauthorized)
	}

	switch env.Type {
	case EventJoin:
		return c.join(ctx, s, env.Payload)
	case EventLeave:
		return c.leave(ctx, s)
	case EventBroadcast:
		return c.broadcast(ctx, s, env.Payload)
	case EventDirectMessage:
		return c.directMessage(ctx, s, env.Payload)
	case EventKick:
		return c.kick(ctx, s, env.Payload)
	case EventOffer, EventAnswer:
		return c.relayDescription(ctx, s, env.Type, env.Payload)
	case EventICECandidate:
		return c.relayCandidate(ctx, s, env.Payload)
	default:
		s.logger.Warn().Str("msg_type", string(env.Type)).Msg("Client sent unsupported message type")
		return errs.NewError(errs.ErrUnknownEvent, env.Type)
	}
}

// decode unmarshals a frame payload into dst.
func decode(raw json.RawMessage, dst any) *errs.CustomError {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.NewError(errs.ErrInvalidPayload)
	}
	return nil
}

// fail maps a store error to the error reported to the client, logging anything
// that is not an expected domain outcome.
func (c *Coordinator) fail(err error, msg string) *errs.CustomError {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return errs.NewError(errs.ErrRoomNotFound)
	case errors.Is(err, room.ErrBlocked):
		return errs.NewError(errs.ErrBlocked)
	case errors.Is(err, room.ErrNotMember):
		return errs.NewError(errs.ErrNotAMember)
	case errors.Is(err, room.ErrConflict):
		c.logger.Warn().Err(err).Msg(msg)
		return errs.NewError(errs.ErrConflict)
	case errors.Is(err, presence.ErrRoomFull):
		return errs.NewError(errs.ErrRoomIsFull)
	case errors.Is(err, user.ErrNotFound):
		return errs.NewError(errs.ErrUserNotFound)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, presence.ErrContention):
		c.logger.Warn().Err(err).Msg(msg)
		return errs.NewError(errs.ErrTransient)
	}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	c.logger.Error().Err(err).Msg(msg)
	return errs.From(err)
}

// retryConflict runs fn and runs it once more if it lost an optimistic-concurrency race.
func retryConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, room.ErrConflict) {
		err = fn()
	}
	return err
}

// send delivers one frame. Delivery failures are logged and otherwise ignored.
func (c *Coordinator) send(ctx context.Context, connID string, t EventType, payload any) {
	frame, err := encodeFrame(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("msg_type", string(t)).Msg("Failed to encode frame")
		return
	}

	if err := c.gateway.Send(ctx, connID, frame); err != nil {
		c.logger.Warn().
			Err(err).
			Str("conn_id", connID).
			Str("msg_type", string(t)).
			Msg("Frame delivery failed")
	}
}

// fanout delivers one frame to every entry except the connection skip.
func (c *Coordinator) fanout(ctx context.Context, entries []presence.Entry, skip string, t EventType, payload any) {
	frame, err := encodeFrame(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("msg_type", string(t)).Msg("Failed to encode frame")
		return
	}

	for _, e := range entries {
		if e.ConnectionID == skip {
			continue
		}
		if err := c.gateway.Send(ctx, e.ConnectionID, frame); err != nil {
			c.logger.Warn().
				Err(err).
				Str("conn_id", e.ConnectionID).
				Str("msg_type", string(t)).
				Msg("Frame delivery failed")
		}
	}
}

// sendPresence sends every entry its own view of the room.
func (c *Coordinator) sendPresence(ctx context.Context, entries []presence.Entry) {
	for i, e := range entries {
		others := make([]PresenceMember, 0, len(entries)-1)
		for j, o := range entries {
			if j != i {
				others = append(others, presenceMember(o))
			}
		}
		c.send(ctx, e.ConnectionID, EventPresenceInfo, PresenceInfoPayload{
			Self:   presenceMember(e),
			Others: others,
		})
	}
}

func (c *Coordinator) sendError(ctx context.Context, s *Session, cerr *errs.CustomError) {
	s.logger.Debug().Str("error_code", string(cerr.Code)).Msg("Reporting error to client")
	c.send(ctx, s.ID, EventError, ErrorPayload{Code: cerr.Code, Message: cerr.Message})
}

// liveMembers returns the room's presence and the caller's own entry. A caller
// that no longer owns an entry (replaced or kicked) is moved out of the room.
func (c *Coordinator) liveMembers(ctx context.Context, s *Session) ([]presence.Entry, presence.Entry, *errs.CustomError) {
	if s.state != StateInRoom {
		return nil, presence.Entry{}, errs.NewError(errs.ErrNotInRoom)
	}

	entries, err := c.presence.Members(ctx, s.roomID)
	if err != nil {
		return nil, presence.Entry{}, c.fail(err, "Failed to read presence")
	}

	for _, e := range entries {
		if e.UserID == s.UserID() && e.ConnectionID == s.ID {
			return entries, e, nil
		}
	}

	s.logger.Info().Msg("Session no longer owns a presence entry")
	s.exitRoom(StateAuthenticated)
	return nil, presence.Entry{}, errs.NewError(errs.ErrNotInRoom)
}

// accrue credits the time since joinedAt to userID's level progress.
func (c *Coordinator) accrue(ctx context.Context, userID string, joinedAt time.Time) {
	spent := c.now().Sub(joinedAt)
	if spent <= 0 {
		return
	}

	updated, err := c.users.ApplyProgress(ctx, userID, func(p user.Progress) user.Progress {
		return user.Accrue(p, c.settings.Curve.Gain(spent, p.Level))
	})
	if err != nil {
		c.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to persist experience")
		return
	}

	c.logger.Debug().
		Str("user_id", userID).
		Dur("session", spent).
		Int("level", updated.Level).
		Float64("experience", updated.Experience).
		Msg("Experience accrued.")
}

func closeReason(code int) string {
	switch code {
	case WsCloseCodeSessionReplaced:
		return "Session replaced by new connection."
	case WsCloseCodeKicked:
		return "Removed from room by host."
	case WsCloseCodeRoomClosed:
		return "Room closed."
	default:
		return fmt.Sprintf("close %d", code)
	}
}
