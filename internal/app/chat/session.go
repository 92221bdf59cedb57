package chat

import (
	"time"

	"github.com/rs/zerolog"

	"knitroom/internal/app/user"
)

// State is the lifecycle stage of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the coordinator's view of one connection. It is owned by the
// connection's read loop; handlers for one session never run concurrently.
type Session struct {
	// ID is the connection id the gateway routes by.
	ID string

	profile user.User
	state   State

	roomID   string
	joinedAt time.Time

	// base carries connection fields; logger adds the room while InRoom.
	base   zerolog.Logger
	logger zerolog.Logger
}

// UserID returns the authenticated user's id.
func (s *Session) UserID() string {
	return s.profile.ID
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return s.state
}

// RoomID returns the joined room, or "" outside a room.
func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) enterRoom(roomID string, at time.Time) {
	s.state = StateInRoom
	s.roomID = roomID
	s.joinedAt = at
	s.logger = s.base.With().Str("room_id", roomID).Logger()
}

func (s *Session) exitRoom(next State) {
	s.state = next
	s.roomID = ""
	s.joinedAt = time.Time{}
	s.logger = s.base
}
