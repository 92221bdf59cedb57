package chat

import (
	"context"
	"encoding/json"
	"errors"

	"knitroom/internal/app/room"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/randx"
)

// leave handles an explicit leave frame. The connection stays open.
func (c *Coordinator) leave(ctx context.Context, s *Session) *errs.CustomError {
	if s.state != StateInRoom {
		return errs.NewError(errs.ErrNotInRoom)
	}
	c.depart(ctx, s, true)
	s.exitRoom(StateAuthenticated)
	return nil
}

// Disconnect runs the bookkeeping for a closed transport. It is idempotent and
// completes even when ctx has been cancelled.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) {
	if s.state == StateClosed {
		return
	}
	if s.state == StateInRoom {
		c.depart(ctx, s, false)
	}
	s.exitRoom(StateClosed)
	s.logger.Info().Msg("Session closed.")
}

// depart removes s from its room. voluntary departures also leave the roster;
// a dropped connection keeps its roster entry unless it belonged to the Host.
func (c *Coordinator) depart(ctx context.Context, s *Session, voluntary bool) {
	ctx = context.WithoutCancel(ctx)
	roomID, uid := s.roomID, s.UserID()

	removed, err := c.presence.Remove(ctx, roomID, s.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove presence entry")
		return
	}
	if removed == nil {
		// Replaced, kicked, or the room was closed; whoever removed the entry did the rest.
		return
	}

	c.accrue(ctx, uid, removed.JoinedAt)

	if closed := c.settleRoster(ctx, roomID, uid, voluntary); closed {
		return
	}

	remaining, err := c.presence.Members(ctx, roomID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read presence after leave")
		return
	}

	s.logger.Info().
		Bool("voluntary", voluntary).
		Int("total_users", len(remaining)).
		Msg("Client left room.")

	c.fanout(ctx, remaining, "", EventBye, AnnouncementPayload{ID: randx.MessageID(), Sender: senderOf(*removed)})
	c.sendPresence(ctx, remaining)
}

// settleRoster applies the roster consequences of uid leaving and reports whether
// the room was closed as a result.
func (c *Coordinator) settleRoster(ctx context.Context, roomID, uid string, voluntary bool) (closed bool) {
	logger := c.logger.With().Str("room_id", roomID).Str("user_id", uid).Logger()

	var successor string
	err := retryConflict(func() error {
		closed, successor = false, ""

		r, err := c.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}

		host, hasHost := r.Host()
		switch {
		case hasHost && host.UserID == uid:
			next, ok := r.NextHost(uid)
			if !ok {
				closed = true
				return c.rooms.Delete(ctx, roomID, r.Version)
			}
			successor = next.UserID
			_, err = c.rooms.ReassignHost(ctx, roomID, uid, successor, r.Version)
			return err

		case !hasHost:
			logger.Error().Int("roster_size", len(r.Roster)).Msg("Roster has no host; repairing")

			if _, member := r.Member(uid); member && voluntary {
				if r, err = c.rooms.RemoveMember(ctx, roomID, uid, r.Version); err != nil {
					return err
				}
			}
			next, ok := r.NextHost("")
			if !ok {
				closed = true
				return c.rooms.Delete(ctx, roomID, r.Version)
			}
			successor = next.UserID
			_, err = c.rooms.ReassignHost(ctx, roomID, "", successor, r.Version)
			return err

		case voluntary:
			_, err = c.rooms.RemoveMember(ctx, roomID, uid, r.Version)
			return err
		}
		return nil
	})

	switch {
	case errors.Is(err, room.ErrNotFound), errors.Is(err, room.ErrNotMember):
		// The room or membership is already gone.
		return false
	case err != nil:
		logger.Error().Err(err).Msg("Failed to update roster after leave")
		return false
	}

	if closed {
		c.closeRoom(ctx, roomID)
		return true
	}

	if successor != "" {
		if err := c.presence.SetHost(ctx, roomID, successor, true); err != nil {
			logger.Error().Err(err).Str("successor", successor).Msg("Failed to flag new host in presence")
		}
		logger.Info().Str("successor", successor).Msg("Host transferred.")
	}
	return false
}

// closeRoom evicts every live member of a deleted room.
func (c *Coordinator) closeRoom(ctx context.Context, roomID string) {
	cleared, err := c.presence.Clear(ctx, roomID)
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to clear presence of closed room")
		return
	}

	for _, e := range cleared {
		c.accrue(ctx, e.UserID, e.JoinedAt)
		c.send(ctx, e.ConnectionID, EventRoomClosed, RoomClosedPayload{RoomID: roomID})
		if err := c.gateway.Disconnect(ctx, e.ConnectionID, WsCloseCodeRoomClosed, closeReason(WsCloseCodeRoomClosed)); err != nil {
			c.logger.Warn().Err(err).Str("conn_id", e.ConnectionID).Msg("Failed to close connection of closed room")
		}
	}

	c.logger.Info().Str("room_id", roomID).Int("evicted", len(cleared)).Msg("Room closed.")
}

// kick removes a member at the Host's request and blocks them from rejoining.
func (c *Coordinator) kick(ctx context.Context, s *Session, raw json.RawMessage) *errs.CustomError {
	if _, _, cerr := c.liveMembers(ctx, s); cerr != nil {
		return cerr
	}

	var p KickPayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}
	if p.TargetUserID == "" || p.TargetUserID == s.UserID() {
		return errs.NewError(errs.ErrInvalidPayload)
	}

	roomID := s.roomID
	err := retryConflict(func() error {
		r, err := c.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if !r.IsHost(s.UserID()) {
			return errs.NewError(errs.ErrNotHost)
		}
		if _, ok := r.Member(p.TargetUserID); !ok {
			return room.ErrNotMember
		}
		_, err = c.rooms.Kick(ctx, roomID, p.TargetUserID, r.Version)
		return err
	})
	if err != nil {
		return c.fail(err, "Kick failed")
	}

	bookkeeping := context.WithoutCancel(ctx)

	removed, err := c.presence.RemoveUser(bookkeeping, roomID, p.TargetUserID)
	if err != nil {
		s.logger.Error().Err(err).Str("target", p.TargetUserID).Msg("Failed to remove kicked user's presence")
	}
	if removed != nil {
		c.accrue(bookkeeping, removed.UserID, removed.JoinedAt)
		c.send(bookkeeping, removed.ConnectionID, EventKicked, KickedPayload{})
		if err := c.gateway.Disconnect(bookkeeping, removed.ConnectionID, WsCloseCodeKicked, closeReason(WsCloseCodeKicked)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close kicked connection")
		}
	}

	s.logger.Info().Str("target", p.TargetUserID).Msg("Member kicked.")

	remaining, err := c.presence.Members(bookkeeping, roomID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read presence after kick")
		return nil
	}
	c.fanout(bookkeeping, remaining, "", EventDisconnectMember, UserRefPayload{UserID: p.TargetUserID})
	c.sendPresence(bookkeeping, remaining)
	return nil
}
