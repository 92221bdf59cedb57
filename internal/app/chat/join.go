package chat

import (
	"context"
	"encoding/json"
	"errors"

	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/randx"
)

func (c *Coordinator) join(ctx context.Context, s *Session, raw json.RawMessage) *errs.CustomError {
	if s.state == StateInRoom {
		return errs.NewError(errs.ErrAlreadyJoined)
	}

	var p JoinPayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}
	if p.RoomID == "" {
		return errs.NewError(errs.ErrInvalidPayload)
	}

	uid := s.UserID()
	now := c.now()

	// Refresh the cached profile so presence shows the current level.
	if fresh, err := c.users.Get(ctx, uid); err == nil {
		s.profile = fresh
	} else {
		s.logger.Warn().Err(err).Msg("Using cached profile for join")
	}

	var (
		current  *room.Room
		appended bool
	)
	err := retryConflict(func() error {
		r, err := c.rooms.Get(ctx, p.RoomID)
		if err != nil {
			return err
		}
		current = r

		if r.IsBlocked(uid) {
			return room.ErrBlocked
		}
		if _, ok := r.Member(uid); ok {
			return nil
		}

		if r.IsPrivate {
			if p.Password == "" {
				return errs.NewError(errs.ErrMissingPassword)
			}
			if !c.hasher.Verify(p.Password, r.PasswordDigest) {
				return errs.NewError(errs.ErrBadPassword)
			}
		}

		// Reject before touching the roster when the room is visibly full.
		live, err := c.presence.Count(ctx, p.RoomID)
		if err != nil {
			return err
		}
		if live >= c.settings.Capacity {
			return presence.ErrRoomFull
		}

		role := room.RoleMember
		if len(r.Roster) == 0 {
			role = room.RoleHost
		}

		updated, err := c.rooms.AddMember(ctx, p.RoomID, room.Membership{UserID: uid, Role: role, JoinedAt: now}, r.Version)
		if err != nil {
			return err
		}
		current = updated
		appended = true
		return nil
	})
	if err != nil {
		return c.fail(err, "Join failed")
	}

	entry := presence.Entry{
		UserID:       uid,
		ConnectionID: s.ID,
		Name:         s.profile.Name,
		Avatar:       s.profile.Avatar,
		Level:        s.profile.Level,
		JoinedAt:     now,
		IsHost:       current.IsHost(uid),
	}

	replaced, err := c.presence.Add(ctx, p.RoomID, entry, c.settings.Capacity)
	if err != nil {
		if appended {
			c.rollbackMember(context.WithoutCancel(ctx), p.RoomID, uid)
		}
		return c.fail(err, "Failed to record presence")
	}

	if replaced != nil && replaced.ConnectionID != s.ID {
		s.logger.Warn().
			Str("replaced_conn_id", replaced.ConnectionID).
			Msg("User already connected. Closing old connection for replacement.")

		c.accrue(ctx, uid, replaced.JoinedAt)
		if err := c.gateway.Disconnect(ctx, replaced.ConnectionID, WsCloseCodeSessionReplaced, closeReason(WsCloseCodeSessionReplaced)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close replaced connection")
		}
	}

	// A kick or room deletion may have committed after the room was read above.
	// Its presence cleanup ran before our insert, so the roster is checked again.
	fresh, cerr := c.confirmMembership(ctx, s, p.RoomID, appended)
	if cerr != nil {
		return cerr
	}
	current = fresh
	if isHost := current.IsHost(uid); isHost != entry.IsHost {
		entry.IsHost = isHost
		if err := c.presence.SetHost(ctx, p.RoomID, uid, isHost); err != nil {
			s.logger.Error().Err(err).Msg("Failed to correct host flag after join")
		}
	}

	s.enterRoom(p.RoomID, now)

	members, err := c.presence.Members(ctx, p.RoomID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read presence after join")
		members = []presence.Entry{entry}
	}

	s.logger.Info().
		Bool("is_host", entry.IsHost).
		Int("total_users", len(members)).
		Msg("Client joined room.")

	c.fanout(ctx, members, "", EventWelcome, AnnouncementPayload{ID: randx.MessageID(), Sender: senderOf(entry)})
	c.fanout(ctx, members, s.ID, EventNewUser, UserRefPayload{UserID: uid})
	c.send(ctx, s.ID, EventRoomInfo, RoomInfoPayload{
		RoomID:      current.ID,
		Title:       current.Title,
		Description: current.Description,
		Thumbnail:   current.Thumbnail,
		IsPrivate:   current.IsPrivate,
		Capacity:    c.settings.Capacity,
	})
	c.sendPresence(ctx, members)

	return nil
}

// confirmMembership re-reads the room after the presence insert. When the room is
// gone, or uid was blocked or dropped from the roster meanwhile, the entry written
// for s is withdrawn and the join fails.
func (c *Coordinator) confirmMembership(ctx context.Context, s *Session, roomID string, appended bool) (*room.Room, *errs.CustomError) {
	uid := s.UserID()

	r, err := c.rooms.Get(ctx, roomID)
	if err == nil {
		switch {
		case r.IsBlocked(uid):
			err = room.ErrBlocked
		default:
			if _, ok := r.Member(uid); !ok {
				err = room.ErrNotMember
			}
		}
	}
	if err == nil {
		return r, nil
	}

	bookkeeping := context.WithoutCancel(ctx)
	if _, rmErr := c.presence.Remove(bookkeeping, roomID, s.ID); rmErr != nil {
		s.logger.Error().Err(rmErr).Msg("Failed to withdraw presence entry of aborted join")
	}
	if appended && !errors.Is(err, room.ErrNotFound) && !errors.Is(err, room.ErrBlocked) && !errors.Is(err, room.ErrNotMember) {
		c.rollbackMember(bookkeeping, roomID, uid)
	}

	s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Room changed during join")
	return nil, c.fail(err, "Failed to confirm membership after join")
}

// rollbackMember undoes a roster append whose presence insert failed.
func (c *Coordinator) rollbackMember(ctx context.Context, roomID, userID string) {
	err := retryConflict(func() error {
		r, err := c.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if _, ok := r.Member(userID); !ok || r.IsHost(userID) {
			return nil
		}
		_, err = c.rooms.RemoveMember(ctx, roomID, userID, r.Version)
		return err
	})
	if err != nil && !errors.Is(err, room.ErrNotFound) && !errors.Is(err, room.ErrNotMember) {
		c.logger.Error().Err(err).Str("room_id", roomID).Str("user_id", userID).Msg("Failed to roll back roster append")
	}
}
