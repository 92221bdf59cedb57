package chat

import (
	"context"
	"encoding/json"
	"strings"

	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/randx"
)

func validateContent(content string) *errs.CustomError {
	if strings.TrimSpace(content) == "" {
		return errs.NewError(errs.ErrInvalidPayload)
	}
	if len(content) > MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}
	return nil
}

// broadcast sends a chat message to everyone in the room, the sender included.
func (c *Coordinator) broadcast(ctx context.Context, s *Session, raw json.RawMessage) *errs.CustomError {
	members, self, cerr := c.liveMembers(ctx, s)
	if cerr != nil {
		return cerr
	}

	var p BroadcastPayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}
	if cerr := validateContent(p.Content); cerr != nil {
		return cerr
	}

	c.fanout(ctx, members, "", EventNewMessage, ChatPayload{
		ID:        randx.MessageID(),
		Sender:    senderOf(self),
		Content:   p.Content,
		Scope:     ScopeRoom,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// directMessage delivers to one live member and echoes to the sender. A recipient
// who is not live in the room is dropped silently.
func (c *Coordinator) directMessage(ctx context.Context, s *Session, raw json.RawMessage) *errs.CustomError {
	members, self, cerr := c.liveMembers(ctx, s)
	if cerr != nil {
		return cerr
	}

	var p DirectMessagePayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}
	if p.RecipientUserID == "" {
		return errs.NewError(errs.ErrInvalidPayload)
	}
	if cerr := validateContent(p.Content); cerr != nil {
		return cerr
	}

	recipient := ""
	for _, e := range members {
		if e.UserID == p.RecipientUserID {
			recipient = e.ConnectionID
			break
		}
	}
	if recipient == "" {
		s.logger.Info().Str("recipient", p.RecipientUserID).Msg("Direct message recipient not in room; dropped")
		return nil
	}

	msg := ChatPayload{
		ID:        randx.MessageID(),
		Sender:    senderOf(self),
		Content:   p.Content,
		Scope:     ScopeDirect,
		Timestamp: c.now().UnixMilli(),
	}

	c.send(ctx, recipient, EventNewMessage, msg)
	if recipient != s.ID {
		c.send(ctx, s.ID, EventNewMessage, msg)
	}
	return nil
}
