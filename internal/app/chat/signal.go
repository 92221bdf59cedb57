package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"knitroom/internal/app/presence"
	"knitroom/internal/pkg/errs"
)

// signalTarget resolves a signaling target to its live entry in the caller's room.
func (c *Coordinator) signalTarget(ctx context.Context, s *Session, target string) (presence.Entry, *errs.CustomError) {
	members, _, cerr := c.liveMembers(ctx, s)
	if cerr != nil {
		return presence.Entry{}, cerr
	}
	if target == "" || target == s.UserID() {
		return presence.Entry{}, errs.NewError(errs.ErrInvalidPayload)
	}

	for _, e := range members {
		if e.UserID == target {
			return e, nil
		}
	}
	return presence.Entry{}, errs.NewError(errs.ErrTargetNotFound)
}

// relayDescription forwards an SDP offer or answer to one peer.
func (c *Coordinator) relayDescription(ctx context.Context, s *Session, t EventType, raw json.RawMessage) *errs.CustomError {
	var p DescriptionPayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(p.SDP)); err != nil {
		s.logger.Debug().Err(err).Str("msg_type", string(t)).Msg("Rejected malformed SDP")
		return errs.NewError(errs.ErrInvalidPayload)
	}

	target, cerr := c.signalTarget(ctx, s, p.Target)
	if cerr != nil {
		return cerr
	}

	sdpType := webrtc.SDPTypeOffer
	if t == EventAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}

	c.send(ctx, target.ConnectionID, t, SessionDescriptionPayload{
		SessionDescription: webrtc.SessionDescription{Type: sdpType, SDP: p.SDP},
		SenderID:           s.UserID(),
	})
	return nil
}

// relayCandidate forwards a trickled ICE candidate to one peer. An empty candidate
// marks the end of gathering and is relayed as is.
func (c *Coordinator) relayCandidate(ctx context.Context, s *Session, raw json.RawMessage) *errs.CustomError {
	var p CandidatePayload
	if cerr := decode(raw, &p); cerr != nil {
		return cerr
	}
	if p.Candidate != "" && !strings.HasPrefix(p.Candidate, "candidate:") {
		return errs.NewError(errs.ErrInvalidPayload)
	}

	target, cerr := c.signalTarget(ctx, s, p.Target)
	if cerr != nil {
		return cerr
	}

	c.send(ctx, target.ConnectionID, EventICECandidate, ICECandidatePayload{
		ICECandidateInit: p.ICECandidateInit,
		SenderID:         s.UserID(),
	})
	return nil
}
