/*
Package chat contains the real-time session coordinator: the per-connection state
machine, the handlers for inbound websocket events, and the websocket client pumps.

This file defines the frame envelope and every inbound and outbound payload.
*/
package chat

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"knitroom/internal/app/presence"
	"knitroom/internal/pkg/errs"
)

// EventType names a websocket frame.
type EventType string

// Inbound events.
const (
	EventJoin          EventType = "join"
	EventLeave         EventType = "leave"
	EventBroadcast     EventType = "broadcast"
	EventDirectMessage EventType = "direct-message"
	EventKick          EventType = "kick"
	EventOffer         EventType = "offer"
	EventAnswer        EventType = "answer"
	EventICECandidate  EventType = "ice-candidate"
)

// Outbound events. Signaling events reuse their inbound names.
const (
	EventWelcome          EventType = "welcome"
	EventBye              EventType = "bye"
	EventNewMessage       EventType = "new-message"
	EventPresenceInfo     EventType = "presence-info"
	EventRoomInfo         EventType = "room-info"
	EventNewUser          EventType = "new-user"
	EventDisconnectMember EventType = "disconnect-member"
	EventKicked           EventType = "kicked"
	EventRoomClosed       EventType = "room-closed"
	EventError            EventType = "error"
)

// Scope tells a chat recipient how a message was addressed.
type Scope string

const (
	ScopeRoom   Scope = "room"
	ScopeDirect Scope = "direct"
)

// Envelope is the wire shape of every frame.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sender describes who originated a message.
type Sender struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
}

// JoinPayload is the body of an inbound join.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

// BroadcastPayload is the body of an inbound broadcast.
type BroadcastPayload struct {
	Content string `json:"content"`
}

// DirectMessagePayload is the body of an inbound direct-message.
type DirectMessagePayload struct {
	RecipientUserID string `json:"recipientUserId"`
	Content         string `json:"content"`
}

// KickPayload is the body of an inbound kick.
type KickPayload struct {
	TargetUserID string `json:"targetUserId"`
}

// DescriptionPayload is the body of an inbound offer or answer.
type DescriptionPayload struct {
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

// CandidatePayload is the body of an inbound ice-candidate.
type CandidatePayload struct {
	Target string `json:"target"`
	webrtc.ICECandidateInit
}

// AnnouncementPayload is sent with welcome and bye.
type AnnouncementPayload struct {
	ID     string `json:"id"`
	Sender Sender `json:"sender"`
}

// ChatPayload is sent with new-message.
type ChatPayload struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Content   string `json:"content"`
	Scope     Scope  `json:"scope"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceMember is one live member inside presence-info.
type PresenceMember struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Level    int    `json:"level"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"`
}

// PresenceInfoPayload lists the room from the recipient's point of view.
type PresenceInfoPayload struct {
	Self   PresenceMember   `json:"self"`
	Others []PresenceMember `json:"others"`
}

// RoomInfoPayload describes the joined room.
type RoomInfoPayload struct {
	RoomID      string `json:"roomId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
	Capacity    int    `json:"capacity"`
}

// UserRefPayload is sent with new-user and disconnect-member.
type UserRefPayload struct {
	UserID string `json:"userId"`
}

// KickedPayload is sent to a kicked connection before it is closed.
type KickedPayload struct{}

// RoomClosedPayload is sent when the room was deleted.
type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
}

// SessionDescriptionPayload is a relayed offer or answer.
type SessionDescriptionPayload struct {
	webrtc.SessionDescription
	SenderID string `json:"senderId"`
}

// ICECandidatePayload is a relayed ice-candidate.
type ICECandidatePayload struct {
	webrtc.ICECandidateInit
	SenderID string `json:"senderId"`
}

// ErrorPayload is sent with error.
type ErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

// encodeFrame marshals an outbound frame.
func encodeFrame(t EventType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: body})
}

func presenceMember(e presence.Entry) PresenceMember {
	return PresenceMember{
		UserID:   e.UserID,
		Name:     e.Name,
		Avatar:   e.Avatar,
		Level:    e.Level,
		IsHost:   e.IsHost,
		JoinedAt: e.JoinedAt.UnixMilli(),
	}
}

func senderOf(e presence.Entry) Sender {
	return Sender{UserID: e.UserID, DisplayName: e.Name, IsHost: e.IsHost}
}
