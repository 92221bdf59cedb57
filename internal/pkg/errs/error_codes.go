/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally within the
server and in the error frames and HTTP responses sent to clients.
*/
package errs

// Code is the machine-readable error identifier surfaced to clients.
type Code string

// Kind classifies an error so handlers can decide whether to retry, report, or close.
type Kind int

const (
	// KindClient is a malformed or unsupported request.
	KindClient Kind = iota + 1

	// KindDomain is a rule violation such as a wrong password or a full room.
	KindDomain

	// KindConflict is an optimistic-concurrency failure that survived its retry.
	KindConflict

	// KindTransient is a collaborator timeout or outage; the caller may retry.
	KindTransient

	// KindInternal is an unexpected server fault.
	KindInternal
)

// Request handling errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams Code = "INVALID_PARAMS"

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat Code = "INVALID_JSON"

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody Code = "EXTRA_CONTENT"

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded Code = "RATE_LIMITED"

	// ErrInvalidPayload indicates that a websocket frame payload could not be decoded or validated.
	ErrInvalidPayload Code = "INVALID_PAYLOAD"

	// ErrUnknownEvent indicates an inbound websocket frame with an unsupported type.
	ErrUnknownEvent Code = "UNKNOWN_EVENT"

	// ErrMessageContentTooLong indicates that the chat content exceeded the maximum length.
	ErrMessageContentTooLong Code = "CONTENT_TOO_LONG"

	// ErrFileSizeTooLarge indicates an upload larger than the allowed size.
	ErrFileSizeTooLarge Code = "FILE_TOO_LARGE"

	// ErrFileTypeInvalid indicates an upload with an unsupported extension or MIME type.
	ErrFileTypeInvalid Code = "FILE_TYPE_INVALID"
)

// Room and membership errors
const (
	// ErrRoomNotFound indicates that the referenced room does not exist.
	ErrRoomNotFound Code = "ROOM_NOT_FOUND"

	// ErrAlreadyJoined indicates that the connection is already bound to a room.
	ErrAlreadyJoined Code = "ALREADY_JOINED"

	// ErrMissingPassword indicates a join to a private room without a password.
	ErrMissingPassword Code = "MISSING_PASSWORD"

	// ErrBadPassword indicates a join to a private room with the wrong password.
	ErrBadPassword Code = "BAD_PASSWORD"

	// ErrRoomIsFull indicates that the room has reached its live capacity.
	ErrRoomIsFull Code = "ROOM_FULL"

	// ErrBlocked indicates that the user was kicked from the room and may not rejoin.
	ErrBlocked Code = "BLOCKED"

	// ErrNotHost indicates a moderation request from a member without the Host role.
	ErrNotHost Code = "NOT_HOST"

	// ErrNotAMember indicates that the target user is not (or no longer) on the roster.
	ErrNotAMember Code = "NOT_A_MEMBER"

	// ErrTargetNotFound indicates that the addressed user has no live connection in the room.
	ErrTargetNotFound Code = "TARGET_NOT_FOUND"

	// ErrNotInRoom indicates a room-scoped event from a connection that has not joined.
	ErrNotInRoom Code = "NOT_IN_ROOM"

	// ErrRoomTitleInvalid indicates a room creation request with an empty or oversized title.
	ErrRoomTitleInvalid Code = "ROOM_TITLE_INVALID"
)

// Session and identity errors
const (
	// ErrUnauthorized indicates a missing, invalid, or expired credential.
	ErrUnauthorized Code = "UNAUTHORIZED"

	// ErrUserNotFound indicates that the authenticated user has no profile.
	ErrUserNotFound Code = "USER_NOT_FOUND"
)

// Consistency and system errors
const (
	// ErrConflict indicates that a concurrent mutation invalidated the read a request acted on.
	ErrConflict Code = "CONFLICT"

	// ErrTransient indicates a store timeout or outage; the same action may be retried.
	ErrTransient Code = "TRANSIENT"

	// ErrFileStorageFailed indicates that the object storage could not serve the request.
	ErrFileStorageFailed Code = "STORAGE_FAILED"

	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown Code = "UNKNOWN"
)
