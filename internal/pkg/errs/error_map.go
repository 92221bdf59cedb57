/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
websocket error frames, HTTP responses, and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[Code]CustomError{
	ErrInvalidParams:         {Code: ErrInvalidParams, Kind: KindClient, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Kind: KindClient, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Kind: KindClient, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Kind: KindClient, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Kind: KindClient, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrInvalidPayload:        {Code: ErrInvalidPayload, Kind: KindClient, Message: "Invalid message payload."},
	ErrUnknownEvent:          {Code: ErrUnknownEvent, Kind: KindClient, Message: "Unsupported message type: %s."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Kind: KindClient, Message: "Message is too long."},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Kind: KindClient, Message: "File is too large.", Status: http.StatusBadRequest},
	ErrFileTypeInvalid:       {Code: ErrFileTypeInvalid, Kind: KindClient, Message: "Unsupported file type.", Status: http.StatusBadRequest},

	ErrRoomNotFound:     {Code: ErrRoomNotFound, Kind: KindDomain, Message: "Room not found.", Status: http.StatusNotFound},
	ErrAlreadyJoined:    {Code: ErrAlreadyJoined, Kind: KindDomain, Message: "You are already in a room."},
	ErrMissingPassword:  {Code: ErrMissingPassword, Kind: KindDomain, Message: "This room requires a password."},
	ErrBadPassword:      {Code: ErrBadPassword, Kind: KindDomain, Message: "Incorrect room password."},
	ErrRoomIsFull:       {Code: ErrRoomIsFull, Kind: KindDomain, Message: "This room is full."},
	ErrBlocked:          {Code: ErrBlocked, Kind: KindDomain, Message: "You can no longer join this room."},
	ErrNotHost:          {Code: ErrNotHost, Kind: KindDomain, Message: "Only the host can do that."},
	ErrNotAMember:       {Code: ErrNotAMember, Kind: KindDomain, Message: "That user is not a member of this room."},
	ErrTargetNotFound:   {Code: ErrTargetNotFound, Kind: KindDomain, Message: "That user is not connected to this room."},
	ErrNotInRoom:        {Code: ErrNotInRoom, Kind: KindDomain, Message: "Join a room first."},
	ErrRoomTitleInvalid: {Code: ErrRoomTitleInvalid, Kind: KindClient, Message: "Room title must be between 1 and %d characters.", Status: http.StatusBadRequest},

	ErrUnauthorized: {Code: ErrUnauthorized, Kind: KindClient, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrUserNotFound: {Code: ErrUserNotFound, Kind: KindDomain, Message: "Account not found.", Status: http.StatusNotFound},

	ErrConflict:          {Code: ErrConflict, Kind: KindConflict, Message: "The room changed while processing your request. Please try again.", Status: http.StatusConflict},
	ErrTransient:         {Code: ErrTransient, Kind: KindTransient, Message: "Service temporarily unavailable. Please try again.", Status: http.StatusServiceUnavailable},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Kind: KindTransient, Message: "File upload failed. Please try again.", Status: http.StatusBadGateway},
	ErrUnknown:           {Code: ErrUnknown, Kind: KindInternal, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
