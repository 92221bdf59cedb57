/*
Package randx generates identifiers: message and connection ids, and object storage keys.
*/
package randx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConnectionIDPrefix marks connection ids so they are easy to tell apart from user ids in logs.
const ConnectionIDPrefix = "conn_"

// MessageID generates a UUID v4 string that uniquely identifies an outbound message.
func MessageID() string {
	return uuid.New().String()
}

// ConnectionID generates a unique identifier for a websocket connection.
func ConnectionID() string {
	return ConnectionIDPrefix + uuid.New().String()
}

// ObjectKey builds an object storage key "<folder>/<owner>/<uuid><ext>".
// ext is lower-cased and must include the leading dot.
func ObjectKey(folder, owner, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", folder, owner, uuid.New().String(), strings.ToLower(ext))
}

// HasObjectPrefix reports whether key was produced by ObjectKey for folder and owner.
func HasObjectPrefix(key, folder, owner string) bool {
	return strings.HasPrefix(key, fmt.Sprintf("%s/%s/", folder, owner))
}
