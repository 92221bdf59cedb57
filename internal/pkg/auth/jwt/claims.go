package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims accepted by the server.
// Tokens are minted by the external sign-in flow; this service only verifies them.
type Payload struct {
	// StandardClaims embeds Exp, Iat, Iss and friends used for validity checks.
	jwt.StandardClaims

	// UserID is the durable identifier of the signed-in user.
	UserID string `json:"userId"`

	// Provider names the identity provider the user signed in with (e.g. "google", "naver").
	Provider string `json:"provider,omitempty"`
}
