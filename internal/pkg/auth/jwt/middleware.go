package jwt

import (
	"context"
	"net/http"

	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/resp"
)

type contextKey string

const (
	// ContextUserIDKey is the key used to store the verified user id in the request Context.
	ContextUserIDKey contextKey = "auth_user_id"
)

// RequireIdentity rejects requests without a valid bearer token with ErrUnauthorized
// and stores the verified user id in the request Context otherwise.
func RequireIdentity(verifier *Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				logx.Warn("Rejected request with invalid bearer token", "path", r.URL.Path, "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), ContextUserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the user id stored by RequireIdentity, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ContextUserIDKey).(string)
	return userID
}
