/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, authenticating
the caller, upgrading the HTTP connection to WebSocket, and initiating the client lifecycle.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"knitroom/internal/app/chat"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/limiter"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/randx"
	"knitroom/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The token is read from the "token" query parameter, falling back to the Authorization header.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			token = jwt.BearerToken(r.Header.Get("Authorization"))
		}

		connID := randx.ConnectionID()
		session, cerr := deps.Coordinator.Connect(r.Context(), connID, token)
		if cerr != nil {
			logx.Info("WebSocket connection rejected.", "code", string(cerr.Code))
			resp.RespondError(w, r, cerr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, session, deps.Coordinator)
		deps.Hub.Register(client)

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered", "conn_id", connID, "user_id", session.UserID())

		client.ReadPump(r.Context(), func() {
			deps.Hub.Unregister(client)
		})
	}
}
