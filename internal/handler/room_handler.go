/*
Package handler provides HTTP handler functions for creating, listing and inspecting rooms.
*/
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"knitroom/internal/app/room"
	"knitroom/internal/app/storage"
	"knitroom/internal/app/user"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/randx"
	"knitroom/internal/pkg/req"
	"knitroom/internal/pkg/resp"
)

const (
	MaxRoomTitleLength       = 60
	MaxRoomDescriptionLength = 500
)

type CreateRoomInput struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	IsPrivate    bool   `json:"isPrivate"`
	Password     string `json:"password,omitempty"`
	ThumbnailKey string `json:"thumbnailKey,omitempty"`
}

// RoomView is the REST representation of a room.
type RoomView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
	Knitters    int    `json:"knitters"`
	Online      int    `json:"online"`
	Capacity    int    `json:"capacity"`
}

func (d *AppDeps) roomView(r *http.Request, s room.Summary) RoomView {
	online, err := d.Presence.Count(r.Context(), s.ID)
	if err != nil {
		logx.Error(err, "Failed to count room presence", "room_id", s.ID)
	}

	return RoomView{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Thumbnail:   d.assetURL(r.Context(), s.Thumbnail),
		IsPrivate:   s.IsPrivate,
		Knitters:    s.Knitters,
		Online:      online,
		Capacity:    d.Config.RoomCapacity,
	}
}

// HandleCreateRoom creates a room whose creator is its Host.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := jwt.UserIDFromContext(r.Context())

		var input CreateRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		title := strings.TrimSpace(input.Title)
		if title == "" || utf8.RuneCountInString(title) > MaxRoomTitleLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomTitleInvalid, MaxRoomTitleLength))
			return
		}

		description := strings.TrimSpace(input.Description)
		if utf8.RuneCountInString(description) > MaxRoomDescriptionLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if input.ThumbnailKey != "" && !randx.HasObjectPrefix(input.ThumbnailKey, storage.FolderThumbnails, userID) {
			logx.Warn("Rejected foreign thumbnail key", "user_id", userID, "key", input.ThumbnailKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if _, err := deps.Users.Get(r.Context(), userID); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}
			logx.Error(err, "Failed to load room creator", "user_id", userID)
			resp.RespondError(w, r, errs.From(err))
			return
		}

		var digest string
		if input.IsPrivate {
			if input.Password == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrMissingPassword))
				return
			}

			hashed, err := deps.Hasher.Hash(input.Password)
			if err != nil {
				logx.Error(err, "Failed to hash room password")
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			digest = hashed
		}

		now := time.Now()
		created, err := deps.Rooms.Create(r.Context(), &room.Room{
			Title:          title,
			Description:    description,
			Thumbnail:      input.ThumbnailKey,
			IsPrivate:      input.IsPrivate,
			PasswordDigest: digest,
			CreatedBy:      userID,
			Roster:         []room.Membership{{UserID: userID, Role: room.RoleHost, JoinedAt: now}},
			CreatedAt:      now,
		})
		if err != nil {
			logx.Error(err, "Failed to create room", "user_id", userID)
			resp.RespondError(w, r, errs.From(err))
			return
		}

		logx.Info("Room created", "room_id", created.ID, "host_id", userID, "private", created.IsPrivate)
		resp.RespondStatus(w, r, http.StatusCreated, deps.roomView(r, created.Summary()))
	}
}

// HandleListRooms lists every room with its roster size and live presence count.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := deps.Rooms.List(r.Context())
		if err != nil {
			logx.Error(err, "Failed to list rooms")
			resp.RespondError(w, r, errs.From(err))
			return
		}

		views := make([]RoomView, 0, len(summaries))
		for _, s := range summaries {
			views = append(views, deps.roomView(r, s))
		}

		resp.RespondSuccess(w, r, map[string]any{
			"rooms": views,
		})
	}
}

// HandleGetRoom returns a single room summary.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		found, err := deps.Rooms.Get(r.Context(), roomID)
		if errors.Is(err, room.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		}
		if err != nil {
			logx.Error(err, "Failed to load room", "room_id", roomID)
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, deps.roomView(r, found.Summary()))
	}
}
