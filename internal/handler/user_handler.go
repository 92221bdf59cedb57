/*
Package handler provides HTTP handler functions for the signed-in user's profile.
*/
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"knitroom/internal/app/storage"
	"knitroom/internal/app/user"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/randx"
	"knitroom/internal/pkg/req"
	"knitroom/internal/pkg/resp"
)

const MaxNameLength = 40

type UpdateProfileInput struct {
	Name      *string `json:"name,omitempty"`
	AvatarKey *string `json:"avatarKey,omitempty"`
}

// UserView is the REST representation of a profile.
type UserView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Avatar     string  `json:"avatar,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	Level      int     `json:"level"`
	Experience float64 `json:"experience"`
}

func (d *AppDeps) userView(ctx context.Context, u user.User) UserView {
	return UserView{
		ID:         u.ID,
		Name:       u.Name,
		Avatar:     d.assetURL(ctx, u.Avatar),
		Provider:   u.Provider,
		Level:      u.Level,
		Experience: u.Experience,
	}
}

func respondUserError(w http.ResponseWriter, r *http.Request, err error, userID string) {
	if errors.Is(err, user.ErrNotFound) {
		resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
		return
	}
	logx.Error(err, "User store failure", "user_id", userID)
	resp.RespondError(w, r, errs.From(err))
}

// HandleGetMe returns the caller's profile.
func HandleGetMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := jwt.UserIDFromContext(r.Context())

		u, err := deps.Users.Get(r.Context(), userID)
		if err != nil {
			respondUserError(w, r, err, userID)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": deps.userView(r.Context(), u),
		})
	}
}

// HandleUpdateMe changes the caller's display name and/or avatar.
// A new avatar must be an uploaded image under the caller's avatar folder.
func HandleUpdateMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := jwt.UserIDFromContext(r.Context())

		var input UpdateProfileInput
		if err := req.BindJSON(w, r, &input); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		current, err := deps.Users.Get(r.Context(), userID)
		if err != nil {
			respondUserError(w, r, err, userID)
			return
		}

		name := current.Name
		if input.Name != nil {
			name = strings.TrimSpace(*input.Name)
			if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
		}

		avatarKey := current.Avatar
		if input.AvatarKey != nil && *input.AvatarKey != current.Avatar {
			avatarKey = *input.AvatarKey
			if avatarKey != "" {
				if customErr := deps.checkAvatar(r.Context(), userID, avatarKey); customErr != nil {
					resp.RespondError(w, r, customErr)
					return
				}
			}
		}

		updated, err := deps.Users.UpdateProfile(r.Context(), userID, name, avatarKey)
		if err != nil {
			respondUserError(w, r, err, userID)
			return
		}

		oldKey := current.Avatar
		if deps.Storage != nil && oldKey != "" && oldKey != avatarKey {
			go func(k string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := deps.Storage.Delete(ctx, k); err != nil {
					logx.Warn("Failed to delete replaced avatar", "key", k, "error", err.Error())
				}
			}(oldKey)
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": deps.userView(r.Context(), updated),
		})
	}
}

// checkAvatar verifies that key was issued to userID and points to an uploaded image.
func (d *AppDeps) checkAvatar(ctx context.Context, userID, key string) *errs.CustomError {
	if !randx.HasObjectPrefix(key, storage.FolderAvatars, userID) {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if d.Storage == nil {
		return errs.NewError(errs.ErrFileStorageFailed)
	}

	info, err := d.Storage.Stat(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if err != nil {
		logx.Error(err, "Failed to stat avatar object", "key", key)
		return errs.NewError(errs.ErrFileStorageFailed)
	}

	if !storage.IsImageType(info.ContentType) {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}
	if info.Size > storage.MaxImageSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}
	return nil
}
