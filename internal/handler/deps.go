package handler

import (
	"context"

	"knitroom/internal/app/chat"
	"knitroom/internal/app/hub"
	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/app/storage"
	"knitroom/internal/app/user"
	"knitroom/internal/configs"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/passwd"
)

type AppDeps struct {
	Config      *configs.AppConfig
	Coordinator *chat.Coordinator
	Hub         *hub.Hub
	Rooms       room.Repository
	Users       user.Repository
	Presence    presence.Store
	Hasher      passwd.Hasher
	Verifier    *jwt.Verifier

	// Storage is nil when S3 is not configured.
	Storage storage.StorageService
}

// assetURL turns a stored object key into a presigned download URL.
// It returns "" for empty keys, or when storage is unavailable.
func (d *AppDeps) assetURL(ctx context.Context, key string) string {
	if key == "" || d.Storage == nil {
		return ""
	}

	url, err := d.Storage.PresignDownload(ctx, key, storage.DownloadURLDuration)
	if err != nil {
		logx.Error(err, "Failed to presign asset download", "key", key)
		return ""
	}
	return url
}
