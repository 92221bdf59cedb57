package handler

import (
	"net/http"

	"knitroom/internal/app/storage"
	"knitroom/internal/pkg/auth/jwt"
	"knitroom/internal/pkg/errs"
	"knitroom/internal/pkg/logx"
	"knitroom/internal/pkg/randx"
	"knitroom/internal/pkg/req"
	"knitroom/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignThumbnail issues an upload URL for a room thumbnail owned by the caller.
func HandlePresignThumbnail(deps *AppDeps) http.HandlerFunc {
	return handlePresignImage(deps, storage.FolderThumbnails)
}

// HandlePresignAvatar issues an upload URL for the caller's avatar.
func HandlePresignAvatar(deps *AppDeps) http.HandlerFunc {
	return handlePresignImage(deps, storage.FolderAvatars)
}

// handlePresignImage creates an HTTP HandlerFunc to generate a time-limited,
// pre-signed URL for an image upload under folder, scoped to the caller.
func handlePresignImage(deps *AppDeps, folder string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := jwt.UserIDFromContext(r.Context())

		if deps.Storage == nil {
			logx.Warn("Presign requested but storage is not configured", "folder", folder)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ext, customErr := storage.ValidateImage(input.FileName, input.MimeType, input.FileSize)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		fileKey := randx.ObjectKey(folder, userID, ext)

		url, err := deps.Storage.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			storage.PresignedURLDuration,
		)
		if err != nil {
			logx.Error(err, "Failed to presign upload", "key", fileKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		data := map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		}
		resp.RespondSuccess(w, r, data)
	}
}
