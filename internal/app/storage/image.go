package storage

import (
	"path/filepath"
	"strings"
	"time"

	"knitroom/internal/pkg/errs"
)

const (
	// MaxImageSize is the maximum allowed image size in bytes (2 MiB).
	MaxImageSize = 2 * 1024 * 1024

	// PresignedURLDuration is the fixed duration for which an upload URL is valid.
	PresignedURLDuration = 5 * time.Minute

	// DownloadURLDuration is how long a presigned image URL handed to clients stays valid.
	DownloadURLDuration = time.Hour
)

// Object key folders.
const (
	FolderThumbnails = "thumbnails"
	FolderAvatars    = "avatars"
)

// extToMIME maps file extensions to their corresponding MIME types.
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateImage checks an intended upload and returns its lower-cased extension.
func ValidateImage(fileName, mimeType string, fileSize int64) (string, *errs.CustomError) {
	if fileSize <= 0 {
		return "", errs.NewError(errs.ErrInvalidParams)
	}
	if fileSize > MaxImageSize {
		return "", errs.NewError(errs.ErrFileSizeTooLarge)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expected, ok := extToMIME[ext]
	if !ok {
		return "", errs.NewError(errs.ErrFileTypeInvalid)
	}
	if expected != strings.ToLower(mimeType) {
		return "", errs.NewError(errs.ErrFileTypeInvalid)
	}

	return ext, nil
}

// IsImageType reports whether contentType is an accepted image MIME type.
func IsImageType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, mime := range extToMIME {
		if mime == contentType {
			return true
		}
	}
	return false
}
