package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	uploadPrefix     = "uploads/"
	defaultExtension = "png"
	maxExtensionLen  = 8
)

// UploadPrefix returns the key prefix reserved for a user's uploads.
func UploadPrefix(userID string) string {
	return uploadPrefix + userID + "/"
}

// UploadKey returns a fresh object key for a user's upload. The extension is
// taken from filename and defaults to png.
func UploadKey(userID, filename string) string {
	return UploadPrefix(userID) + uuid.NewString() + "." + extension(filename)
}

// OwnsKey reports whether key lies inside the user's upload prefix.
func OwnsKey(userID, key string) bool {
	if userID == "" || strings.Contains(key, "..") {
		return false
	}
	prefix := UploadPrefix(userID)
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}

func extension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || len(ext) > maxExtensionLen {
		return defaultExtension
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExtension
		}
	}
	return ext
}
