// Package blob stores chat attachments.
package blob

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"mscolab/api/internal/apperr"
)

type Info struct {
	Key         string
	Size        int64
	ContentType string
}

// Store keeps attachment bodies by key. Missing keys are InvalidReference.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Delete(ctx context.Context, key string) error
}

// ValidKey rejects keys that could escape the store's namespace.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return apperr.MalformedInput("invalid attachment key %q", key)
	}
	if path.Clean(key) != key {
		return apperr.MalformedInput("invalid attachment key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return apperr.MalformedInput("invalid attachment key %q", key)
		}
	}
	return nil
}

func contentTypeFor(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func notFound(key string) error {
	return apperr.InvalidReference("attachment %s not found", key)
}
