// Package video stores finalized interview recordings.
package video

import (
	"context"
	"io"
	"regexp"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
)

// ContentType is what recordings are stored and served as.
const ContentType = "video/webm"

// Object describes a stored recording.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store is the recording backend behind /api/videos.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error)
	Stat(ctx context.Context, key string) (Object, error)
	// Open returns the recording body. Bodies that also implement
	// io.ReadSeeker are served with range support.
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// KeyFor maps a session or upload id to its object key.
func KeyFor(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", apperr.InvalidInput("video.KeyFor", "invalid video id")
	}
	return "interview-" + id + ".webm", nil
}

func notFound(op string) error {
	return apperr.NotFound(op, "video not found")
}
