package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalStore keeps recordings as files under one directory.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

// Put writes to a temp file first so readers never see a partial recording.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (Object, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp video: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write video: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return Object{}, fmt.Errorf("commit video: %w", err)
	}

	s.logger.Info("video stored", zap.String("key", key), zap.Int64("bytes", n))
	obj, err := s.Stat(context.Background(), key)
	if err != nil {
		return Object{}, err
	}
	if contentType != "" {
		obj.ContentType = contentType
	}
	return obj, nil
}

func (s *LocalStore) Stat(_ context.Context, key string) (Object, error) {
	info, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, notFound("video.Stat")
	}
	if err != nil {
		return Object{}, fmt.Errorf("stat video: %w", err)
	}
	return Object{Key: key, Size: info.Size(), ContentType: ContentType, ModTime: info.ModTime()}, nil
}

// Open returns an *os.File, which is seekable.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	obj, err := s.Stat(ctx, key)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, Object{}, fmt.Errorf("open video: %w", err)
	}
	return f, obj, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound("video.Delete")
	}
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	s.logger.Info("video deleted", zap.String("key", key))
	return nil
}
