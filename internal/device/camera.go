package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/capture"
)

const (
	defaultFFmpeg  = "ffmpeg"
	startupGrace   = 500 * time.Millisecond
	videoFilename  = "session.webm"
	videoMediaType = "video/webm"
)

// CameraOptions configures the ffmpeg webcam capture. The session video is
// silent unless AudioSource names a Pulse source to mux in.
type CameraOptions struct {
	Device      string
	Format      string
	AudioSource string
	TempDir     string
	FFmpeg      string
	Logger      *zap.Logger
}

// Camera is a video input backed by an ffmpeg child process per recorder.
type Camera struct {
	opts CameraOptions

	mu     sync.Mutex
	closed bool
	active *ffmpegRecorder
}

// OpenCamera checks that ffmpeg and the device are usable.
func OpenCamera(_ context.Context, opts CameraOptions) (*Camera, error) {
	if opts.FFmpeg == "" {
		opts.FFmpeg = defaultFFmpeg
	}
	if opts.Format == "" {
		opts.Format = "v4l2"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if _, err := exec.LookPath(opts.FFmpeg); err != nil {
		return nil, mediaError("camera.ffmpeg", fmt.Errorf("find %s: %w", opts.FFmpeg, err))
	}
	if strings.HasPrefix(opts.Device, "/dev/") {
		f, err := os.Open(opts.Device)
		if err != nil {
			return nil, mediaError("camera.open", err)
		}
		f.Close()
	}
	opts.Logger.Info("camera opened", zap.String("device", opts.Device), zap.String("format", opts.Format))
	return &Camera{opts: opts}, nil
}

// NewRecorder prepares a recorder writing to a fresh temp file.
func (c *Camera) NewRecorder() (capture.Recorder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("camera is closed")
	}
	f, err := os.CreateTemp(c.opts.TempDir, "interview-*.webm")
	if err != nil {
		return nil, fmt.Errorf("create video file: %w", err)
	}
	path := f.Name()
	f.Close()
	return &ffmpegRecorder{cam: c, path: path}, nil
}

// Close stops a recorder that is still running. Its partial file is left
// in place.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = active.Stop(ctx)
	}
	c.opts.Logger.Info("camera closed")
	return nil
}

func (c *Camera) args(path string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", c.opts.Format, "-i", c.opts.Device}
	if c.opts.AudioSource != "" {
		args = append(args, "-f", "pulse", "-i", c.opts.AudioSource, "-c:a", "libopus")
	}
	return append(args, "-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M", path)
}

type ffmpegRecorder struct {
	cam  *Camera
	path string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	done   chan error
	clip   *capture.Clip
}

func (r *ffmpegRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return errors.New("recorder already started")
	}

	cmd := exec.Command(r.cam.opts.FFmpeg, r.cam.args(r.path)...)
	cmd.Stderr = &r.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.Remove(r.path)
		return mediaError("camera.record", fmt.Errorf("start ffmpeg: %w", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// device errors make ffmpeg exit right away
	select {
	case err := <-done:
		msg := strings.TrimSpace(r.stderr.String())
		if err == nil {
			err = errors.New("ffmpeg exited immediately")
		}
		_ = os.Remove(r.path)
		return mediaError("camera.record", fmt.Errorf("%w: %s", err, msg))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = os.Remove(r.path)
		return ctx.Err()
	case <-time.After(startupGrace):
	}

	r.cmd, r.stdin, r.done = cmd, stdin, done
	r.cam.mu.Lock()
	r.cam.active = r
	r.cam.mu.Unlock()
	r.cam.opts.Logger.Debug("session video recording", zap.String("path", r.path))
	return nil
}

// Stop asks ffmpeg to finish the file by sending q, killing it if ctx ends
// first. A second Stop returns the first result.
func (r *ffmpegRecorder) Stop(ctx context.Context) (capture.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clip != nil {
		return *r.clip, nil
	}
	if r.cmd == nil {
		return capture.Clip{}, errors.New("recorder is not running")
	}

	_, _ = io.WriteString(r.stdin, "q")
	_ = r.stdin.Close()

	select {
	case err := <-r.done:
		if err != nil {
			r.cam.opts.Logger.Debug("ffmpeg exited", zap.Error(err), zap.String("stderr", r.stderr.String()))
		}
	case <-ctx.Done():
		_ = r.cmd.Process.Kill()
		<-r.done
		r.cam.opts.Logger.Warn("ffmpeg killed before finishing video", zap.Error(ctx.Err()))
	}

	r.cam.mu.Lock()
	if r.cam.active == r {
		r.cam.active = nil
	}
	r.cam.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return capture.Clip{}, fmt.Errorf("stat session video: %w", err)
	}
	if info.Size() == 0 {
		return capture.Clip{}, errors.New("session video is empty")
	}
	r.clip = &capture.Clip{Filename: videoFilename, ContentType: videoMediaType, Path: r.path}
	return *r.clip, nil
}

// LocalSink keeps the session video on disk under Dir.
type LocalSink struct {
	Dir string
}

// Save moves the clip to Dir/interview-<session>.webm.
func (s LocalSink) Save(_ context.Context, sessionID string, clip capture.Clip) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dst := filepath.Join(s.Dir, "interview-"+sessionID+filepath.Ext(clip.Filename))

	if clip.Path == "" {
		return dst, os.WriteFile(dst, clip.Data, 0o644)
	}
	if err := os.Rename(clip.Path, dst); err == nil {
		return dst, nil
	}
	// rename fails across filesystems
	if err := copyFile(clip.Path, dst); err != nil {
		return "", err
	}
	_ = os.Remove(clip.Path)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy video: %w", err)
	}
	return out.Close()
}
