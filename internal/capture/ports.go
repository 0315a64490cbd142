package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/zhouzirui/z-interview/backend/internal/capture/silence"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// Clip is one finished recording, either in memory or on disk.
type Clip struct {
	Filename    string
	ContentType string
	Data        []byte
	Path        string
}

// Empty reports whether the clip carries no media.
func (c Clip) Empty() bool {
	return len(c.Data) == 0 && c.Path == ""
}

// Open returns the clip body and its size.
func (c Clip) Open() (io.ReadCloser, int64, error) {
	if c.Path == "" {
		if c.Data == nil {
			return nil, 0, errors.New("empty clip")
		}
		return io.NopCloser(bytes.NewReader(c.Data)), int64(len(c.Data)), nil
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Recorder captures one clip between Start and Stop.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (Clip, error)
}

// AudioInput is the microphone. The controller is its only owner; the
// silence monitor gets the read-only Sampler side.
type AudioInput interface {
	silence.Sampler
	NewRecorder() (Recorder, error)
	Close() error
}

// VideoInput is the camera, recorded continuously for the whole session.
type VideoInput interface {
	NewRecorder() (Recorder, error)
	Close() error
}

// Devices acquires the two inputs independently so one can be retried
// without the other.
type Devices interface {
	OpenVideo(ctx context.Context) (VideoInput, error)
	OpenAudio(ctx context.Context) (AudioInput, error)
}

// Speaker plays text and returns when playback has ended.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// AnswerAPI is the conversation engine as seen from the client.
type AnswerAPI interface {
	SubmitAudioAnswer(ctx context.Context, sessionID string, clip Clip) (model.AudioAnswerResponse, error)
	SubmitTextAnswer(ctx context.Context, sessionID, answer string) (model.AnswerResponse, error)
}

// ArtifactSink persists the finalized session video and returns where it
// ended up.
type ArtifactSink interface {
	Save(ctx context.Context, sessionID string, clip Clip) (string, error)
}
