package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/capture"
)

const (
	defaultSampleRate = 16000
	// 20ms @ 16kHz mono s16
	fragmentSize     = 640
	defaultLevelSize = 2048
)

// MicrophoneOptions selects the Pulse source. An empty Source uses the
// server default.
type MicrophoneOptions struct {
	Source     string
	SampleRate int
	LevelSize  int
	Logger     *zap.Logger
}

// Microphone is one Pulse record stream shared by the silence monitor,
// which reads an 8-bit level window, and at most one answer recorder at a
// time, which receives the raw PCM.
type Microphone struct {
	rate   int
	logger *zap.Logger

	client *pulse.Client
	stream *pulse.RecordStream

	mu     sync.Mutex
	level  []byte
	pos    int
	filled bool
	active *micRecorder
	closed bool
}

// OpenMicrophone connects to PulseAudio and starts a 16kHz mono stream.
func OpenMicrophone(_ context.Context, opts MicrophoneOptions) (*Microphone, error) {
	mic := newMicrophone(opts)

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("z-interview"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, mediaError("microphone.connect", fmt.Errorf("connect pulse server: %w", err))
	}

	var source *pulse.Source
	if opts.Source == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(opts.Source)
	}
	if err != nil {
		client.Close()
		return nil, mediaError("microphone.source", fmt.Errorf("resolve source %q: %w", opts.Source, err))
	}

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(mic.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(mic.rate),
		pulse.RecordBufferFragmentSize(fragmentSize),
		pulse.RecordMediaName("interview answer"),
	)
	if err != nil {
		client.Close()
		return nil, mediaError("microphone.record", fmt.Errorf("create pulse record stream: %w", err))
	}

	mic.client = client
	mic.stream = stream
	stream.Start()
	mic.logger.Info("microphone opened", zap.String("source", source.ID()), zap.Int("sample_rate", mic.rate))
	return mic, nil
}

func newMicrophone(opts MicrophoneOptions) *Microphone {
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.LevelSize <= 0 {
		opts.LevelSize = defaultLevelSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Microphone{
		rate:   opts.SampleRate,
		logger: opts.Logger,
		level:  make([]byte, opts.LevelSize),
	}
}

// Sample copies the most recent level window, oldest byte first, and
// returns how many bytes were written.
func (m *Microphone) Sample(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	avail := m.pos
	if m.filled {
		avail = len(m.level)
	}
	n := min(len(buf), avail)
	start := m.pos - n
	if start < 0 {
		start += len(m.level)
	}
	for i := 0; i < n; i++ {
		buf[i] = m.level[(start+i)%len(m.level)]
	}
	return n
}

// NewRecorder returns a recorder that captures from Start until Stop.
func (m *Microphone) NewRecorder() (capture.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("microphone is closed")
	}
	return &micRecorder{mic: m}, nil
}

// Close stops the stream and disconnects. Safe to call repeatedly.
func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.active = nil
	m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
	}
	if m.client != nil {
		m.client.Close()
	}
	m.logger.Info("microphone closed")
	return nil
}

// onPCM receives s16le frames from Pulse.
func (m *Microphone) onPCM(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}

	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		m.level[m.pos] = byte(int(sample>>8) + 128)
		m.pos++
		if m.pos == len(m.level) {
			m.pos = 0
			m.filled = true
		}
	}
	if m.active != nil {
		m.active.pcm = append(m.active.pcm, buf...)
	}
	return len(buf), nil
}

type micRecorder struct {
	mic     *Microphone
	pcm     []byte
	started bool
	stopped bool
}

func (r *micRecorder) Start(context.Context) error {
	m := r.mic
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return errors.New("microphone is closed")
	case r.started:
		return errors.New("recorder already started")
	case m.active != nil:
		return errors.New("another answer is being recorded")
	}
	r.started = true
	m.active = r
	return nil
}

func (r *micRecorder) Stop(context.Context) (capture.Clip, error) {
	m := r.mic
	m.mu.Lock()
	if !r.started || r.stopped {
		m.mu.Unlock()
		return capture.Clip{}, errors.New("recorder is not running")
	}
	r.stopped = true
	if m.active == r {
		m.active = nil
	}
	pcm := r.pcm
	r.pcm = nil
	m.mu.Unlock()

	if len(pcm) == 0 {
		return capture.Clip{}, errors.New("no audio captured")
	}
	return capture.Clip{
		Filename:    "answer.wav",
		ContentType: "audio/wav",
		Data:        EncodeWAV(pcm, m.rate, 1),
	}, nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
