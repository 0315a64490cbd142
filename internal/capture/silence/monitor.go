package silence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sampler fills buf with the latest 8-bit time-domain window (midpoint 128)
// and returns the number of bytes written. It must not block.
type Sampler interface {
	Sample(buf []byte) int
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(buf []byte) int

func (f SamplerFunc) Sample(buf []byte) int { return f(buf) }

// Options tune a Monitor. Zero values take the defaults.
type Options struct {
	SilenceThreshold time.Duration
	VolumeThreshold  float64
	PollInterval     time.Duration
	WindowSize       int

	Now       func() time.Time
	NewTicker func(time.Duration) (<-chan time.Time, func())
	Logger    *zap.Logger
}

const (
	DefaultSilenceThreshold = 10 * time.Second
	DefaultVolumeThreshold  = 10.0
	DefaultPollInterval     = 16 * time.Millisecond
	DefaultWindowSize       = 2048
)

func (o Options) withDefaults() Options {
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = DefaultSilenceThreshold
	}
	if o.VolumeThreshold <= 0 {
		o.VolumeThreshold = DefaultVolumeThreshold
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewTicker == nil {
		o.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Monitor polls a Sampler on a fixed period and drives a Detector.
// Callbacks run on the polling goroutine and must not call Stop.
type Monitor struct {
	src       Sampler
	onSilence func(time.Duration)
	onSpeech  func()
	opts      Options

	mu      sync.Mutex
	det     *Detector
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// New builds a stopped monitor. Either callback may be nil.
func New(src Sampler, onSilence func(time.Duration), onSpeech func(), opts Options) *Monitor {
	opts = opts.withDefaults()
	if onSilence == nil {
		onSilence = func(time.Duration) {}
	}
	if onSpeech == nil {
		onSpeech = func() {}
	}
	return &Monitor{
		src:       src,
		onSilence: onSilence,
		onSpeech:  onSpeech,
		opts:      opts,
		det:       NewDetector(opts.SilenceThreshold, opts.VolumeThreshold),
	}
}

// Start begins polling. Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.det.Reset(m.opts.Now())
	m.quit = make(chan struct{})
	m.done = make(chan struct{})

	ticks, stopTicker := m.opts.NewTicker(m.opts.PollInterval)
	go m.loop(ticks, stopTicker, m.quit, m.done)
	m.opts.Logger.Debug("silence monitor started",
		zap.Duration("threshold", m.opts.SilenceThreshold),
		zap.Float64("volume_threshold", m.opts.VolumeThreshold))
}

// Stop cancels polling and waits for the polling goroutine, so no callback
// runs after Stop returns. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.quit)
	done := m.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	m.det.Reset(m.opts.Now())
	m.mu.Unlock()
	m.opts.Logger.Debug("silence monitor stopped")
}

// Reset clears the silence timer, typically when a new turn starts recording.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.det.Reset(m.opts.Now())
	m.mu.Unlock()
}

// Running reports whether the monitor is polling.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RemainingSeconds is the countdown shown while recording.
func (m *Monitor) RemainingSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.det.Remaining(m.opts.Now())
}

func (m *Monitor) loop(ticks <-chan time.Time, stopTicker func(), quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer stopTicker()

	buf := make([]byte, m.opts.WindowSize)
	for {
		select {
		case <-quit:
			return
		case now := <-ticks:
			// a quit racing with a tick wins
			select {
			case <-quit:
				return
			default:
			}
			m.poll(buf, now)
		}
	}
}

func (m *Monitor) poll(buf []byte, now time.Time) {
	n := m.src.Sample(buf)
	if n < 0 {
		n = 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	vol := Volume(buf[:n])

	m.mu.Lock()
	sig, silentFor := m.det.Observe(vol, now)
	m.mu.Unlock()

	switch sig {
	case SignalSilence:
		m.opts.Logger.Debug("silence detected", zap.Duration("silent_for", silentFor))
		m.onSilence(silentFor)
	case SignalSpeech:
		m.onSpeech()
	}
}
