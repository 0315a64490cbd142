package silence

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestVolume(t *testing.T) {
	require.Equal(t, 0.0, Volume(nil))
	require.Equal(t, 0.0, Volume([]byte{128, 128, 128}))
	require.Equal(t, 10.0, Volume([]byte{118, 138}))
	require.Equal(t, 128.0, Volume([]byte{0}))
}

func TestDetectorFiresOncePerThreshold(t *testing.T) {
	d := NewDetector(10*time.Second, 10)
	d.Reset(t0)

	fired := 0
	for ms := 100; ms <= 25000; ms += 100 {
		sig, _ := d.Observe(2, t0.Add(time.Duration(ms)*time.Millisecond))
		if sig == SignalSilence {
			fired++
		}
	}
	require.Equal(t, 2, fired)
}

func TestDetectorSpeechBeforeThreshold(t *testing.T) {
	d := NewDetector(10*time.Second, 10)
	d.Reset(t0)

	sig, _ := d.Observe(1, t0.Add(time.Second))
	require.Equal(t, SignalNone, sig)
	require.True(t, d.Silent())
	require.Equal(t, 8, d.Remaining(t0.Add(3200*time.Millisecond)))
	require.Equal(t, 8, d.Remaining(t0.Add(3*time.Second)))
	require.Equal(t, 7, d.Remaining(t0.Add(4200*time.Millisecond)))

	sig, _ = d.Observe(40, t0.Add(4*time.Second))
	require.Equal(t, SignalSpeech, sig)
	require.False(t, d.Silent())
	require.Equal(t, 10, d.Remaining(t0.Add(4*time.Second)))

	sig, _ = d.Observe(40, t0.Add(5*time.Second))
	require.Equal(t, SignalNone, sig)
}

func TestDetectorRemainingRoundsUp(t *testing.T) {
	d := NewDetector(10*time.Second, 10)
	d.Observe(0, t0)

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 10},
		{time.Millisecond, 10},
		{999 * time.Millisecond, 10},
		{time.Second, 9},
		{1001 * time.Millisecond, 9},
		{9 * time.Second, 1},
		{9999 * time.Millisecond, 1},
		{10 * time.Second, 0},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, d.Remaining(t0.Add(tc.elapsed)), "elapsed %s", tc.elapsed)
	}
}

func TestDetectorRemainingFloorsAtZero(t *testing.T) {
	d := NewDetector(2*time.Second, 10)
	d.Reset(t0)
	d.Observe(0, t0)
	require.Equal(t, 0, d.Remaining(t0.Add(time.Minute)))
}

func TestDetectorSilenceCarriesDuration(t *testing.T) {
	d := NewDetector(time.Second, 10)
	d.Observe(0, t0)
	sig, silentFor := d.Observe(0, t0.Add(1500*time.Millisecond))
	require.Equal(t, SignalSilence, sig)
	require.Equal(t, 1500*time.Millisecond, silentFor)
}

// levelSampler emits a flat window offset from the midpoint by level.
type levelSampler struct {
	level atomic.Int32
}

func (s *levelSampler) Sample(buf []byte) int {
	v := byte(128 + s.level.Load())
	for i := range buf {
		buf[i] = v
	}
	return len(buf)
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newMonitorUnderTest(t *testing.T, src Sampler, onSilence func(time.Duration), onSpeech func()) (*Monitor, *fakeTicker) {
	t.Helper()
	ft := &fakeTicker{ch: make(chan time.Time)}
	m := New(src, onSilence, onSpeech, Options{
		SilenceThreshold: 10 * time.Second,
		Now:              func() time.Time { return t0 },
		NewTicker: func(time.Duration) (<-chan time.Time, func()) {
			return ft.ch, func() { ft.stopped.Store(true) }
		},
	})
	return m, ft
}

func TestMonitorFiresOncePerElapsedThreshold(t *testing.T) {
	src := &levelSampler{}
	var silences atomic.Int32
	m, ft := newMonitorUnderTest(t, src, func(time.Duration) { silences.Add(1) }, nil)

	m.Start()
	for ms := 100; ms <= 25000; ms += 100 {
		ft.ch <- t0.Add(time.Duration(ms) * time.Millisecond)
	}
	m.Stop()

	require.Equal(t, int32(2), silences.Load())
	require.True(t, ft.stopped.Load())
}

func TestMonitorSpeechResetsCountdown(t *testing.T) {
	src := &levelSampler{}
	var speech atomic.Int32
	m, ft := newMonitorUnderTest(t, src, nil, func() { speech.Add(1) })

	m.Start()
	for ms := 100; ms <= 3000; ms += 100 {
		ft.ch <- t0.Add(time.Duration(ms) * time.Millisecond)
	}
	src.level.Store(50)
	ft.ch <- t0.Add(3100 * time.Millisecond)
	// the next send only completes once the previous tick was processed
	ft.ch <- t0.Add(3200 * time.Millisecond)

	require.Equal(t, int32(1), speech.Load())
	require.Equal(t, 10, m.RemainingSeconds())
	m.Stop()
}

func TestMonitorNoCallbacksAfterStop(t *testing.T) {
	src := &levelSampler{}
	var mu sync.Mutex
	stopped := false
	late := false
	m, ft := newMonitorUnderTest(t, src, func(time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			late = true
		}
	}, nil)

	m.Start()
	ft.ch <- t0.Add(time.Second)
	m.Stop()

	mu.Lock()
	stopped = true
	mu.Unlock()

	require.False(t, m.Running())
	select {
	case ft.ch <- t0.Add(time.Hour):
		t.Fatal("polling goroutine still receiving after Stop")
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	require.False(t, late)
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	src := &levelSampler{}
	starts := 0
	m := New(src, nil, nil, Options{
		NewTicker: func(time.Duration) (<-chan time.Time, func()) {
			starts++
			return make(chan time.Time), func() {}
		},
	})

	m.Start()
	m.Start()
	require.Equal(t, 1, starts)
	require.True(t, m.Running())

	m.Stop()
	m.Stop()
	require.False(t, m.Running())

	m.Start()
	require.Equal(t, 2, starts)
	m.Stop()
}

func TestMonitorReset(t *testing.T) {
	src := &levelSampler{}
	now := t0
	var mu sync.Mutex
	ft := &fakeTicker{ch: make(chan time.Time)}
	m := New(src, nil, nil, Options{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
		NewTicker: func(time.Duration) (<-chan time.Time, func()) { return ft.ch, func() {} },
	})

	m.Start()
	ft.ch <- t0.Add(time.Second)
	ft.ch <- t0.Add(5 * time.Second)

	mu.Lock()
	now = t0.Add(6 * time.Second)
	mu.Unlock()
	require.Equal(t, 5, m.RemainingSeconds())

	m.Reset()
	require.Equal(t, 10, m.RemainingSeconds())
	m.Stop()
}
