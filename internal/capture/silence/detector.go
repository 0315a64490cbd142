// Package silence detects sustained silence on a live microphone window and
// signals silence/speech transitions.
package silence

import (
	"math"
	"time"
)

// Signal is the edge a Detector reports for one observation.
type Signal int

const (
	SignalNone Signal = iota
	SignalSilence
	SignalSpeech
)

// Volume is the mean absolute deviation of an 8-bit time-domain window from
// its 128 midpoint. An empty window reads as silence.
func Volume(window []byte) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum int
	for _, b := range window {
		d := int(b) - 128
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(window))
}

// Detector holds the edge-triggered silence state. It is not safe for
// concurrent use; Monitor serialises access.
type Detector struct {
	threshold       time.Duration
	volumeThreshold float64

	silent bool
	since  time.Time
}

// NewDetector returns a detector that reports silence after threshold of
// volume below volumeThreshold.
func NewDetector(threshold time.Duration, volumeThreshold float64) *Detector {
	return &Detector{threshold: threshold, volumeThreshold: volumeThreshold}
}

// Reset clears the silence timer as of now.
func (d *Detector) Reset(now time.Time) {
	d.silent = false
	d.since = now
}

// Silent reports whether the last observation was below the threshold.
func (d *Detector) Silent() bool { return d.silent }

// Observe feeds one volume sample. SignalSilence carries the silent
// duration that triggered it; the timer restarts so the next signal needs
// another full threshold.
func (d *Detector) Observe(volume float64, now time.Time) (Signal, time.Duration) {
	if volume < d.volumeThreshold {
		if !d.silent {
			d.silent = true
			d.since = now
			return SignalNone, 0
		}
		if elapsed := now.Sub(d.since); elapsed >= d.threshold {
			d.since = now
			return SignalSilence, elapsed
		}
		return SignalNone, 0
	}

	d.since = now
	if d.silent {
		d.silent = false
		return SignalSpeech, 0
	}
	return SignalNone, 0
}

// Remaining is the countdown in whole seconds until the next silence
// signal, or the full threshold while sound is present.
func (d *Detector) Remaining(now time.Time) int {
	if !d.silent {
		return ceilSeconds(d.threshold)
	}
	left := d.threshold - now.Sub(d.since)
	if left < 0 {
		left = 0
	}
	return ceilSeconds(left)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
