// Package level turns PCM16 frames into a smoothed loudness value in [0, 1]
// suitable for driving a UI level indicator.
package level

import (
	"encoding/binary"
	"math"
)

const (
	// DefaultFloorDB is the quietest level that still registers above zero.
	DefaultFloorDB = -60.0

	// DefaultSmoothing is the weight of the newest sample in the exponential
	// moving average. The previous value keeps the remaining 1-DefaultSmoothing.
	DefaultSmoothing = 0.3

	fullScale = 32768.0
)

// Option configures a [Meter].
type Option func(*Meter)

// WithFloor sets the decibel floor mapped to 0.0. Values >= 0 are ignored.
func WithFloor(db float64) Option {
	return func(m *Meter) {
		if db < 0 {
			m.floorDB = db
		}
	}
}

// WithSmoothing sets the weight of the newest sample, in (0, 1].
func WithSmoothing(alpha float64) Option {
	return func(m *Meter) {
		if alpha > 0 && alpha <= 1 {
			m.alpha = alpha
		}
	}
}

// Meter computes an RMS-based level per frame and smooths it against the
// previous result. The zero value is not usable; call [New].
//
// A Meter is owned by a single goroutine (the capture loop) and is not safe
// for concurrent use.
type Meter struct {
	floorDB float64
	alpha   float64
	prev    float64
}

// New returns a Meter with the default -60 dB floor and 0.3 smoothing.
func New(opts ...Option) *Meter {
	m := &Meter{floorDB: DefaultFloorDB, alpha: DefaultSmoothing}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Update folds one little-endian PCM16 frame into the meter and returns the
// smoothed level. The result is always within [0, 1].
func (m *Meter) Update(pcm []byte) float32 {
	instant := m.Normalize(pcm)
	m.prev = m.prev*(1-m.alpha) + instant*m.alpha
	return float32(clamp01(m.prev))
}

// Normalize returns the unsmoothed level of a frame: RMS converted to dBFS,
// clamped to [floor, 0] and mapped linearly onto [0, 1]. Empty and silent
// frames yield 0.
func (m *Meter) Normalize(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	if sum == 0 {
		return 0
	}
	rms := math.Sqrt(sum / float64(n))
	db := 20 * math.Log10(rms/fullScale)
	if db < m.floorDB {
		db = m.floorDB
	} else if db > 0 {
		db = 0
	}
	return clamp01((db - m.floorDB) / -m.floorDB)
}

// Level returns the last smoothed value without updating it.
func (m *Meter) Level() float32 { return float32(clamp01(m.prev)) }

// Reset drops the smoothing history so the next update starts from silence.
func (m *Meter) Reset() { m.prev = 0 }

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
