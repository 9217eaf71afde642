// Package playback owns the speaker side of a voice session.
//
// A [Sink] accepts decoded assistant audio without ever blocking the caller:
// frames are queued in memory and a dedicated writer goroutine feeds them to
// the [audio.OutputDevice] in small chunks. Writing in small chunks keeps the
// window in which [Sink.MuteImmediately] has to wait for the device short.
package playback

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kioskvoice/internal/mailbox"
	"github.com/MrWong99/kioskvoice/pkg/audio"
)

const (
	// DefaultBufferFrames is the device buffer size in frames. Remote audio
	// arrives in bursts; a buffer of several frames absorbs the jitter.
	DefaultBufferFrames = 4

	defaultChunk      = 10 * time.Millisecond
	defaultMuteWait   = 50 * time.Millisecond
	defaultCloseGrace = 250 * time.Millisecond
)

// ErrClosed is returned by Write on a sink that is closed, failed, or was never
// opened.
var ErrClosed = errors.New("playback: sink closed")

// Config configures a playback [Sink].
type Config struct {
	// Format is the device format. Only mono is supported.
	Format audio.Format

	// FrameSamples is the nominal frame size used to size the device buffer.
	FrameSamples int

	// BufferFrames is the device buffer size in frames. Defaults to
	// [DefaultBufferFrames].
	BufferFrames int

	// ChunkSamples is the largest block handed to the device in one Write.
	// Defaults to 10 ms of audio.
	ChunkSamples int

	// OnError is called at most once, when a device write fails. The sink is
	// inert afterwards.
	OnError func(error)

	// Tap, when set, receives every chunk after it was written to the device.
	Tap func(samples []int16)

	// MuteWait bounds how long MuteImmediately waits for an in-flight device
	// write before giving up on silencing the device buffer.
	MuteWait time.Duration

	// CloseGrace bounds how long Close waits for the writer goroutine.
	CloseGrace time.Duration
}

// Sink plays PCM16 frames on one output device. A nil *Sink is valid: every
// method is a no-op and Write returns [ErrClosed].
type Sink struct {
	cfg   Config
	dev   audio.OutputDevice
	queue *mailbox.Mailbox[[]int16]

	// devSem serialises device access between the writer and MuteImmediately.
	devSem chan struct{}
	gain   atomic.Uint32
	closed atomic.Bool
	failed atomic.Bool

	stop chan struct{}
	done chan struct{}

	closeDevOnce sync.Once
	closeDevErr  error
	closeOnce    sync.Once
	closeErr     error
}

// Open opens the output device through drv and starts the writer goroutine.
// A device that cannot be opened is reported as an [*audio.DeviceError].
func Open(drv audio.OutputDriver, cfg Config) (*Sink, error) {
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.Channels != 1 {
		return nil, &audio.DeviceError{Op: "open output", Err: errors.New("only mono output is supported")}
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = max(cfg.Format.SamplesFor(defaultChunk), 1)
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = cfg.ChunkSamples * 2
	}
	if cfg.MuteWait <= 0 {
		cfg.MuteWait = defaultMuteWait
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}

	dev, err := drv.OpenOutput(cfg.Format, cfg.FrameSamples*cfg.BufferFrames)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open output", Err: err}
	}

	s := &Sink{
		cfg:    cfg,
		dev:    dev,
		queue:  mailbox.New[[]int16](),
		devSem: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.setGain(1)
	go s.run()
	return s, nil
}

// Write queues frame for playback and returns immediately. Frames at a
// different sample rate are resampled to the device rate. While the sink is
// muted frames are discarded.
func (s *Sink) Write(frame audio.AudioFrame) error {
	if s == nil || s.closed.Load() || s.failed.Load() {
		return ErrClosed
	}
	if s.Gain() == 0 {
		return nil
	}
	pcm := frame.Data
	if frame.SampleRate > 0 && frame.SampleRate != s.cfg.Format.SampleRate {
		pcm = audio.ResampleMono16(pcm, frame.SampleRate, s.cfg.Format.SampleRate)
	}
	samples := audio.BytesToSamples(pcm)
	if len(samples) == 0 {
		return nil
	}
	if _, ok := s.queue.Put(samples); !ok {
		return ErrClosed
	}
	return nil
}

// MuteImmediately drops the gain to zero, discards queued audio, and asks the
// device to stop and flush its own buffer. It waits for at most one in-flight
// chunk, bounded by Config.MuteWait. The gain stays at zero for the lifetime
// of the sink; a new sink must be opened to play again.
func (s *Sink) MuteImmediately() error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.setGain(0)
	dropped := s.queue.Clear()

	select {
	case s.devSem <- struct{}{}:
	case <-time.After(s.cfg.MuteWait):
		slog.Warn("playback: device busy, skipped flush on mute", "wait", s.cfg.MuteWait)
		return nil
	}
	defer func() { <-s.devSem }()

	slog.Debug("playback: muted", "dropped_blocks", dropped)
	if s.closed.Load() {
		return nil
	}
	if err := s.dev.Silence(); err != nil && !errors.Is(err, audio.ErrDeviceClosed) {
		return &audio.DeviceError{Op: "silence", Err: err}
	}
	return nil
}

// Gain returns the current software gain: 1 while playing, 0 once muted or
// closed.
func (s *Sink) Gain() float32 {
	if s == nil {
		return 0
	}
	return math.Float32frombits(s.gain.Load())
}

// Pending returns the number of queued blocks not yet handed to the device.
func (s *Sink) Pending() int {
	if s == nil {
		return 0
	}
	return s.queue.Len()
}

// Close mutes, stops the writer goroutine, and releases the device. It is
// idempotent and safe on a nil sink; later calls return nil.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.setGain(0)
		s.closed.Store(true)
		s.queue.Close()
		s.queue.Clear()
		close(s.stop)

		select {
		case <-s.done:
		case <-time.After(s.cfg.CloseGrace):
			slog.Warn("playback: write did not return in time, forcing device close",
				"grace", s.cfg.CloseGrace)
			s.closeDevice()
			<-s.done
		}
		s.closeErr = s.closeDevice()
	})
	if !first {
		return nil
	}
	return s.closeErr
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.queue.Notify():
		}
		for {
			samples, ok := s.queue.Take()
			if !ok {
				break
			}
			if !s.play(samples) {
				return
			}
		}
		if !s.flush() {
			return
		}
	}
}

// play writes samples chunk by chunk. It returns false when the writer must
// exit.
func (s *Sink) play(samples []int16) bool {
	for off := 0; off < len(samples); off += s.cfg.ChunkSamples {
		if s.Gain() == 0 {
			return true
		}
		select {
		case s.devSem <- struct{}{}:
		case <-s.stop:
			return false
		}
		gain := s.Gain()
		if gain == 0 {
			<-s.devSem
			return true
		}
		chunk := samples[off:min(off+s.cfg.ChunkSamples, len(samples))]
		audio.ApplyGain(chunk, gain)
		err := s.dev.Write(chunk)
		<-s.devSem

		if err != nil {
			return s.fail(err)
		}
		if s.cfg.Tap != nil {
			s.cfg.Tap(chunk)
		}
	}
	return true
}

// flush plays what an [audio.Flusher] device still holds once the queue is
// empty. It returns false when the writer must exit.
func (s *Sink) flush() bool {
	f, ok := s.dev.(audio.Flusher)
	if !ok || s.Gain() == 0 {
		return true
	}
	select {
	case s.devSem <- struct{}{}:
	case <-s.stop:
		return false
	}
	var err error
	if s.Gain() != 0 {
		err = f.Flush()
	}
	<-s.devSem
	if err != nil {
		return s.fail(err)
	}
	return true
}

// fail reports a device write error once and always returns false.
func (s *Sink) fail(err error) bool {
	if s.closed.Load() {
		return false
	}
	s.failed.Store(true)
	slog.Error("playback: device write failed, stopping sink", "err", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(&audio.DeviceError{Op: "write", Err: err})
	}
	return false
}

func (s *Sink) setGain(g float32) { s.gain.Store(math.Float32bits(g)) }

func (s *Sink) closeDevice() error {
	s.closeDevOnce.Do(func() {
		if err := s.dev.Close(); err != nil && !errors.Is(err, audio.ErrDeviceClosed) {
			s.closeDevErr = &audio.DeviceError{Op: "close output", Err: err}
		}
	})
	return s.closeDevErr
}
