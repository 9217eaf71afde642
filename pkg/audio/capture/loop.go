// Package capture runs the microphone side of a voice session: a dedicated
// goroutine reads fixed-size PCM16 blocks from an [audio.InputDevice], meters
// their loudness, and forwards them as sequenced [audio.AudioFrame] values.
//
// The loop can be muted without being torn down. While muted, blocks are still
// read from the device so its buffer never overruns, but nothing reaches the
// sink and the reported level is pinned to zero.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/audio/level"
)

// defaultCloseGrace bounds how long Close waits for an in-flight Read before
// closing the device underneath it.
const defaultCloseGrace = 250 * time.Millisecond

// Config configures a capture [Loop].
type Config struct {
	// Format is the device format. Only mono is supported.
	Format audio.Format

	// FrameSamples is the number of samples per frame (480 = 20 ms at 24 kHz).
	FrameSamples int

	// Sink receives every frame read while unmuted, in capture order. It runs on
	// the capture goroutine and must not block for long.
	Sink func(audio.AudioFrame)

	// OnLevel receives one level sample per frame read, muted or not.
	OnLevel func(float32)

	// OnError is called at most once, when a device read fails. The loop has
	// already stopped when it is called.
	OnError func(error)

	// Meter computes levels. A default meter is created when nil.
	Meter *level.Meter

	// StartMuted opens the loop in the muted state.
	StartMuted bool

	// CloseGrace overrides the default wait for an in-flight Read on Close.
	CloseGrace time.Duration
}

// Loop owns one input device and the goroutine that reads from it.
// All exported methods are safe for concurrent use.
type Loop struct {
	cfg   Config
	dev   audio.InputDevice
	meter *level.Meter

	muted    atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	start    time.Time

	closeDevOnce sync.Once
	closeDevErr  error
	closeOnce    sync.Once
	closeErr     error
}

// Open opens the input device through drv and starts the capture goroutine.
// A device that cannot be opened is reported synchronously as an
// [*audio.DeviceError].
func Open(drv audio.InputDriver, cfg Config) (*Loop, error) {
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("capture: frame size must be positive, got %d", cfg.FrameSamples)
	}
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("capture: only mono input is supported, got %d channels", cfg.Format.Channels)
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}

	dev, err := drv.OpenInput(cfg.Format, cfg.FrameSamples)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open input", Err: err}
	}

	l := &Loop{
		cfg:   cfg,
		dev:   dev,
		meter: cfg.Meter,
		done:  make(chan struct{}),
		start: time.Now(),
	}
	if l.meter == nil {
		l.meter = level.New()
	}
	l.muted.Store(cfg.StartMuted)

	go l.run()
	return l, nil
}

// Mute stops forwarding frames to the sink. Device reads continue.
func (l *Loop) Mute() {
	if !l.muted.Swap(true) {
		slog.Debug("capture: muted")
	}
}

// Unmute resumes forwarding frames to the sink.
func (l *Loop) Unmute() {
	if l.muted.Swap(false) {
		slog.Debug("capture: unmuted")
	}
}

// Muted reports whether the loop is currently muted.
func (l *Loop) Muted() bool { return l.muted.Load() }

// Done is closed once the capture goroutine has exited, either because Close
// was called or because a read failed.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Close stops the loop, waits for the capture goroutine to exit, and releases
// the device. It is idempotent: later calls return nil.
func (l *Loop) Close() error {
	first := false
	l.closeOnce.Do(func() {
		first = true
		l.stopping.Store(true)

		select {
		case <-l.done:
		case <-time.After(l.cfg.CloseGrace):
			// The device is stuck in Read; closing it is the only way to
			// unblock the goroutine.
			slog.Warn("capture: read did not return in time, forcing device close",
				"grace", l.cfg.CloseGrace)
			l.closeDevice()
			<-l.done
		}
		l.closeErr = l.closeDevice()
	})
	if !first {
		return nil
	}
	return l.closeErr
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.closeDevice()

	buf := make([]int16, l.cfg.FrameSamples)
	var seq uint64

	for !l.stopping.Load() {
		if err := l.dev.Read(buf); err != nil {
			if l.stopping.Load() {
				return
			}
			derr := &audio.DeviceError{Op: "read", Err: err}
			slog.Error("capture: device read failed, stopping loop", "err", err)
			if l.cfg.OnError != nil {
				l.cfg.OnError(derr)
			}
			return
		}
		if l.stopping.Load() {
			return
		}

		if l.muted.Load() {
			l.meter.Reset()
			l.emitLevel(0)
			continue
		}

		frame := audio.AudioFrame{
			Data:       audio.SamplesToBytes(buf),
			Seq:        seq,
			SampleRate: l.cfg.Format.SampleRate,
			Channels:   1,
			Timestamp:  time.Since(l.start),
		}
		seq++

		lv := l.meter.Update(frame.Data)
		if l.cfg.Sink != nil {
			l.cfg.Sink(frame)
		}
		l.emitLevel(lv)
	}
}

func (l *Loop) emitLevel(v float32) {
	if l.cfg.OnLevel != nil {
		l.cfg.OnLevel(v)
	}
}

func (l *Loop) closeDevice() error {
	l.closeDevOnce.Do(func() {
		if err := l.dev.Close(); err != nil && !errors.Is(err, audio.ErrDeviceClosed) {
			l.closeDevErr = &audio.DeviceError{Op: "close input", Err: err}
		}
	})
	return l.closeDevErr
}
