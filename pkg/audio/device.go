// Package audio defines the frame type, PCM helpers, and device contracts used
// by the kioskvoice voice session engine.
//
// The two device abstractions are:
//
//   - [InputDriver] opens an [InputDevice] (microphone) delivering fixed-size
//     blocks of PCM16 samples.
//   - [OutputDriver] opens an [OutputDevice] (speaker) accepting PCM16 samples.
//
// Implementations live in backend packages (audio/portaudio, audio/nullaudio)
// and in audio/mock for tests. A device handle is exclusively owned by the
// component that opened it and must never be used from two goroutines at once.
package audio

import (
	"errors"
	"fmt"
)

// ErrDeviceClosed is returned by device methods called after Close.
var ErrDeviceClosed = errors.New("audio: device closed")

// DeviceError reports that a capture or playback device could not be opened or
// failed mid-stream. It is retryable from the user's perspective; the engine
// never retries on its own.
type DeviceError struct {
	// Op names the failing operation: "open input", "read", "open output", "write".
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *DeviceError) Unwrap() error { return e.Err }

// InputDevice is an open microphone.
type InputDevice interface {
	// Read blocks until len(buf) samples have been captured into buf.
	Read(buf []int16) error

	// Close stops capture and releases the device. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// InputDriver opens input devices.
type InputDriver interface {
	// OpenInput opens the default input device with the given format, delivering
	// blocks of frameSamples samples per Read.
	OpenInput(format Format, frameSamples int) (InputDevice, error)
}

// OutputDevice is an open speaker.
type OutputDevice interface {
	// Write plays samples. It may block while the device buffer is full.
	Write(samples []int16) error

	// Silence stops audible output as fast as the hardware allows: it pauses the
	// stream and discards samples buffered inside the device. The device stays
	// open; the next Write restarts it.
	Silence() error

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Flusher is implemented by output devices that hold back samples short of a
// full hardware block. Flush pads them with silence and plays them. The
// playback sink calls it whenever its queue runs dry, so the tail of one reply
// is not held over into the next.
type Flusher interface {
	Flush() error
}

// OutputDriver opens output devices.
type OutputDriver interface {
	// OpenOutput opens the default output device with the given format and a
	// device-side buffer of bufferSamples samples.
	OpenOutput(format Format, bufferSamples int) (OutputDevice, error)
}

// Driver is a backend providing both directions, e.g. portaudio.
type Driver interface {
	InputDriver
	OutputDriver
}
