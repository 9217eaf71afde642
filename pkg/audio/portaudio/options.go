// Package portaudio is the audio backend for real hardware, built on the
// PortAudio C library. It is compiled only with the "portaudio" build tag;
// without it, [New] returns [ErrUnavailable].
//
// Both directions use blocking streams. The input stream delivers exactly one
// frame per Read. The output stream is written in fixed blocks; samples that
// do not fill a block are carried over to the next Write.
package portaudio

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by New when the binary was built without the
// "portaudio" build tag.
var ErrUnavailable = errors.New("portaudio: support not compiled in (build with -tags portaudio)")

// defaultBlock is the output block length handed to PortAudio per write.
const defaultBlock = 10 * time.Millisecond

// Option configures a [Driver].
type Option func(*options)

type options struct {
	inputDevice  string
	outputDevice string
	block        time.Duration
}

// WithInputDevice selects the input device by name instead of the system
// default.
func WithInputDevice(name string) Option {
	return func(o *options) { o.inputDevice = name }
}

// WithOutputDevice selects the output device by name instead of the system
// default.
func WithOutputDevice(name string) Option {
	return func(o *options) { o.outputDevice = name }
}

// WithBlock sets the output block length. Defaults to 10 ms.
func WithBlock(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.block = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{block: defaultBlock}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
