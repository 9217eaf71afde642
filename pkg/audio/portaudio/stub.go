//go:build !portaudio

package portaudio

import "github.com/MrWong99/kioskvoice/pkg/audio"

// Driver is unavailable in this build.
type Driver struct{}

var _ audio.Driver = (*Driver)(nil)

// New always returns [ErrUnavailable].
func New(opts ...Option) (*Driver, error) {
	_ = newOptions(opts)
	return nil, ErrUnavailable
}

// OpenInput implements [audio.InputDriver].
func (*Driver) OpenInput(audio.Format, int) (audio.InputDevice, error) {
	return nil, ErrUnavailable
}

// OpenOutput implements [audio.OutputDriver].
func (*Driver) OpenOutput(audio.Format, int) (audio.OutputDevice, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (*Driver) Close() error { return nil }
