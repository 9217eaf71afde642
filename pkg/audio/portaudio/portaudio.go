//go:build portaudio

package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// Driver opens PortAudio streams. Create it with [New] and release the
// library with [Driver.Close] once every device is closed.
type Driver struct {
	opts options

	mu     sync.Mutex
	closed bool
}

var (
	_ audio.Driver  = (*Driver)(nil)
	_ audio.Flusher = (*outputDevice)(nil)
)

// New initialises PortAudio.
func New(opts ...Option) (*Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Driver{opts: newOptions(opts)}, nil
}

// Close terminates PortAudio. It is idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// OpenInput implements [audio.InputDriver]. The stream is started right away.
func (d *Driver) OpenInput(format audio.Format, frameSamples int) (audio.InputDevice, error) {
	dev, err := d.device(d.opts.inputDevice, true)
	if err != nil {
		return nil, err
	}
	buf := make([]int16, frameSamples*format.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: frameSamples,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input %q: %w", dev.Name, err)
	}
	slog.Info("portaudio: input opened", "device", dev.Name, "format", format, "frame_samples", frameSamples)
	return &inputDevice{stream: stream, buf: buf}, nil
}

// OpenOutput implements [audio.OutputDriver]. The requested buffer size is
// used as the stream's suggested latency. The stream starts on first Write.
func (d *Driver) OpenOutput(format audio.Format, bufferSamples int) (audio.OutputDevice, error) {
	dev, err := d.device(d.opts.outputDevice, false)
	if err != nil {
		return nil, err
	}
	block := format.SamplesFor(d.opts.block)
	latency := time.Duration(bufferSamples) * time.Second / time.Duration(format.SampleRate)
	latency = max(latency, dev.DefaultHighOutputLatency)

	out := make([]int16, block*format.Channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: block,
	}
	stream, err := portaudio.OpenStream(params, out)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %q: %w", dev.Name, err)
	}
	slog.Info("portaudio: output opened", "device", dev.Name, "format", format, "latency", latency)
	return &outputDevice{stream: stream, out: out, pending: make([]int16, 0, len(out))}, nil
}

// device resolves a device by name, or the default one when name is empty.
func (d *Driver) device(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 || !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device named %q", name)
}

// ── Input ────────────────────────────────────────────────────────────────────

type inputDevice struct {
	stream *portaudio.Stream
	buf    []int16

	closeOnce sync.Once
}

func (in *inputDevice) Read(buf []int16) error {
	if len(buf) != len(in.buf) {
		return fmt.Errorf("portaudio: read of %d samples, stream delivers %d", len(buf), len(in.buf))
	}
	if err := in.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}
		slog.Debug("portaudio: input overflowed")
	}
	copy(buf, in.buf)
	return nil
}

// Close aborts the stream, which also unblocks a pending Read.
func (in *inputDevice) Close() error {
	var err error
	in.closeOnce.Do(func() {
		abortErr := in.stream.Abort()
		err = errors.Join(abortErr, in.stream.Close())
	})
	return err
}

// ── Output ───────────────────────────────────────────────────────────────────

type outputDevice struct {
	stream  *portaudio.Stream
	out     []int16
	pending []int16
	started bool

	closeOnce sync.Once
}

func (o *outputDevice) Write(samples []int16) error {
	if !o.started {
		if err := o.stream.Start(); err != nil {
			return fmt.Errorf("portaudio: start output: %w", err)
		}
		o.started = true
	}
	o.pending = append(o.pending, samples...)
	for len(o.pending) >= len(o.out) {
		copy(o.out, o.pending)
		o.pending = o.pending[len(o.out):]
		if err := o.writeBlock(); err != nil {
			return err
		}
	}
	// Keep the remainder at the front of the backing array.
	o.pending = append(o.out[:0:0], o.pending...)
	return nil
}

// Flush pads the held-back partial block with silence and plays it.
func (o *outputDevice) Flush() error {
	if len(o.pending) == 0 || !o.started {
		return nil
	}
	n := copy(o.out, o.pending)
	clear(o.out[n:])
	o.pending = o.pending[:0]
	return o.writeBlock()
}

func (o *outputDevice) writeBlock() error {
	if err := o.stream.Write(); err != nil {
		if !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
		slog.Debug("portaudio: output underflowed")
	}
	return nil
}

// Silence aborts the stream, dropping whatever PortAudio still buffers.
func (o *outputDevice) Silence() error {
	o.pending = o.pending[:0]
	if !o.started {
		return nil
	}
	o.started = false
	return o.stream.Abort()
}

func (o *outputDevice) Close() error {
	var err error
	o.closeOnce.Do(func() {
		var abortErr error
		if o.started {
			abortErr = o.stream.Abort()
		}
		err = errors.Join(abortErr, o.stream.Close())
	})
	return err
}
