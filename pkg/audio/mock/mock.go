// Package mock provides in-memory mock implementations of the [audio.InputDriver],
// [audio.InputDevice], [audio.OutputDriver], and [audio.OutputDevice] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values. OnCall, when set, is invoked
// with a short call name ("input.close", "output.silence", ...) so that tests
// can assert on the relative order of calls across several mocks.
//
// Typical usage:
//
//	in := mock.NewInputDevice()
//	drv := &mock.Driver{Input: in, Output: mock.NewOutputDevice()}
//	dev, _ := drv.OpenInput(audio.Mono24k, 480)
//	in.Push(make([]int16, 480)) // delivered by the next dev.Read
package mock

import (
	"sync"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice]. Blocks pushed via
// [InputDevice.Push] are returned by Read in order; Read blocks until a block is
// available, an error is injected, or the device is closed.
type InputDevice struct {
	mu sync.Mutex

	// OnCall is invoked with "input.read" and "input.close".
	OnCall func(call string)

	// CloseError is returned by [InputDevice.Close].
	CloseError error

	// CallCountRead records how many times Read returned a block.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	blocks chan []int16
	errs   chan error
	done   chan struct{}
	closed bool
}

// NewInputDevice returns an open InputDevice able to buffer 1024 pushed blocks.
func NewInputDevice() *InputDevice {
	return &InputDevice{
		blocks: make(chan []int16, 1024),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Push queues one block of samples for a future Read.
func (d *InputDevice) Push(samples []int16) {
	d.blocks <- samples
}

// FailNext makes the next Read (once queued blocks are consumed) return err.
func (d *InputDevice) FailNext(err error) {
	d.errs <- err
}

// Read implements [audio.InputDevice]. It copies the next pushed block into buf.
func (d *InputDevice) Read(buf []int16) error {
	d.call("input.read")
	select {
	case b := <-d.blocks:
		copy(buf, b)
		clear(buf[min(len(b), len(buf)):])
		d.mu.Lock()
		d.CallCountRead++
		d.mu.Unlock()
		return nil
	default:
	}
	select {
	case b := <-d.blocks:
		copy(buf, b)
		clear(buf[min(len(b), len(buf)):])
		d.mu.Lock()
		d.CallCountRead++
		d.mu.Unlock()
		return nil
	case err := <-d.errs:
		return err
	case <-d.done:
		return audio.ErrDeviceClosed
	}
}

// Close implements [audio.InputDevice]. It unblocks a pending Read.
func (d *InputDevice) Close() error {
	d.call("input.close")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	return d.CloseError
}

// Closed reports whether Close has been called.
func (d *InputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *InputDevice) call(name string) {
	d.mu.Lock()
	fn := d.OnCall
	d.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. It records all
// written samples. Set Block to a channel to make Write wait on it, simulating a
// full device buffer.
type OutputDevice struct {
	mu sync.Mutex

	// OnCall is invoked with "output.write", "output.silence", and "output.close".
	OnCall func(call string)

	// WriteError is returned by [OutputDevice.Write] when non-nil.
	WriteError error

	// SilenceError is returned by [OutputDevice.Silence].
	SilenceError error

	// CloseError is returned by [OutputDevice.Close].
	CloseError error

	// Block, when non-nil, is received from before every Write completes.
	Block chan struct{}

	// Written holds every block passed to Write, in order.
	Written [][]int16

	// CallCountSilence records how many times Silence was called.
	CallCountSilence int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Writes is signalled (non-blocking) after every recorded Write.
	Writes chan struct{}
}

// NewOutputDevice returns an OutputDevice with a buffered Writes signal channel.
func NewOutputDevice() *OutputDevice {
	return &OutputDevice{Writes: make(chan struct{}, 1024)}
}

// Write implements [audio.OutputDevice].
func (d *OutputDevice) Write(samples []int16) error {
	d.call("output.write")
	d.mu.Lock()
	block := d.Block
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteError != nil {
		return d.WriteError
	}
	d.Written = append(d.Written, append([]int16(nil), samples...))
	if d.Writes != nil {
		select {
		case d.Writes <- struct{}{}:
		default:
		}
	}
	return nil
}

// Silence implements [audio.OutputDevice].
func (d *OutputDevice) Silence() error {
	d.call("output.silence")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountSilence++
	return d.SilenceError
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.call("output.close")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseError
}

// WrittenBlocks returns a copy of every block written so far.
func (d *OutputDevice) WrittenBlocks() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]int16, len(d.Written))
	copy(out, d.Written)
	return out
}

// SilenceCount returns CallCountSilence under the lock.
func (d *OutputDevice) SilenceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountSilence
}

// CloseCount returns CallCountClose under the lock.
func (d *OutputDevice) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

func (d *OutputDevice) call(name string) {
	d.mu.Lock()
	fn := d.OnCall
	d.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

// ─── Driver ───────────────────────────────────────────────────────────────────

// OpenInputCall records the arguments of one OpenInput call.
type OpenInputCall struct {
	Format       audio.Format
	FrameSamples int
}

// OpenOutputCall records the arguments of one OpenOutput call.
type OpenOutputCall struct {
	Format        audio.Format
	BufferSamples int
}

// Driver is a mock implementation of [audio.Driver] that hands out the
// configured devices.
type Driver struct {
	mu sync.Mutex

	// Input is returned by OpenInput. A fresh device is created when nil.
	Input *InputDevice

	// Output is returned by OpenOutput. A fresh device is created when nil.
	Output *OutputDevice

	// OpenInputError is returned by OpenInput when non-nil.
	OpenInputError error

	// OpenOutputError is returned by OpenOutput when non-nil.
	OpenOutputError error

	// InputCalls records every OpenInput call.
	InputCalls []OpenInputCall

	// OutputCalls records every OpenOutput call.
	OutputCalls []OpenOutputCall
}

// OpenInput implements [audio.InputDriver].
func (d *Driver) OpenInput(format audio.Format, frameSamples int) (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputCalls = append(d.InputCalls, OpenInputCall{Format: format, FrameSamples: frameSamples})
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	if d.Input == nil {
		d.Input = NewInputDevice()
	}
	return d.Input, nil
}

// OpenOutput implements [audio.OutputDriver].
func (d *Driver) OpenOutput(format audio.Format, bufferSamples int) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputCalls = append(d.OutputCalls, OpenOutputCall{Format: format, BufferSamples: bufferSamples})
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	if d.Output == nil {
		d.Output = NewOutputDevice()
	}
	return d.Output, nil
}

// Compile-time assertions.
var (
	_ audio.Driver       = (*Driver)(nil)
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)
