// Package nullaudio is an audio backend without hardware. The input device
// produces silence at real-time pace and the output device discards what it is
// given, also at real-time pace. It lets the engine run on headless hosts and
// in CI against a live transport.
package nullaudio

import (
	"sync"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// Driver hands out null devices. The zero value is ready to use.
type Driver struct {
	// Unpaced disables real-time pacing; Read and Write return immediately.
	Unpaced bool
}

var _ audio.Driver = (*Driver)(nil)

// New returns a paced Driver.
func New() *Driver { return &Driver{} }

// OpenInput implements [audio.InputDriver].
func (d *Driver) OpenInput(format audio.Format, _ int) (audio.InputDevice, error) {
	return &Input{clock: newClock(format, d.Unpaced)}, nil
}

// OpenOutput implements [audio.OutputDriver].
func (d *Driver) OpenOutput(format audio.Format, _ int) (audio.OutputDevice, error) {
	return &Output{clock: newClock(format, d.Unpaced)}, nil
}

// clock paces a stream against the wall clock. The deadline advances by the
// duration of every block so that sleep jitter does not accumulate.
type clock struct {
	format  audio.Format
	unpaced bool

	mu     sync.Mutex
	next   time.Time
	closed bool
	done   chan struct{}
}

func newClock(format audio.Format, unpaced bool) *clock {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &clock{format: format, unpaced: unpaced, done: make(chan struct{})}
}

// wait blocks until n interleaved samples would have been played. It reports
// false when the clock was closed first.
func (c *clock) wait(n int) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.unpaced || c.format.SampleRate <= 0 {
		c.mu.Unlock()
		return true
	}
	now := time.Now()
	if c.next.Before(now) {
		c.next = now
	}
	c.next = c.next.Add(time.Duration(n/c.format.Channels) * time.Second / time.Duration(c.format.SampleRate))
	d := time.Until(c.next)
	c.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	}
}

func (c *clock) reset() {
	c.mu.Lock()
	c.next = time.Time{}
	c.mu.Unlock()
}

func (c *clock) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Input is a microphone that hears nothing.
type Input struct {
	clock *clock
}

// Read implements [audio.InputDevice]. It zeroes buf once the block's
// duration has elapsed.
func (in *Input) Read(buf []int16) error {
	if !in.clock.wait(len(buf)) {
		return audio.ErrDeviceClosed
	}
	clear(buf)
	return nil
}

// Close implements [audio.InputDevice]. It unblocks a pending Read.
func (in *Input) Close() error {
	in.clock.close()
	return nil
}

// Output is a speaker nobody hears.
type Output struct {
	clock *clock

	mu      sync.Mutex
	written int
}

// Write implements [audio.OutputDevice].
func (o *Output) Write(samples []int16) error {
	if !o.clock.wait(len(samples)) {
		return audio.ErrDeviceClosed
	}
	o.mu.Lock()
	o.written += len(samples)
	o.mu.Unlock()
	return nil
}

// Silence implements [audio.OutputDevice]. It restarts pacing from now.
func (o *Output) Silence() error {
	o.clock.reset()
	return nil
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.clock.close()
	return nil
}

// Written returns the number of samples accepted so far.
func (o *Output) Written() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}
