// Package wavtap records PCM16 audio to WAV files for debugging a session.
//
// A [Recorder] is fed from real-time goroutines (capture loop, playback
// writer), so Write only copies the samples into a queue; a background
// goroutine does the file I/O.
package wavtap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/kioskvoice/internal/mailbox"
	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// pcmFormat is the WAV audio format code for integer PCM.
const pcmFormat = 1

// Recorder writes mono PCM16 audio to a single WAV file.
type Recorder struct {
	path   string
	format audio.Format
	f      *os.File
	enc    *wav.Encoder
	q      *mailbox.Mailbox[[]int16]
	done   chan struct{}

	// Owned by the writer goroutine until done is closed.
	samples int
	err     error

	closeOnce sync.Once
	closeErr  error
}

// Create creates (or truncates) the file at path and starts recording.
func Create(path string, format audio.Format) (*Recorder, error) {
	if format.Channels == 0 {
		format.Channels = 1
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("wavtap: invalid sample rate %d", format.SampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavtap: create %s: %w", path, err)
	}
	r := &Recorder{
		path:   path,
		format: format,
		f:      f,
		enc:    wav.NewEncoder(f, format.SampleRate, 16, format.Channels, pcmFormat),
		q:      mailbox.New[[]int16](),
		done:   make(chan struct{}),
	}
	// An empty write emits the header so a recording without audio is still
	// a valid file.
	if err := r.enc.Write(r.buffer(nil)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavtap: write header %s: %w", path, err)
	}
	go r.run()
	return r, nil
}

func (r *Recorder) buffer(block []int16) *goaudio.IntBuffer {
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: r.format.Channels,
			SampleRate:  r.format.SampleRate,
		},
		Data:           make([]int, len(block)),
		SourceBitDepth: 16,
	}
	for i, s := range block {
		buf.Data[i] = int(s)
	}
	return buf
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Write queues a copy of samples. It never blocks and is a no-op after Close.
func (r *Recorder) Write(samples []int16) {
	if r == nil || len(samples) == 0 {
		return
	}
	r.q.Put(append([]int16(nil), samples...))
}

// WriteFrame queues the PCM payload of frame.
func (r *Recorder) WriteFrame(frame audio.AudioFrame) {
	if r == nil {
		return
	}
	r.q.Put(audio.BytesToSamples(frame.Data))
}

// Close flushes queued audio, finalises the WAV header, and closes the file.
// It is idempotent and safe on a nil Recorder.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.q.Close()
		<-r.done
		err := r.err
		if encErr := r.enc.Close(); encErr != nil {
			err = errors.Join(err, fmt.Errorf("wavtap: finalise %s: %w", r.path, encErr))
		}
		if fErr := r.f.Close(); fErr != nil {
			err = errors.Join(err, fmt.Errorf("wavtap: close %s: %w", r.path, fErr))
		}
		r.closeErr = err
		slog.Debug("wavtap: recording closed", "path", r.path, "samples", r.samples)
	})
	return r.closeErr
}

func (r *Recorder) run() {
	defer close(r.done)
	for block := range r.q.Stream(nil) {
		if r.err != nil {
			continue
		}
		if err := r.enc.Write(r.buffer(block)); err != nil {
			r.err = fmt.Errorf("wavtap: write %s: %w", r.path, err)
			slog.Warn("wavtap: write failed, dropping further audio", "path", r.path, "err", err)
			continue
		}
		r.samples += len(block)
	}
}
