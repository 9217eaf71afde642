package capture_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/audio/capture"
	"github.com/MrWong99/kioskvoice/pkg/audio/mock"
)

const frameSamples = 480

// recorder collects sink frames, level samples, and errors from a Loop.
type recorder struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
	levels []float32
	errs   []error
	levelC chan struct{}
}

func newRecorder() *recorder {
	return &recorder{levelC: make(chan struct{}, 4096)}
}

func (r *recorder) sink(f audio.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) level(v float32) {
	r.mu.Lock()
	r.levels = append(r.levels, v)
	r.mu.Unlock()
	r.levelC <- struct{}{}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// waitLevels blocks until n level samples have been recorded.
func (r *recorder) waitLevels(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.levelC:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for level sample %d of %d", i+1, n)
		}
	}
}

func (r *recorder) snapshot() ([]audio.AudioFrame, []float32, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.AudioFrame(nil), r.frames...),
		append([]float32(nil), r.levels...),
		append([]error(nil), r.errs...)
}

func openLoop(t *testing.T, dev *mock.InputDevice, rec *recorder, muted bool) *capture.Loop {
	t.Helper()
	drv := &mock.Driver{Input: dev}
	l, err := capture.Open(drv, capture.Config{
		Format:       audio.Mono24k,
		FrameSamples: frameSamples,
		Sink:         rec.sink,
		OnLevel:      rec.level,
		OnError:      rec.onError,
		StartMuted:   muted,
		CloseGrace:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func loudBlock(v int16) []int16 {
	b := make([]int16, frameSamples)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestOpen_DeviceErrorIsSynchronous(t *testing.T) {
	t.Parallel()
	drv := &mock.Driver{OpenInputError: errors.New("busy")}
	_, err := capture.Open(drv, capture.Config{Format: audio.Mono24k, FrameSamples: frameSamples})
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Open error = %v; want *audio.DeviceError", err)
	}
	if de.Op != "open input" {
		t.Errorf("Op = %q; want open input", de.Op)
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	if _, err := capture.Open(&mock.Driver{}, capture.Config{Format: audio.Mono24k}); err == nil {
		t.Error("expected error for zero frame size")
	}
	stereo := audio.Format{SampleRate: 24000, Channels: 2}
	if _, err := capture.Open(&mock.Driver{}, capture.Config{Format: stereo, FrameSamples: 10}); err == nil {
		t.Error("expected error for stereo input")
	}
}

func TestLoop_ForwardsFramesInOrderWithSequence(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	openLoop(t, dev, rec, false)

	for i := range 5 {
		dev.Push(loudBlock(int16(1000 + i)))
	}
	rec.waitLevels(t, 5)

	frames, levels, _ := rec.snapshot()
	if len(frames) != 5 {
		t.Fatalf("got %d frames; want 5", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: Seq = %d", i, f.Seq)
		}
		if f.SampleRate != 24000 || f.Channels != 1 {
			t.Errorf("frame %d: format %d/%d", i, f.SampleRate, f.Channels)
		}
		if got := audio.BytesToSamples(f.Data)[0]; got != int16(1000+i) {
			t.Errorf("frame %d: first sample %d; want %d", i, got, 1000+i)
		}
	}
	for i, v := range levels {
		if v <= 0 {
			t.Errorf("level %d = %v; want > 0 for loud input", i, v)
		}
	}
}

func TestLoop_FramesAreNotAliased(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	openLoop(t, dev, rec, false)

	dev.Push(loudBlock(1))
	dev.Push(loudBlock(2))
	rec.waitLevels(t, 2)

	frames, _, _ := rec.snapshot()
	if audio.BytesToSamples(frames[0].Data)[0] != 1 {
		t.Error("first frame was overwritten by the second read")
	}
}

func TestLoop_MutedForwardsNothingAndReportsZeroLevels(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	l := openLoop(t, dev, rec, true)

	if !l.Muted() {
		t.Fatal("StartMuted loop should report Muted")
	}
	const n = 20
	for i := range n {
		dev.Push(loudBlock(int16(20000 + i)))
	}
	rec.waitLevels(t, n)

	frames, levels, _ := rec.snapshot()
	if len(frames) != 0 {
		t.Errorf("muted loop forwarded %d frames; want 0", len(frames))
	}
	if len(levels) != n {
		t.Fatalf("got %d level samples; want %d", len(levels), n)
	}
	for i, v := range levels {
		if v != 0 {
			t.Errorf("level %d = %v; want 0 while muted", i, v)
		}
	}
}

func TestLoop_MuteUnmute(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	l := openLoop(t, dev, rec, false)

	dev.Push(loudBlock(1))
	rec.waitLevels(t, 1)

	l.Mute()
	l.Mute() // idempotent
	dev.Push(loudBlock(2))
	rec.waitLevels(t, 1)

	l.Unmute()
	dev.Push(loudBlock(3))
	rec.waitLevels(t, 1)

	frames, levels, _ := rec.snapshot()
	if len(frames) != 2 {
		t.Fatalf("got %d frames; want 2", len(frames))
	}
	if frames[1].Seq != 1 {
		t.Errorf("second forwarded frame Seq = %d; want 1", frames[1].Seq)
	}
	if audio.BytesToSamples(frames[1].Data)[0] != 3 {
		t.Error("muted block leaked to the sink")
	}
	if levels[1] != 0 {
		t.Errorf("muted level = %v; want 0", levels[1])
	}
}

func TestLoop_ReadErrorReportedOnceAndStops(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	l := openLoop(t, dev, rec, false)

	dev.FailNext(errors.New("device unplugged"))

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after read error")
	}
	_, _, errs := rec.snapshot()
	if len(errs) != 1 {
		t.Fatalf("got %d errors; want exactly 1", len(errs))
	}
	var de *audio.DeviceError
	if !errors.As(errs[0], &de) || de.Op != "read" {
		t.Errorf("error = %v; want read DeviceError", errs[0])
	}
	if !dev.Closed() {
		t.Error("device should be released after a read failure")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close after failure = %v; want nil", err)
	}
}

func TestLoop_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	dev := mock.NewInputDevice()
	rec := newRecorder()
	l := openLoop(t, dev, rec, false)

	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	if !dev.Closed() {
		t.Error("device not closed")
	}
	_, _, errs := rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("Close reported errors through OnError: %v", errs)
	}
}
