package playback_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/audio/mock"
	"github.com/MrWong99/kioskvoice/pkg/audio/playback"
)

func frameOf(samples []int16, rate int) audio.AudioFrame {
	return audio.AudioFrame{Data: audio.SamplesToBytes(samples), SampleRate: rate, Channels: 1}
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i + 1)
	}
	return out
}

func openSink(t *testing.T, dev *mock.OutputDevice, cfg playback.Config) *playback.Sink {
	t.Helper()
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.Mono24k
	}
	if cfg.ChunkSamples == 0 {
		cfg.ChunkSamples = 100
	}
	s, err := playback.Open(&mock.Driver{Output: dev}, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitWritten(t *testing.T, dev *mock.OutputDevice, samples int) []int16 {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		var got []int16
		for _, b := range dev.WrittenBlocks() {
			got = append(got, b...)
		}
		if len(got) >= samples {
			return got
		}
		select {
		case <-dev.Writes:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out: %d/%d samples written", len(got), samples)
		}
	}
}

func TestSink_OpenErrorIsDeviceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no speaker")
	_, err := playback.Open(&mock.Driver{OpenOutputError: boom}, playback.Config{Format: audio.Mono24k})
	var derr *audio.DeviceError
	if !errors.As(err, &derr) || derr.Op != "open output" || !errors.Is(err, boom) {
		t.Fatalf("Open error = %v; want DeviceError wrapping %v", err, boom)
	}
}

func TestSink_OpenSizesDeviceBuffer(t *testing.T) {
	t.Parallel()
	drv := &mock.Driver{}
	s, err := playback.Open(drv, playback.Config{Format: audio.Mono24k, FrameSamples: 480, BufferFrames: 6})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if len(drv.OutputCalls) != 1 || drv.OutputCalls[0].BufferSamples != 2880 {
		t.Fatalf("OpenOutput calls = %+v; want one with 2880 samples", drv.OutputCalls)
	}
}

func TestSink_PlaysFramesInOrderInChunks(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := openSink(t, dev, playback.Config{})

	in := ramp(750)
	if err := s.Write(frameOf(in[:500], 24000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(frameOf(in[500:], 24000)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := waitWritten(t, dev, len(in))
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d; want %d", i, got[i], in[i])
		}
	}
	for i, b := range dev.WrittenBlocks() {
		if len(b) > 100 {
			t.Errorf("block %d has %d samples; want <= chunk size 100", i, len(b))
		}
	}
}

func TestSink_WriteDoesNotBlockOnBusyDevice(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	dev.Block = make(chan struct{})
	s := openSink(t, dev, playback.Config{MuteWait: 10 * time.Millisecond})
	t.Cleanup(func() { close(dev.Block) })

	start := time.Now()
	for range 200 {
		if err := s.Write(frameOf(ramp(480), 24000)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("200 writes took %v with a blocked device", d)
	}
	_ = s.MuteImmediately()
}

func TestSink_MuteImmediatelyDiscardsQueuedAudio(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	dev.Block = make(chan struct{})
	inWrite := make(chan struct{}, 16)
	dev.OnCall = func(call string) {
		if call == "output.write" {
			inWrite <- struct{}{}
		}
	}
	s := openSink(t, dev, playback.Config{MuteWait: 2 * time.Second})

	for range 5 {
		if err := s.Write(frameOf(ramp(300), 24000)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	select {
	case <-inWrite:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never reached the device")
	}

	// Release the in-flight chunk only after the mute has started waiting.
	go func() {
		time.Sleep(30 * time.Millisecond)
		dev.Block <- struct{}{}
	}()
	if err := s.MuteImmediately(); err != nil {
		t.Fatalf("MuteImmediately: %v", err)
	}

	if g := s.Gain(); g != 0 {
		t.Errorf("Gain = %v; want 0", g)
	}
	if n := dev.SilenceCount(); n != 1 {
		t.Errorf("Silence calls = %d; want 1", n)
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending = %d; want 0", n)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(dev.WrittenBlocks()); n != 1 {
		t.Errorf("device received %d chunks; want only the in-flight one", n)
	}

	if err := s.Write(frameOf(ramp(300), 24000)); err != nil {
		t.Fatalf("Write while muted: %v", err)
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("muted sink queued %d blocks", n)
	}
}

func TestSink_StaysSilentAfterMute(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := openSink(t, dev, playback.Config{})
	if err := s.MuteImmediately(); err != nil {
		t.Fatalf("MuteImmediately: %v", err)
	}
	for range 10 {
		if err := s.Write(frameOf(ramp(480), 24000)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	time.Sleep(30 * time.Millisecond)
	if g := s.Gain(); g != 0 {
		t.Errorf("Gain = %v; want 0", g)
	}
	for _, b := range dev.WrittenBlocks() {
		for _, v := range b {
			if v != 0 {
				t.Fatal("audible sample written after MuteImmediately")
			}
		}
	}
}

func TestSink_ResamplesForeignRate(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := openSink(t, dev, playback.Config{ChunkSamples: 1000})
	if err := s.Write(frameOf(ramp(480), 48000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := waitWritten(t, dev, 240)
	if len(got) != 240 {
		t.Fatalf("wrote %d samples; want 240 after 48k->24k resampling", len(got))
	}
}

func TestSink_WriteErrorReportedOnce(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	dev.WriteError = errors.New("underrun")

	var mu sync.Mutex
	var errs []error
	reported := make(chan struct{}, 4)
	s := openSink(t, dev, playback.Config{OnError: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		reported <- struct{}{}
	}})

	_ = s.Write(frameOf(ramp(500), 24000))
	select {
	case <-reported:
	case <-time.After(2 * time.Second):
		t.Fatal("write error not reported")
	}
	if err := s.Write(frameOf(ramp(500), 24000)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Write after failure = %v; want ErrClosed", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("OnError called %d times; want 1", len(errs))
	}
	var derr *audio.DeviceError
	if !errors.As(errs[0], &derr) || derr.Op != "write" {
		t.Errorf("error = %v; want DeviceError op write", errs[0])
	}
}

func TestSink_TapSeesPlayedAudio(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	var mu sync.Mutex
	var tapped int
	s := openSink(t, dev, playback.Config{Tap: func(p []int16) {
		mu.Lock()
		tapped += len(p)
		mu.Unlock()
	}})
	_ = s.Write(frameOf(ramp(250), 24000))
	waitWritten(t, dev, 250)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := tapped
		mu.Unlock()
		if n == 250 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("tap did not receive every played sample")
}

func TestSink_CloseIsIdempotentAndNilSafe(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s, err := playback.Open(&mock.Driver{Output: dev}, playback.Config{Format: audio.Mono24k})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := dev.CloseCount(); n != 1 {
		t.Errorf("device closed %d times; want 1", n)
	}
	if err := s.Write(frameOf(ramp(10), 24000)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Write after Close = %v; want ErrClosed", err)
	}
	if err := s.MuteImmediately(); err != nil {
		t.Errorf("MuteImmediately after Close = %v", err)
	}

	var never *playback.Sink
	if err := never.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
	if err := never.MuteImmediately(); err != nil {
		t.Errorf("nil MuteImmediately = %v", err)
	}
	if err := never.Write(frameOf(ramp(10), 24000)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("nil Write = %v; want ErrClosed", err)
	}
}

func TestSink_CloseErrorIsDeviceError(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	dev.CloseError = errors.New("stuck")
	s, err := playback.Open(&mock.Driver{Output: dev}, playback.Config{Format: audio.Mono24k})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var derr *audio.DeviceError
	if err := s.Close(); !errors.As(err, &derr) || derr.Op != "close output" {
		t.Fatalf("Close = %v; want DeviceError op close output", err)
	}
}

// flushingDevice is a mock output device that also implements [audio.Flusher].
type flushingDevice struct {
	*mock.OutputDevice

	mu      sync.Mutex
	flushes int
}

func (d *flushingDevice) Flush() error {
	d.call("output.flush")
	d.mu.Lock()
	d.flushes++
	d.mu.Unlock()
	return nil
}

func (d *flushingDevice) call(name string) {
	if d.OnCall != nil {
		d.OnCall(name)
	}
}

func (d *flushingDevice) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

type flushingDriver struct{ dev *flushingDevice }

func (d flushingDriver) OpenOutput(audio.Format, int) (audio.OutputDevice, error) {
	return d.dev, nil
}

func TestSink_FlushesDeviceWhenQueueRunsDry(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var calls []string
	record := func(call string) {
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
	}
	dev := &flushingDevice{OutputDevice: mock.NewOutputDevice()}
	dev.OnCall = record

	s, err := playback.Open(flushingDriver{dev}, playback.Config{Format: audio.Mono24k, ChunkSamples: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// 250 samples leave a partial chunk that the device may hold back.
	if err := s.Write(frameOf(ramp(250), 24000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitWritten(t, dev.OutputDevice, 250)

	deadline := time.Now().Add(2 * time.Second)
	for dev.Flushes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("device never flushed after the queue ran dry")
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	last := calls[len(calls)-1]
	mu.Unlock()
	if last != "output.flush" {
		t.Errorf("last device call = %q; want output.flush after the writes", last)
	}

	// A muted sink does not flush.
	if err := s.MuteImmediately(); err != nil {
		t.Fatalf("MuteImmediately: %v", err)
	}
	before := dev.Flushes()
	_ = s.Write(frameOf(ramp(50), 24000))
	time.Sleep(20 * time.Millisecond)
	if got := dev.Flushes(); got != before {
		t.Errorf("flushes after mute = %d; want %d", got, before)
	}
}
