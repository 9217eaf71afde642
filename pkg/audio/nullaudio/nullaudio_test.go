package nullaudio

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

func TestInput_ReadsPacedSilence(t *testing.T) {
	t.Parallel()

	dev, err := New().OpenInput(audio.Mono24k, 480)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer dev.Close()

	buf := make([]int16, 480)
	for i := range buf {
		buf[i] = 7
	}
	start := time.Now()
	for range 3 {
		if err := dev.Read(buf); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	// Three 20 ms blocks.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("three reads took %v, want at least ~60ms", elapsed)
	}
	for i, s := range buf {
		if s != 0 {
			t.Fatalf("buf[%d] = %d, want silence", i, s)
		}
	}
}

func TestInput_CloseUnblocksRead(t *testing.T) {
	t.Parallel()

	// One second per read at 480 Hz.
	dev, _ := New().OpenInput(audio.Format{SampleRate: 480, Channels: 1}, 480)
	errc := make(chan error, 1)
	go func() { errc <- dev.Read(make([]int16, 480)) }()

	time.Sleep(20 * time.Millisecond)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, audio.ErrDeviceClosed) {
			t.Errorf("Read after Close = %v, want ErrDeviceClosed", err)
		}
	case <-time.After(time.Second / 2):
		t.Fatal("Read did not return after Close")
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOutput_CountsAndDiscards(t *testing.T) {
	t.Parallel()

	drv := &Driver{Unpaced: true}
	dev, err := drv.OpenOutput(audio.Mono24k, 4800)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	out := dev.(*Output)
	for range 4 {
		if err := out.Write(make([]int16, 240)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := out.Silence(); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if got := out.Written(); got != 960 {
		t.Errorf("Written() = %d, want 960", got)
	}
	out.Close()
	if err := out.Write(make([]int16, 10)); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Errorf("Write after Close = %v, want ErrDeviceClosed", err)
	}
}
