package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/kioskvoice/internal/engine/turn"
)

func TestLevelBar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    float32
		want string
	}{
		{0, "[....................]"},
		{0.5, "[##########..........]"},
		{1, "[####################]"},
		{2, "[####################]"},
		{-1, "[....................]"},
	}
	for _, tc := range tests {
		if got := levelBar(tc.v); got != tc.want {
			t.Errorf("levelBar(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestConsole_LevelOnlyWhileListeningAndThrottled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.level(0.5)
	if strings.Contains(buf.String(), "mic") {
		t.Fatalf("level printed while disconnected: %q", buf.String())
	}

	c.stateChanged(turn.Listening)
	now = now.Add(time.Second)
	c.level(0.5)
	c.level(0.9) // throttled
	if got := strings.Count(buf.String(), "mic "); got != 1 {
		t.Errorf("printed %d level bars, want 1: %q", got, buf.String())
	}
}

func TestConsole_OnlyFinalTextPrinted(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	cb := c.callbacks()
	cb.OnTranscript("hel", false)
	cb.OnTranscript("hello", true)
	cb.OnAssistantText("hi", false)
	cb.OnAssistantText("hi there", true)
	cb.OnError("connection lost")

	want := "you: hello\nassistant: hi there\nerror: connection lost\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCommandLoop(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := newConsole(&buf)
	var calls []string
	h := commandHandlers{
		start: func() error { calls = append(calls, "start"); return errors.New("boom") },
		stop:  func() error { calls = append(calls, "stop"); return nil },
	}

	err := commandLoop(context.Background(), readCommands(strings.NewReader("start\n\nSTOP\nbogus\nquit\nstart\n")), h, c)
	if !errors.Is(err, errQuit) {
		t.Fatalf("commandLoop = %v, want errQuit", err)
	}
	if strings.Join(calls, ",") != "start,stop" {
		t.Errorf("calls = %v, want [start stop]", calls)
	}
	out := buf.String()
	if !strings.Contains(out, "error: start: boom") {
		t.Errorf("start error not reported: %q", out)
	}
	if !strings.Contains(out, `unknown command "bogus"`) {
		t.Errorf("unknown command not reported: %q", out)
	}
}

func TestCommandLoop_EOFKeepsRunningUntilCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- commandLoop(ctx, readCommands(strings.NewReader("")), commandHandlers{}, newConsole(&bytes.Buffer{}))
	}()

	select {
	case err := <-done:
		t.Fatalf("commandLoop returned %v at EOF", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("commandLoop = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("commandLoop did not return after cancel")
	}
}
