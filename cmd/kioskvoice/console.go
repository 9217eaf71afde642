package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/kioskvoice/internal/engine"
	"github.com/MrWong99/kioskvoice/internal/engine/turn"
)

// errQuit ends the command loop when the operator types "quit".
var errQuit = errors.New("quit requested")

// levelInterval throttles the level bar.
const levelInterval = 200 * time.Millisecond

// levelWidth is the number of cells in the level bar.
const levelWidth = 20

// console renders engine notifications as plain text lines. It is the UI
// collaborator of the engine; all output goes through one writer under a lock.
type console struct {
	mu        sync.Mutex
	w         io.Writer
	state     turn.State
	lastLevel time.Time
	now       func() time.Time
}

func newConsole(w io.Writer) *console {
	return &console{w: w, now: time.Now}
}

func (c *console) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnStateChanged:  c.stateChanged,
		OnTranscript:    c.transcript,
		OnAssistantText: c.assistantText,
		OnAudioLevel:    c.level,
		OnError:         func(msg string) { c.errorf("%s", msg) },
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *console) errorf(format string, args ...any) {
	c.printf("error: "+format, args...)
}

func (c *console) stateChanged(s turn.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.printf("[%s]", s)
}

func (c *console) transcript(text string, final bool) {
	if final {
		c.printf("you: %s", text)
	}
}

func (c *console) assistantText(text string, final bool) {
	if final {
		c.printf("assistant: %s", text)
	}
}

func (c *console) level(v float32) {
	c.mu.Lock()
	state := c.state
	now := c.now()
	due := now.Sub(c.lastLevel) >= levelInterval
	if due {
		c.lastLevel = now
	}
	c.mu.Unlock()
	if !due || (state != turn.Listening && state != turn.UserSpeaking) {
		return
	}
	c.printf("mic %s", levelBar(v))
}

// levelBar draws v in [0, 1] as a fixed-width bar.
func levelBar(v float32) string {
	v = max(0, min(1, v))
	n := int(v*levelWidth + 0.5)
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", levelWidth-n) + "]"
}

// ── Commands ──────────────────────────────────────────────────────────────────

type commandHandlers struct {
	start func() error
	stop  func() error
}

// readCommands scans lines from r on a background goroutine. The channel is
// closed at EOF.
func readCommands(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

// commandLoop executes console commands until ctx is done or "quit" is read.
// EOF on the input stops reading commands but keeps the process running.
func commandLoop(ctx context.Context, lines <-chan string, h commandHandlers, c *console) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch strings.ToLower(line) {
			case "":
			case "start":
				if err := h.start(); err != nil {
					c.errorf("start: %v", err)
				}
			case "stop":
				if err := h.stop(); err != nil {
					c.errorf("stop: %v", err)
				}
			case "quit", "exit":
				return errQuit
			default:
				c.printf("unknown command %q: type start, stop, or quit", line)
			}
		}
	}
}
