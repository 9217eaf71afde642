// Package turn implements the turn-taking state machine of a voice session.
//
// A [Controller] consumes the transport's event stream on a single goroutine
// and decides when the microphone is muted, where assistant audio goes, and
// what the UI is told. It never performs blocking I/O: muting capture and
// queueing playback audio are both non-blocking, and UI notifications go to a
// [Notifier] that is expected to hand them off.
//
// Lifecycle:
//
//	Disconnected → Connecting → Listening ⇄ UserSpeaking → AssistantResponding
//	  → (settling delay) → Listening → … → Closing → Disconnected
//
// After an assistant turn completes the controller stays in
// AssistantResponding for the configured settling delay so the speaker can
// drain before the microphone listens again.
package turn

import (
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kioskvoice/internal/mailbox"
	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// Outcome labels for [Hooks.OnTurn].
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Capture is the part of the capture loop the controller drives.
type Capture interface {
	Mute()
	Unmute()
}

// Playback is the part of the playback sink the controller drives.
type Playback interface {
	Write(frame audio.AudioFrame) error
}

// Notifier receives UI-facing notifications. Implementations must not block.
type Notifier interface {
	StateChanged(s State)
	Transcript(text string, final bool)
	AssistantText(text string, final bool)
	Error(err error)
}

// Hooks are optional observers. All run on the controller goroutine and must
// not block.
type Hooks struct {
	// OnFatal is called once when the session can no longer continue: a
	// terminal transport event or a device failure reported through Fail. The
	// owner is expected to tear the session down.
	OnFatal func(err error)

	// OnTurn is called when an assistant turn ends, with OutcomeCompleted or
	// OutcomeFailed.
	OnTurn func(outcome string)

	// OnResponseLatency receives the time between a final user transcript and
	// the start of the assistant's response.
	OnResponseLatency func(d time.Duration)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Capture       Capture
	Playback      Playback
	Notifier      Notifier
	SettlingDelay time.Duration // <= 0 unmutes capture as soon as a turn completes
	Hooks         Hooks
}

type cmdKind int

const (
	cmdFail cmdKind = iota
	cmdClosing
	cmdFinish
)

type command struct {
	kind cmdKind
	err  error
	ack  chan struct{}
}

// Controller is the turn-taking state machine of one session. Create it with
// [New], start it with [Controller.Start], and end it with
// [Controller.BeginClosing] followed by [Controller.Finish].
type Controller struct {
	cfg  Config
	cmds *mailbox.Mailbox[command]
	done chan struct{}

	// Owned by the run goroutine.
	state       State
	settling    bool
	settleTimer *time.Timer
	settleC     <-chan time.Time
	responseID  string
	assistant   strings.Builder
	finalUserAt time.Time
	fatal       bool

	view atomic.Int32
}

// New returns a Controller in the Disconnected state.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		cmds: mailbox.New[command](),
		done: make(chan struct{}),
	}
}

// Start enters Connecting and begins consuming events on a new goroutine.
// Start must be called exactly once.
func (c *Controller) Start(events <-chan s2s.Event) {
	c.transition(Connecting)
	go c.run(events)
}

// State returns the current state. It is safe to call from any goroutine.
func (c *Controller) State() State { return State(c.view.Load()) }

// Done is closed when the controller goroutine has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Fail reports a fatal failure from outside the event stream, such as a
// capture or playback device error. It never blocks.
func (c *Controller) Fail(err error) {
	c.cmds.Put(command{kind: cmdFail, err: err})
}

// BeginClosing mutes capture, enters Closing, and waits until the controller
// has stopped acting on events. Events that arrive afterwards are discarded.
func (c *Controller) BeginClosing() {
	ack := make(chan struct{})
	if _, ok := c.cmds.Put(command{kind: cmdClosing, ack: ack}); !ok {
		return
	}
	select {
	case <-ack:
	case <-c.done:
	}
}

// Finish enters Disconnected and waits for the controller goroutine to exit.
// It is safe to call more than once.
func (c *Controller) Finish() {
	c.cmds.Put(command{kind: cmdFinish})
	<-c.done
}

func (c *Controller) run(events <-chan s2s.Event) {
	defer close(c.done)
	defer c.stopSettle()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				if c.state != Closing {
					c.failFatal(&s2s.TransportError{Err: s2s.ErrClosed})
				}
				continue
			}
			if c.state == Closing || c.fatal {
				continue
			}
			c.handle(ev)

		case <-c.settleC:
			c.settleC = nil
			c.settling = false
			if c.state == AssistantResponding {
				slog.Debug("turn: settling delay elapsed")
				c.enterListening()
			}

		case <-c.cmds.Notify():
			for _, cmd := range c.cmds.TakeAll() {
				if c.command(cmd) {
					return
				}
			}
		}
	}
}

// command applies cmd and reports whether the goroutine must exit.
func (c *Controller) command(cmd command) bool {
	switch cmd.kind {
	case cmdFail:
		if c.state != Closing {
			c.failFatal(cmd.err)
		}
	case cmdClosing:
		if c.state != Closing {
			c.stopSettle()
			c.cfg.Capture.Mute()
			c.transition(Closing)
		}
		close(cmd.ack)
	case cmdFinish:
		c.cmds.Close()
		for _, rest := range c.cmds.TakeAll() {
			if rest.ack != nil {
				close(rest.ack)
			}
		}
		c.transition(Disconnected)
		return true
	}
	return false
}

func (c *Controller) handle(ev s2s.Event) {
	switch e := ev.(type) {
	case s2s.Ready:
		if c.state != Connecting {
			c.drop(ev)
			return
		}
		c.enterListening()

	case s2s.Error:
		if e.Terminal {
			c.failFatal(e.Err)
			return
		}
		c.cfg.Notifier.Error(e.Err)

	case s2s.Closed:
		c.failFatal(&s2s.TransportError{Err: errors.New("connection closed by service: " + e.Reason)})

	case s2s.TranscriptDelta:
		if !c.acceptsTranscript() {
			c.drop(ev)
			return
		}
		c.enterUserSpeaking()
		c.cfg.Notifier.Transcript(e.Text, false)

	case s2s.TranscriptComplete:
		if !c.acceptsTranscript() {
			c.drop(ev)
			return
		}
		c.enterUserSpeaking()
		c.finalUserAt = time.Now()
		c.cfg.Notifier.Transcript(e.Text, true)

	case s2s.ResponseStarted:
		switch {
		case c.state == Listening || c.state == UserSpeaking:
			c.enterAssistantResponding(e.ResponseID)
		case c.state == AssistantResponding && c.settling:
			// A new reply before the speaker drained: keep capture muted.
			c.stopSettle()
			c.enterAssistantResponding(e.ResponseID)
		default:
			c.drop(ev)
		}

	case s2s.ResponseTextDelta:
		if !c.inResponse(e.ResponseID) {
			c.drop(ev)
			return
		}
		c.assistant.WriteString(e.Text)
		c.cfg.Notifier.AssistantText(e.Text, false)

	case s2s.ResponseAudioDelta:
		if !c.inResponse(e.ResponseID) {
			c.drop(ev)
			return
		}
		if err := c.cfg.Playback.Write(e.Frame); err != nil {
			slog.Debug("turn: playback rejected audio", "err", err)
		}

	case s2s.ResponseCompleted:
		if !c.inResponse(e.ResponseID) {
			c.drop(ev)
			return
		}
		if text := c.assistant.String(); text != "" {
			c.cfg.Notifier.AssistantText(text, true)
		}
		c.endTurn(OutcomeCompleted)
		if c.cfg.SettlingDelay <= 0 {
			c.enterListening()
			return
		}
		c.settling = true
		c.settleTimer = time.NewTimer(c.cfg.SettlingDelay)
		c.settleC = c.settleTimer.C

	case s2s.ResponseFailed:
		if !c.inResponse(e.ResponseID) {
			c.drop(ev)
			return
		}
		c.endTurn(OutcomeFailed)
		c.enterListening()
		var err error = e.Err
		if e.Err == nil {
			err = &s2s.ProtocolError{Reason: "response failed"}
		}
		c.cfg.Notifier.Error(err)

	default:
		c.drop(ev)
	}
}

func (c *Controller) acceptsTranscript() bool {
	return c.state == Listening || c.state == UserSpeaking
}

// inResponse reports whether a response event belongs to the running,
// unfinished assistant turn.
func (c *Controller) inResponse(id string) bool {
	if c.state != AssistantResponding || c.settling {
		return false
	}
	return id == "" || c.responseID == "" || id == c.responseID
}

func (c *Controller) enterListening() {
	c.cfg.Capture.Unmute()
	c.transition(Listening)
}

func (c *Controller) enterUserSpeaking() {
	if c.state != UserSpeaking {
		c.transition(UserSpeaking)
	}
}

func (c *Controller) enterAssistantResponding(id string) {
	// Mute before any audio of the reply is routed.
	c.cfg.Capture.Mute()
	if !c.finalUserAt.IsZero() {
		if h := c.cfg.Hooks.OnResponseLatency; h != nil {
			h(time.Since(c.finalUserAt))
		}
		c.finalUserAt = time.Time{}
	}
	c.responseID = id
	c.assistant.Reset()
	if c.state != AssistantResponding {
		c.transition(AssistantResponding)
	}
}

func (c *Controller) endTurn(outcome string) {
	slog.Debug("turn: assistant turn ended", "response_id", c.responseID, "outcome", outcome)
	if h := c.cfg.Hooks.OnTurn; h != nil {
		h(outcome)
	}
	c.assistant.Reset()
}

func (c *Controller) failFatal(err error) {
	if c.fatal {
		return
	}
	c.fatal = true
	c.stopSettle()
	slog.Error("turn: session failed", "state", c.state, "err", err)
	c.cfg.Notifier.Error(err)
	if h := c.cfg.Hooks.OnFatal; h != nil {
		h(err)
	}
}

func (c *Controller) stopSettle() {
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.settleC = nil
	c.settling = false
}

func (c *Controller) transition(s State) {
	prev := c.state
	c.state = s
	c.view.Store(int32(s))
	slog.Debug("turn: state changed", "from", prev, "to", s)
	c.cfg.Notifier.StateChanged(s)
}

func (c *Controller) drop(ev s2s.Event) {
	slog.Debug("turn: dropping event", "event", s2s.EventName(ev), "state", c.state, "settling", c.settling)
}
