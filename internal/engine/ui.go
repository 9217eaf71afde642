package engine

import (
	"log/slog"

	"github.com/MrWong99/kioskvoice/internal/engine/turn"
	"github.com/MrWong99/kioskvoice/internal/mailbox"
)

// maxQueuedLevels bounds the level samples waiting for a slow UI. Older
// samples are dropped; every other notification is always delivered.
const maxQueuedLevels = 8

// Callbacks are the UI-facing notifications of an [Engine]. Every field is
// optional. Callbacks run one at a time, in order, on a dedicated goroutine,
// so they may block briefly without stalling audio or the turn state machine.
// A callback may call any Engine method, including Shutdown.
type Callbacks struct {
	// OnStateChanged receives every session state transition.
	OnStateChanged func(s turn.State)

	// OnTranscript receives the user's speech as text. Partial text arrives
	// with final=false; the finished utterance with final=true.
	OnTranscript func(text string, final bool)

	// OnAssistantText receives the assistant's reply text: deltas with
	// final=false, then the complete reply once with final=true.
	OnAssistantText func(text string, final bool)

	// OnAudioLevel receives one microphone level in [0, 1] per captured frame.
	OnAudioLevel func(level float32)

	// OnError receives a human-readable reason for every reported failure.
	OnError func(message string)
}

type uiEvent struct {
	fn    func()
	level bool
}

// dispatcher delivers callbacks in order on its own goroutine.
type dispatcher struct {
	q    *mailbox.Mailbox[uiEvent]
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		q: mailbox.New(mailbox.WithLimit(maxQueuedLevels, func(ev uiEvent) bool {
			return ev.level
		})),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.q.Put(uiEvent{fn: fn})
}

func (d *dispatcher) postLevel(fn func()) {
	d.q.Put(uiEvent{fn: fn, level: true})
}

// close stops accepting callbacks. What is already queued is still delivered;
// done is closed after the last one returned. close does not wait, so it is
// safe to call from a callback.
func (d *dispatcher) close() {
	d.q.Close()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.q.Stream(nil) {
		d.deliver(ev.fn)
	}
}

func (d *dispatcher) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: UI callback panicked", "panic", r)
		}
	}()
	fn()
}

// notifier adapts [Callbacks] to [turn.Notifier] through a dispatcher.
type notifier struct {
	cb      Callbacks
	ui      *dispatcher
	onError func(err error)
}

var _ turn.Notifier = (*notifier)(nil)

func (n *notifier) StateChanged(s turn.State) {
	if fn := n.cb.OnStateChanged; fn != nil {
		n.ui.post(func() { fn(s) })
	}
}

func (n *notifier) Transcript(text string, final bool) {
	if fn := n.cb.OnTranscript; fn != nil {
		n.ui.post(func() { fn(text, final) })
	}
}

func (n *notifier) AssistantText(text string, final bool) {
	if fn := n.cb.OnAssistantText; fn != nil {
		n.ui.post(func() { fn(text, final) })
	}
}

func (n *notifier) Error(err error) {
	if n.onError != nil {
		n.onError(err)
	}
	if fn := n.cb.OnError; fn != nil {
		msg := err.Error()
		n.ui.post(func() { fn(msg) })
	}
}

func (n *notifier) Level(v float32) {
	if fn := n.cb.OnAudioLevel; fn != nil {
		n.ui.postLevel(func() { fn(v) })
	}
}
