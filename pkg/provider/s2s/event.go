package s2s

import (
	"fmt"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// Event is one inbound event. The concrete types fall in three groups:
//
//   - transcript events: [TranscriptDelta], [TranscriptComplete]
//   - response events: [ResponseStarted], [ResponseTextDelta],
//     [ResponseAudioDelta], [ResponseCompleted], [ResponseFailed]
//   - lifecycle events: [Ready], [Closed], [Error]
type Event interface {
	event()
}

// TranscriptDelta is a partial transcription of the user's current utterance.
type TranscriptDelta struct {
	ItemID string
	Text   string
}

// TranscriptComplete is the final transcription of one user utterance.
type TranscriptComplete struct {
	ItemID string
	Text   string
}

// ResponseStarted opens an assistant turn.
type ResponseStarted struct {
	ResponseID string
}

// ResponseTextDelta carries a fragment of the assistant's text (or the
// transcript of its spoken audio).
type ResponseTextDelta struct {
	ResponseID string
	Text       string
}

// ResponseAudioDelta carries one decoded frame of assistant speech.
type ResponseAudioDelta struct {
	ResponseID string
	Frame      audio.AudioFrame
}

// ResponseCompleted closes an assistant turn successfully.
type ResponseCompleted struct {
	ResponseID string
}

// ResponseFailed closes an assistant turn unsuccessfully. It is recoverable:
// the session continues.
type ResponseFailed struct {
	ResponseID string
	Err        *ProtocolError
}

// Ready reports that the connection is open and the session is configured.
type Ready struct{}

// Closed reports that the service closed the connection normally. It is
// terminal.
type Closed struct {
	Reason string
}

// Error reports a failure. Terminal errors ([*ConnectError], [*TransportError])
// end the session and are the last event on the stream; non-terminal errors
// ([*ProtocolError] from a service error message) do not.
type Error struct {
	Err      error
	Terminal bool
}

func (TranscriptDelta) event()    {}
func (TranscriptComplete) event() {}
func (ResponseStarted) event()    {}
func (ResponseTextDelta) event()  {}
func (ResponseAudioDelta) event() {}
func (ResponseCompleted) event()  {}
func (ResponseFailed) event()     {}
func (Ready) event()              {}
func (Closed) event()             {}
func (Error) event()              {}

// EventName returns a short, stable name for ev, used in logs and metrics.
func EventName(ev Event) string {
	switch ev.(type) {
	case TranscriptDelta:
		return "transcript.delta"
	case TranscriptComplete:
		return "transcript.complete"
	case ResponseStarted:
		return "response.started"
	case ResponseTextDelta:
		return "response.text_delta"
	case ResponseAudioDelta:
		return "response.audio_delta"
	case ResponseCompleted:
		return "response.completed"
	case ResponseFailed:
		return "response.failed"
	case Ready:
		return "lifecycle.ready"
	case Closed:
		return "lifecycle.closed"
	case Error:
		return "lifecycle.error"
	default:
		return fmt.Sprintf("%T", ev)
	}
}
