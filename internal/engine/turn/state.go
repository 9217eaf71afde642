package turn

// State is the session lifecycle state owned by a [Controller].
type State int

const (
	// Disconnected: no session. Initial and final state.
	Disconnected State = iota

	// Connecting: the transport is dialling and configuring the session.
	Connecting

	// Listening: capture is unmuted and streaming to the service.
	Listening

	// UserSpeaking: the service is transcribing a user utterance.
	UserSpeaking

	// AssistantResponding: the assistant is replying; capture is muted.
	AssistantResponding

	// Closing: teardown is in progress.
	Closing
)

// String returns the state name used in logs and by the console UI.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case UserSpeaking:
		return "user_speaking"
	case AssistantResponding:
		return "assistant_responding"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Active reports whether s belongs to a live session.
func (s State) Active() bool {
	return s != Disconnected
}
