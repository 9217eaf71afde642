// Package s2s defines the contract between the voice session engine and a
// realtime speech-to-speech conversation service.
//
// A [Provider] opens one [Transport] per session. The transport owns a single
// bidirectional connection: it serialises [OutgoingMessage] values onto the
// wire and turns inbound wire messages into a typed, ordered [Event] stream.
//
// Connecting is asynchronous. [Provider.Connect] returns a transport at once;
// the outcome of the handshake arrives on the event stream as [Ready] or as a
// terminal [Error]. Transports never reconnect on their own.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// Transport is one open session with the conversation service.
type Transport interface {
	// Send enqueues msg for delivery and returns without waiting for the
	// network. Audio messages are held in a bounded queue; when it is full the
	// oldest queued audio is dropped. Control messages are never dropped.
	// Send returns [ErrClosed] once the transport is closed or has failed.
	Send(msg OutgoingMessage) error

	// Events returns the inbound event stream. Events arrive in network order
	// and are never coalesced. The channel is closed after Close, or after a
	// terminal [Error] or [Closed] event has been delivered.
	Events() <-chan Event

	// Stats returns delivery counters for the outbound audio queue.
	Stats() Stats

	// Close terminates the connection. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider opens transports to one conversation service.
type Provider interface {
	// Connect validates cfg and starts connecting in the background. An invalid
	// cfg is returned synchronously as a [*ConfigError]; every other failure is
	// reported as a terminal [Error] event carrying a [*ConnectError].
	//
	// ctx bounds the handshake only. The caller owns the returned Transport and
	// must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (Transport, error)
}

// Stats counts outbound audio frames.
type Stats struct {
	// FramesSent is the number of audio frames written to the connection.
	FramesSent uint64

	// FramesDropped is the number of audio frames evicted from a full queue.
	FramesDropped uint64
}

// ── Outgoing messages ─────────────────────────────────────────────────────────

// OutgoingMessage is a message sent to the service: [ConfigureSession] or
// [AppendAudio].
type OutgoingMessage interface {
	outgoing()
}

// ConfigureSession (re)sends the session configuration.
type ConfigureSession struct {
	Config SessionConfig
}

// AppendAudio streams one captured microphone frame.
type AppendAudio struct {
	Frame audio.AudioFrame
}

func (ConfigureSession) outgoing() {}
func (AppendAudio) outgoing()      {}
