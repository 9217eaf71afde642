// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Transport.
// Use Transport to script inbound events and inspect what the engine sent.
//
// Example:
//
//	tr := mock.NewTransport()
//	p := &mock.Provider{Transport: tr}
//	t, _ := p.Connect(ctx, cfg)
//	tr.Emit(s2s.Ready{})
//	tr.Emit(s2s.ResponseStarted{ResponseID: "r1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kioskvoice/internal/mailbox"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// Compile-time interface assertions.
var (
	_ s2s.Provider  = (*Provider)(nil)
	_ s2s.Transport = (*Transport)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Transport is returned by Connect. If nil, Connect creates a new one and
	// stores it here.
	Transport *Transport

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Transport, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Transport == nil {
		p.Transport = NewTransport()
	}
	return p.Transport, nil
}

// Calls returns a copy of ConnectCalls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Reset forgets the current Transport so the next Connect creates a fresh one.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Transport = nil
}

// Current returns the Transport handed out by the last Connect. Thread-safe.
func (p *Provider) Current() *Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Transport
}

// Transport is a mock implementation of s2s.Transport. Inbound events are
// scripted with Emit; outbound messages are recorded in Sent.
type Transport struct {
	mu sync.Mutex

	// OnCall, when set, is invoked with "transport.send" and "transport.close".
	OnCall func(call string)

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// CloseErr is returned by the first Close.
	CloseErr error

	// Sent records every message passed to Send, in order.
	Sent []s2s.OutgoingMessage

	// TransportStats is returned by Stats.
	TransportStats s2s.Stats

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	inbox  *mailbox.Mailbox[s2s.Event]
	events <-chan s2s.Event
	done   chan struct{}
	closed bool
	sentC  chan struct{}
}

// NewTransport returns an open mock transport.
func NewTransport() *Transport {
	t := &Transport{
		inbox: mailbox.New[s2s.Event](),
		done:  make(chan struct{}),
		sentC: make(chan struct{}, 1024),
	}
	t.events = t.inbox.Stream(t.done)
	return t
}

// Emit queues ev on the inbound stream. Emitting after Close is a no-op.
func (t *Transport) Emit(ev s2s.Event) {
	t.inbox.Put(ev)
}

// EndStream closes the inbound stream after already emitted events, as a
// real transport does after a terminal event.
func (t *Transport) EndStream() {
	t.inbox.Close()
}

// Send implements s2s.Transport.
func (t *Transport) Send(msg s2s.OutgoingMessage) error {
	t.call("transport.send")
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return s2s.ErrClosed
	}
	if t.SendErr != nil {
		return t.SendErr
	}
	t.Sent = append(t.Sent, msg)
	select {
	case t.sentC <- struct{}{}:
	default:
	}
	return nil
}

// SentC is signalled after every recorded Send.
func (t *Transport) SentC() <-chan struct{} { return t.sentC }

// Messages returns a copy of Sent. Thread-safe.
func (t *Transport) Messages() []s2s.OutgoingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]s2s.OutgoingMessage, len(t.Sent))
	copy(out, t.Sent)
	return out
}

// Events implements s2s.Transport.
func (t *Transport) Events() <-chan s2s.Event { return t.events }

// Stats implements s2s.Transport.
func (t *Transport) Stats() s2s.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TransportStats
}

// Close implements s2s.Transport. It ends the event stream immediately.
func (t *Transport) Close() error {
	t.call("transport.close")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	if t.closed {
		return nil
	}
	t.closed = true
	t.inbox.Close()
	close(t.done)
	return t.CloseErr
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCount returns CloseCallCount under the lock.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CloseCallCount
}

func (t *Transport) call(name string) {
	t.mu.Lock()
	fn := t.OnCall
	t.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}
