// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 chunks in both directions.
//
// Each transport runs three goroutines: a connector that dials and configures
// the session, a writer that drains the outbound queue, and a reader that
// decodes server events onto the inbound stream.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/kioskvoice/internal/mailbox"
	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// Compile-time assertions that Provider and transport satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.Transport = (*transport)(nil)

const (
	defaultModel       = "gpt-4o-realtime-preview"
	defaultBaseURL     = "wss://api.openai.com/v1/realtime"
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second

	// readLimit accommodates large response.audio.delta payloads.
	readLimit = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default OpenAI model used when SessionConfig.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the default WebSocket URL used when
// SessionConfig.BaseURL is empty. Primarily used in tests to point at a local
// mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) { p.dialTimeout = d }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API. Credentials come
// from the SessionConfig passed to Connect.
type Provider struct {
	model       string
	baseURL     string
	dialTimeout time.Duration
	httpClient  *http.Client
}

// New creates a new OpenAI Realtime Provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect validates cfg and starts dialling in the background. The returned
// transport accepts Send immediately; audio sent before the session is ready
// waits in the bounded outbound queue.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &s2s.ConfigError{Field: "base_url", Reason: err.Error()}
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	t := newTransport(cfg)
	go t.connect(ctx, u.String(), p)
	return t, nil
}

// ── transport ─────────────────────────────────────────────────────────────────

type transport struct {
	cfg s2s.SessionConfig

	inbox  *mailbox.Mailbox[s2s.Event]
	outbox *mailbox.Mailbox[s2s.OutgoingMessage]
	events <-chan s2s.Event

	// runCtx is cancelled on Close or on a terminal failure.
	runCtx    context.Context
	runCancel context.CancelFunc
	closedC   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	failed    atomic.Bool
	sent      atomic.Uint64
	endOnce   sync.Once
	closeOnce sync.Once
	started   time.Time
}

func newTransport(cfg s2s.SessionConfig) *transport {
	runCtx, cancel := context.WithCancel(context.Background())
	t := &transport{
		cfg:       cfg,
		inbox:     mailbox.New[s2s.Event](),
		runCtx:    runCtx,
		runCancel: cancel,
		closedC:   make(chan struct{}),
		started:   time.Now(),
	}
	t.outbox = mailbox.New(mailbox.WithLimit(cfg.SendQueueFrames, isAudio))
	t.events = t.inbox.Stream(t.closedC)
	return t
}

func isAudio(m s2s.OutgoingMessage) bool {
	_, ok := m.(s2s.AppendAudio)
	return ok
}

func (t *transport) connect(ctx context.Context, wsURL string, p *Provider) {
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	stop := context.AfterFunc(t.runCtx, cancel)
	defer stop()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + t.cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		if t.runCtx.Err() != nil {
			return
		}
		t.fail(&s2s.ConnectError{Err: fmt.Errorf("dial: %w", err)})
		return
	}
	conn.SetReadLimit(readLimit)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.CloseNow()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if err := t.write(newSessionUpdate(t.cfg)); err != nil {
		if t.runCtx.Err() != nil {
			return
		}
		t.fail(&s2s.ConnectError{Err: fmt.Errorf("session update: %w", err)})
		return
	}

	slog.Debug("openai: session configured", "model", t.cfg.Model, "voice", t.cfg.Voice)
	t.inbox.Put(s2s.Ready{})

	go t.writeLoop()
	go t.readLoop()
}

// Send implements s2s.Transport.
func (t *transport) Send(msg s2s.OutgoingMessage) error {
	if t.failed.Load() {
		return s2s.ErrClosed
	}
	evicted, ok := t.outbox.Put(msg)
	if !ok {
		return s2s.ErrClosed
	}
	if evicted > 0 {
		slog.Debug("openai: send queue full, dropped oldest audio", "dropped", evicted)
	}
	return nil
}

// Events implements s2s.Transport.
func (t *transport) Events() <-chan s2s.Event { return t.events }

// Stats implements s2s.Transport.
func (t *transport) Stats() s2s.Stats {
	return s2s.Stats{FramesSent: t.sent.Load(), FramesDropped: t.outbox.Evicted()}
}

// Close terminates the session and releases all resources. Idempotent.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.mu.Unlock()

		t.outbox.Close()
		t.outbox.Clear()
		t.inbox.Close()
		close(t.closedC)
		t.runCancel()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return nil
}

func (t *transport) writeLoop() {
	for {
		select {
		case <-t.runCtx.Done():
			return
		case <-t.outbox.Notify():
		}
		for {
			msg, ok := t.outbox.Take()
			if !ok {
				break
			}
			if err := t.write(t.encode(msg)); err != nil {
				if t.runCtx.Err() == nil {
					t.fail(&s2s.TransportError{Err: fmt.Errorf("write: %w", err)})
				}
				return
			}
			if isAudio(msg) {
				t.sent.Add(1)
			}
		}
	}
}

func (t *transport) encode(msg s2s.OutgoingMessage) any {
	switch m := msg.(type) {
	case s2s.ConfigureSession:
		return newSessionUpdate(m.Config.WithDefaults())
	case s2s.AppendAudio:
		return appendAudioMessage{
			EventID: newEventID(),
			Type:    "input_audio_buffer.append",
			Audio:   base64.StdEncoding.EncodeToString(m.Frame.Data),
		}
	default:
		return nil
	}
}

// readLoop reads events from the WebSocket and dispatches them.
func (t *transport) readLoop() {
	var seq uint64
	for {
		_, data, err := t.conn.Read(t.runCtx)
		if err != nil {
			if t.runCtx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.end(s2s.Closed{Reason: closeReason(err)})
				return
			}
			t.fail(&s2s.TransportError{Err: fmt.Errorf("read: %w", err)})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("openai: ignoring malformed server event", "err", err)
			continue
		}
		if ev, ok := t.translate(&evt, &seq); ok {
			t.inbox.Put(ev)
		}
	}
}

// translate maps one server event onto the s2s event model. It reports false
// for events that have no counterpart.
func (t *transport) translate(evt *serverEvent, seq *uint64) (s2s.Event, bool) {
	switch evt.Type {
	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return nil, false
		}
		return s2s.TranscriptDelta{ItemID: evt.ItemID, Text: evt.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		return s2s.TranscriptComplete{ItemID: evt.ItemID, Text: evt.Transcript}, true

	case "response.created":
		return s2s.ResponseStarted{ResponseID: evt.responseID()}, true

	case "response.audio_transcript.delta", "response.text.delta":
		if evt.Delta == "" {
			return nil, false
		}
		return s2s.ResponseTextDelta{ResponseID: evt.ResponseID, Text: evt.Delta}, true

	case "response.audio.delta":
		if evt.Delta == "" {
			return nil, false
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			slog.Warn("openai: undecodable audio delta", "err", err)
			return nil, false
		}
		frame := audio.AudioFrame{
			Data:       pcm,
			Seq:        *seq,
			SampleRate: t.cfg.SampleRate,
			Channels:   1,
			Timestamp:  time.Since(t.started),
		}
		*seq++
		return s2s.ResponseAudioDelta{ResponseID: evt.ResponseID, Frame: frame}, true

	case "response.done":
		if evt.Response == nil || evt.Response.Status == "completed" {
			return s2s.ResponseCompleted{ResponseID: evt.responseID()}, true
		}
		return s2s.ResponseFailed{ResponseID: evt.responseID(), Err: evt.Response.failure()}, true

	case "error":
		perr := &s2s.ProtocolError{Reason: "unknown error"}
		if evt.Error != nil {
			if evt.Error.Message != "" {
				perr.Reason = evt.Error.Message
			}
			perr.Code = evt.Error.Code
		}
		slog.Warn("openai: server error event", "reason", perr.Reason, "code", perr.Code)
		return s2s.Error{Err: perr}, true

	case "session.created", "session.updated":
		slog.Debug("openai: " + evt.Type)
		return nil, false

	default:
		slog.Debug("openai: ignoring server event", "type", evt.Type)
		return nil, false
	}
}

// fail delivers a terminal error and tears the connection down.
func (t *transport) fail(err error) {
	slog.Error("openai: transport failed", "err", err)
	t.end(s2s.Error{Err: err, Terminal: true})
}

// end delivers the final event, closes the stream behind it, and releases the
// connection. Only the first call has any effect.
func (t *transport) end(last s2s.Event) {
	t.endOnce.Do(func() {
		t.failed.Store(true)
		t.inbox.Put(last)
		t.inbox.Close()
		t.outbox.Close()
		t.runCancel()

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			conn.CloseNow()
		}
	})
}

// write marshals v and writes it as a text WebSocket message.
func (t *transport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(t.runCtx, writeTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return "closed by server"
}

func newEventID() string { return "evt_" + uuid.NewString() }
