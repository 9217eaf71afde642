// Package engine is the voice session engine: it turns a local microphone and
// speaker into two ordered audio streams over one realtime conversation
// session and enforces the listen, respond, listen turn discipline.
//
// An [Engine] owns at most one session at a time. [Engine.Start] opens the
// playback sink, the capture loop, and the transport, and hands the
// transport's event stream to a [turn.Controller]. [Engine.Stop] tears the
// session down in a fixed order that silences the speaker before anything
// else happens:
//
//  1. playback.MuteImmediately, on the caller's goroutine
//  2. controller enters Closing and mutes capture
//  3. capture loop closed
//  4. playback sink closed
//  5. transport closed
//  6. controller enters Disconnected
//
// Every step runs even if an earlier one failed; the errors are joined.
// A fatal failure (device error, transport error) runs the same teardown on a
// background goroutine after the UI has been told why.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/kioskvoice/internal/engine/turn"
	"github.com/MrWong99/kioskvoice/internal/observe"
	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/audio/capture"
	"github.com/MrWong99/kioskvoice/pkg/audio/playback"
	"github.com/MrWong99/kioskvoice/pkg/audio/wavtap"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("engine: session already active")

	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("engine: shut down")
)

// Deps are the collaborators an Engine needs.
type Deps struct {
	// Provider opens transports. Required.
	Provider s2s.Provider

	// Audio opens the microphone and the speaker. Required.
	Audio audio.Driver

	// Metrics records session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// RecordDir, when set, receives capture-<session>.wav and
	// playback-<session>.wav for every session.
	RecordDir string

	// OnDeviceOpened is called after both devices were opened successfully.
	OnDeviceOpened func()
}

// Engine runs voice sessions one at a time. All methods are safe for
// concurrent use.
type Engine struct {
	deps Deps
	cb   Callbacks
	ui   *dispatcher

	mu   sync.Mutex
	sess *session
	shut bool
}

// New returns an idle Engine. It panics if a required dependency is missing.
func New(deps Deps, cb Callbacks) *Engine {
	if deps.Provider == nil {
		panic("engine: Deps.Provider is required")
	}
	if deps.Audio == nil {
		panic("engine: Deps.Audio is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Engine{deps: deps, cb: cb, ui: newDispatcher()}
}

// State returns the state of the running session, or Disconnected.
func (e *Engine) State() turn.State {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return turn.Disconnected
	}
	return s.ctrl.State()
}

// SessionID returns the id of the running session, or "".
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.id
}

// Start begins a session with cfg. Unset fields of cfg take their defaults.
//
// Start returns synchronously:
//   - an error wrapping [*s2s.ConfigError] values if cfg is invalid,
//   - [ErrSessionActive] if a session is running,
//   - [ErrShutdown] after Shutdown,
//   - an [*audio.DeviceError] if a device cannot be opened.
//
// Connection progress is reported through the callbacks: the state moves to
// Listening once the transport is ready, or an error is reported followed by
// Disconnected.
func (e *Engine) Start(ctx context.Context, cfg s2s.SessionConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shut {
		return ErrShutdown
	}
	if e.sess != nil {
		return ErrSessionActive
	}

	s, err := e.open(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	e.sess = s
	return nil
}

// Stop ends the running session and waits until every device and the
// connection have been released. Calling Stop without a session, or again
// after it returned, is a no-op returning nil.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	return e.teardown(s)
}

// Shutdown stops the running session and makes the Engine unusable: later
// Start calls return [ErrShutdown]. Callbacks queued before Shutdown are still
// delivered; wait on [Engine.Done] for the last of them.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.shut {
		e.mu.Unlock()
		return nil
	}
	e.shut = true
	s := e.sess
	e.mu.Unlock()

	var err error
	if s != nil {
		err = e.teardown(s)
	}
	e.ui.close()
	return err
}

// Done is closed after Shutdown once every queued callback has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.ui.done
}

// teardown stops s once and clears it from the engine. Concurrent callers
// wait for the first one; only the first receives the error.
func (e *Engine) teardown(s *session) error {
	first, err := s.stop()
	e.mu.Lock()
	if e.sess == s {
		e.sess = nil
	}
	e.mu.Unlock()
	if !first {
		return nil
	}
	return err
}

// open builds and starts one session. The caller holds e.mu.
func (e *Engine) open(ctx context.Context, cfg s2s.SessionConfig) (_ *session, err error) {
	id := uuid.NewString()
	ctx, span := observe.StartSessionSpan(ctx, id, cfg.Voice)
	log := observe.SessionLogger(ctx, id)

	s := &session{
		id:      id,
		cfg:     cfg,
		ctx:     ctx,
		span:    span,
		log:     log,
		metrics: e.deps.Metrics,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	n := &notifier{cb: e.cb, ui: e.ui, onError: s.recordError}

	defer func() {
		if err != nil {
			s.abort(err)
		}
	}()

	if e.deps.RecordDir != "" {
		s.openRecorders(e.deps.RecordDir)
	}

	// The controller exists before the devices so that device failures
	// reported during startup are queued for it.
	s.ctrl = turn.New(turn.Config{
		Capture:       s,
		Playback:      s,
		Notifier:      n,
		SettlingDelay: cfg.SettlingDelay,
		Hooks: turn.Hooks{
			OnFatal:           func(err error) { go e.fatal(s, err) },
			OnTurn: func(outcome string) {
				s.metrics.RecordTurn(s.ctx, outcome)
				observe.SessionEvent(s.ctx, "turn", observe.Attr("outcome", outcome))
			},
			OnResponseLatency: func(d time.Duration) { s.metrics.RecordResponseLatency(s.ctx, d) },
		},
	})

	format := cfg.Format()
	frameSamples := cfg.FrameSamples()

	s.playback, err = playback.Open(e.deps.Audio, playback.Config{
		Format:       format,
		FrameSamples: frameSamples,
		BufferFrames: cfg.PlaybackBufferFrames,
		OnError:      s.ctrl.Fail,
		Tap:          s.playRec.Write,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open playback: %w", err)
	}

	// Capture starts muted; the controller unmutes it once the session is
	// ready to listen.
	s.capture, err = capture.Open(e.deps.Audio, capture.Config{
		Format:       format,
		FrameSamples: frameSamples,
		Sink:         s.send,
		OnLevel:      n.Level,
		OnError:      s.ctrl.Fail,
		StartMuted:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open capture: %w", err)
	}
	if fn := e.deps.OnDeviceOpened; fn != nil {
		fn()
	}

	s.transport, err = e.deps.Provider.Connect(ctx, cfg)
	if err != nil {
		var cfgErr *s2s.ConfigError
		var connErr *s2s.ConnectError
		if !errors.As(err, &cfgErr) && !errors.As(err, &connErr) {
			err = &s2s.ConnectError{Err: err}
		}
		return nil, fmt.Errorf("engine: connect: %w", err)
	}

	s.metrics.SessionStarted(ctx)
	s.ctrl.Start(s.transport.Events())
	log.Info("engine: session started",
		"voice", cfg.Voice,
		"format", format,
		"frame_samples", frameSamples,
		"settling_delay", cfg.SettlingDelay,
	)
	return s, nil
}

// fatal runs on its own goroutine after the controller gave up on s.
func (e *Engine) fatal(s *session, err error) {
	s.log.Warn("engine: tearing down after fatal error", "err", err)
	if terr := e.teardown(s); terr != nil {
		s.log.Warn("engine: teardown after fatal error incomplete", "err", terr)
	}
}

// ── Session ──────────────────────────────────────────────────────────────────

// session is one running conversation. It implements [turn.Capture] and
// [turn.Playback] by delegating to its devices.
type session struct {
	id      string
	cfg     s2s.SessionConfig
	ctx     context.Context
	span    trace.Span
	log     *slog.Logger
	metrics *observe.Metrics
	started time.Time

	ctrl      *turn.Controller
	capture   *capture.Loop
	playback  *playback.Sink
	transport s2s.Transport
	capRec    *wavtap.Recorder
	playRec   *wavtap.Recorder

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

var (
	_ turn.Capture  = (*session)(nil)
	_ turn.Playback = (*session)(nil)
)

func (s *session) Mute()   { s.capture.Mute() }
func (s *session) Unmute() { s.capture.Unmute() }

func (s *session) Write(frame audio.AudioFrame) error {
	return s.playback.Write(frame)
}

// send forwards one captured frame. It runs on the capture goroutine.
func (s *session) send(frame audio.AudioFrame) {
	s.capRec.WriteFrame(frame)
	if err := s.transport.Send(s2s.AppendAudio{Frame: frame}); err != nil {
		// A failed transport reports itself through its event stream.
		s.log.Debug("engine: dropping captured frame", "seq", frame.Seq, "err", err)
	}
}

func (s *session) recordError(err error) {
	s.metrics.RecordError(s.ctx, errorKind(err))
}

// stop runs the teardown sequence once. It reports whether this call ran it.
func (s *session) stop() (first bool, err error) {
	s.stopOnce.Do(func() {
		first = true
		s.stopErr = s.shutdown()
		close(s.done)
	})
	<-s.done
	return first, s.stopErr
}

func (s *session) shutdown() error {
	var errs []error

	// Audible output must stop before anything else is torn down.
	if err := s.playback.MuteImmediately(); err != nil {
		errs = append(errs, fmt.Errorf("engine: mute playback: %w", err))
	}
	s.ctrl.BeginClosing()
	if err := s.capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: close capture: %w", err))
	}
	if err := s.playback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: close playback: %w", err))
	}
	stats := s.transport.Stats()
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: close transport: %w", err))
	}
	s.ctrl.Finish()
	errs = append(errs, s.closeRecorders()...)

	d := time.Since(s.started)
	s.metrics.RecordFrames(s.ctx, stats.FramesSent, stats.FramesDropped)
	s.metrics.SessionEnded(s.ctx, d)

	err := errors.Join(errs...)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, "teardown incomplete")
	}
	s.span.End()
	s.log.Info("engine: session stopped",
		"duration", d,
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
		"err", err,
	)
	return err
}

// abort releases whatever a failed open managed to acquire.
func (s *session) abort(cause error) {
	s.stopOnce.Do(func() {
		s.playback.Close()
		if s.capture != nil {
			s.capture.Close()
		}
		s.closeRecorders()
		s.span.RecordError(cause)
		s.span.SetStatus(codes.Error, "start failed")
		s.span.End()
		s.recordError(cause)
		s.log.Warn("engine: session start failed", "err", cause)
		close(s.done)
	})
}

func (s *session) openRecorders(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("engine: recording disabled", "dir", dir, "err", err)
		return
	}
	var err error
	format := s.cfg.Format()
	if s.capRec, err = wavtap.Create(filepath.Join(dir, "capture-"+s.id+".wav"), format); err != nil {
		s.log.Warn("engine: capture recording disabled", "err", err)
	}
	if s.playRec, err = wavtap.Create(filepath.Join(dir, "playback-"+s.id+".wav"), format); err != nil {
		s.log.Warn("engine: playback recording disabled", "err", err)
	}
}

func (s *session) closeRecorders() []error {
	var errs []error
	for _, r := range []*wavtap.Recorder{s.capRec, s.playRec} {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: close recording: %w", err))
		}
	}
	return errs
}

// errorKind labels err for the errors metric.
func errorKind(err error) string {
	var (
		devErr   *audio.DeviceError
		connErr  *s2s.ConnectError
		trErr    *s2s.TransportError
		protoErr *s2s.ProtocolError
		cfgErr   *s2s.ConfigError
	)
	switch {
	case errors.As(err, &devErr):
		return "device"
	case errors.As(err, &connErr):
		return "connect"
	case errors.As(err, &trErr):
		return "transport"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &cfgErr):
		return "config"
	default:
		return "other"
	}
}
