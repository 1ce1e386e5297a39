// Package session ties one capture stream, one transport, and one playback
// path together for the lifetime of a connection.
//
// A [Session] owns the capture lifecycle state machine. Capture blocks are
// downsampled and sent only while the session is capturing and not paused;
// the check and the send happen under one lock, so no block slips out after
// a mute, pause, or close takes effect. Inbound messages are classified by
// the wire codec and routed to the playback sequencer, the event sink, or
// the on-device synthesizer depending on the negotiated [Mode].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/speech"
	"github.com/MrWong99/voxlink/pkg/transport"
	"github.com/MrWong99/voxlink/pkg/wire"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// DefaultAssistantSpeaker is the speaker whose final lines are spoken in
// on-device mode.
const DefaultAssistantSpeaker = "Fawkes"

// Mode selects where speech audio comes from. It is fixed at construction.
type Mode int

const (
	// ModeServerAudio plays audio frames streamed by the server.
	ModeServerAudio Mode = iota
	// ModeOnDevice speaks transcripts locally; server audio is ignored.
	ModeOnDevice
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeServerAudio:
		return "server"
	case ModeOnDevice:
		return "on_device"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration name to a [Mode].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "server":
		return ModeServerAudio, nil
	case "on_device":
		return ModeOnDevice, nil
	default:
		return 0, fmt.Errorf("session: unknown mode %q", s)
	}
}

// Player is the playback side of a session. [*playback.Sequencer] implements
// it.
type Player interface {
	Enqueue(chunk audio.Chunk)
	EndOfStream()
	Close()
}

// StateChange describes a state transition or a pause toggle. For a pause
// toggle From equals To.
type StateChange struct {
	From   State
	To     State
	Paused bool
}

// EventSink receives everything a user interface shows. Methods are called
// from the transport's read goroutine or the caller of a session method and
// must not call back into the session synchronously.
type EventSink interface {
	OnControlEvent(ev wire.ControlEvent)
	OnApplicationError(err *wire.ApplicationError)
	OnStateChange(change StateChange)
	OnConnection(connected bool)
}

// Config holds the per-session settings.
type Config struct {
	Mode Mode

	// TransportRate is the PCM rate negotiated with the server.
	// Default: [wire.DefaultTransportRate].
	TransportRate int

	// AssistantSpeaker filters which final control events are spoken in
	// on-device mode. Empty speaks every final event.
	AssistantSpeaker string
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithSynthesizer sets the on-device synthesizer. Required for
// [ModeOnDevice].
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(sess *Session) { sess.synth = s }
}

// WithSink sets the event sink. Default: events are dropped.
func WithSink(sink EventSink) Option {
	return func(sess *Session) { sess.sink = sink }
}

// WithMetrics records capture, transport, and transition metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(sess *Session) { sess.metrics = m }
}

// WithLogger sets the base logger. The session adds its ID.
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) { sess.log = l }
}

// Session is one live connection. All exported methods are safe for
// concurrent use.
type Session struct {
	id        string
	cfg       Config
	codec     *wire.Codec
	transport transport.Transport
	capture   audio.CaptureDevice
	player    Player
	synth     speech.Synthesizer
	sink      EventSink
	metrics   *observe.Metrics
	log       *slog.Logger
	ctx       context.Context

	mu      sync.Mutex
	state   State
	paused  bool
	opening bool
	// halted is set when the transport closed underneath the session.
	halted      bool
	deviceMuted bool

	done         chan struct{}
	disconnected chan struct{}
	closeErr     error
}

// New creates an idle session. Nothing is opened until [Session.Open].
func New(cfg Config, tr transport.Transport, capture audio.CaptureDevice, player Player, opts ...Option) (*Session, error) {
	if tr == nil || capture == nil || player == nil {
		return nil, errors.New("session: transport, capture device and player are required")
	}
	if cfg.TransportRate <= 0 {
		cfg.TransportRate = wire.DefaultTransportRate
	}
	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		codec:        wire.NewCodec(cfg.TransportRate),
		transport:    tr,
		capture:      capture,
		player:       player,
		log:          slog.Default(),
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.Mode == ModeOnDevice && s.synth == nil {
		return nil, errors.New("session: on-device mode requires a synthesizer")
	}
	s.ctx = observe.WithSessionID(context.Background(), s.id)
	s.log = s.log.With("session_id", s.id, "mode", cfg.Mode.String())
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the playback-sourcing mode fixed at construction.
func (s *Session) Mode() Mode { return s.cfg.Mode }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Paused reports whether the controller paused capture.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Done is closed once [Session.Close] has released every resource.
func (s *Session) Done() <-chan struct{} { return s.done }

// Disconnected is closed when the transport closes underneath the session.
// Queued playback continues; only sending stops.
func (s *Session) Disconnected() <-chan struct{} { return s.disconnected }

// Open connects the transport, sends the on-device handshake if negotiated,
// and starts capture. On failure everything opened so far is released and
// the session stays idle.
func (s *Session) Open(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle || s.opening {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return ErrClosed
		}
		return invalidTransition(state, EventOpen)
	}
	s.opening = true
	s.mu.Unlock()

	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, s.id), "session.open",
		trace.WithAttributes(attribute.String("session.mode", s.cfg.Mode.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.transport.OnMessage(s.handleMessage)
	s.transport.OnClose(s.handleTransportClose)

	if err := s.transport.Open(ctx); err != nil {
		s.abortOpen()
		return fmt.Errorf("session: open transport: %w", err)
	}
	if s.cfg.Mode == ModeOnDevice {
		if err := s.transport.Send(wire.HandshakeMessage()); err != nil {
			_ = s.transport.Close()
			s.abortOpen()
			return fmt.Errorf("session: send handshake: %w", err)
		}
		s.recordMessage("out", "handshake")
	}
	if err := s.capture.Start(s.onCapture); err != nil {
		_ = s.transport.Close()
		s.abortOpen()
		return fmt.Errorf("session: start capture: %w", err)
	}

	s.mu.Lock()
	s.opening = false
	if s.state == StateClosed {
		// Close ran while the devices were opening and could not stop them.
		s.mu.Unlock()
		_ = s.capture.Stop()
		_ = s.transport.Close()
		return ErrClosed
	}
	change := s.transitionLocked(EventOpen)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(s.ctx, 1)
	}
	s.log.Info("session opened")
	s.notifyConnection(true)
	s.notifyChange(change)
	return nil
}

func (s *Session) abortOpen() {
	s.mu.Lock()
	s.opening = false
	s.mu.Unlock()
}

// MuteForSpeech gates capture while on-device speech plays. It is a no-op
// unless the session is capturing.
func (s *Session) MuteForSpeech() {
	s.apply(EventMuteForSpeech)
}

// SpeechEnded resumes capture after on-device speech. It is a no-op unless
// the session is muted for speech.
func (s *Session) SpeechEnded() {
	s.apply(EventSpeechEnded)
}

func (s *Session) apply(event Event) {
	s.mu.Lock()
	if _, err := Transition(s.state, event); err != nil {
		state := s.state
		s.mu.Unlock()
		s.log.Debug("session: ignoring event", "event", string(event), "state", state.String())
		return
	}
	change := s.transitionLocked(event)
	s.mu.Unlock()
	s.notifyChange(change)
}

// Pause stops sending capture audio without tearing down the device.
func (s *Session) Pause() error { return s.setPaused(true) }

// Resume undoes [Session.Pause].
func (s *Session) Resume() error { return s.setPaused(false) }

// TogglePause flips the pause flag and returns the new value.
func (s *Session) TogglePause() (bool, error) {
	s.mu.Lock()
	paused := !s.paused
	change, err := s.setPausedLocked(paused)
	if err != nil {
		paused = s.paused
	}
	s.mu.Unlock()
	s.reportPause(change)
	return paused, err
}

func (s *Session) setPaused(paused bool) error {
	s.mu.Lock()
	change, err := s.setPausedLocked(paused)
	s.mu.Unlock()
	s.reportPause(change)
	return err
}

// setPausedLocked applies the pause flag and returns the change to report,
// or nil if nothing changed. Must be called with s.mu held.
func (s *Session) setPausedLocked(paused bool) (*StateChange, error) {
	event := EventResume
	if paused {
		event = EventPause
	}
	if _, err := Transition(s.state, event); err != nil {
		if s.state == StateClosed {
			return nil, ErrClosed
		}
		return nil, err
	}
	if s.paused == paused {
		return nil, nil
	}
	s.paused = paused
	s.syncDeviceMuteLocked()
	return &StateChange{From: s.state, To: s.state, Paused: paused}, nil
}

func (s *Session) reportPause(change *StateChange) {
	if change == nil {
		return
	}
	s.log.Info("session: capture paused", "paused", change.Paused)
	s.notifyChange(change)
}

// Close transitions to [StateClosed] from any state and releases capture,
// transport, playback, and synthesizer. No capture audio is sent once Close
// has started. Close is idempotent and returns the first call's error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		<-s.done
		return s.closeErr
	}
	wasOpen := s.state != StateIdle
	change := s.transitionLocked(EventClose)
	s.mu.Unlock()

	_, span := observe.StartSpan(s.ctx, "session.close")
	defer span.End()

	// Devices are released outside the lock: a capture callback blocked on
	// s.mu would otherwise keep the device's Stop from returning.
	var errs []error
	if err := s.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("session: stop capture: %w", err))
	}
	if err := s.transport.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		errs = append(errs, fmt.Errorf("session: close transport: %w", err))
	}
	s.player.Close()
	if s.synth != nil {
		if err := s.synth.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close synthesizer: %w", err))
		}
	}

	s.closeErr = errors.Join(errs...)
	if s.closeErr != nil {
		span.RecordError(s.closeErr)
		span.SetStatus(codes.Error, s.closeErr.Error())
	}
	if wasOpen && s.metrics != nil {
		s.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	close(s.done)

	s.log.Info("session closed")
	s.notifyChange(change)
	return s.closeErr
}

// transitionLocked applies a valid event and returns the change to report.
// Must be called with s.mu held.
func (s *Session) transitionLocked(event Event) *StateChange {
	next, err := Transition(s.state, event)
	if err != nil || next == s.state {
		return nil
	}
	change := &StateChange{From: s.state, To: next, Paused: s.paused}
	s.state = next
	s.syncDeviceMuteLocked()
	if s.metrics != nil {
		s.metrics.RecordTransition(s.ctx, change.From.String(), change.To.String())
	}
	return change
}

// syncDeviceMuteLocked mirrors the send gate onto the capture device so it
// can skip work while nothing would be sent. Must be called with s.mu held.
func (s *Session) syncDeviceMuteLocked() {
	if s.state == StateClosed {
		return
	}
	muted := s.paused || s.state == StateMutedForSpeech
	if muted != s.deviceMuted {
		s.deviceMuted = muted
		s.capture.SetMuted(muted)
	}
}

// onCapture is the capture device callback.
func (s *Session) onCapture(block audio.CaptureBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing || s.paused || s.halted {
		s.recordBlock("gated")
		return
	}

	start := time.Now()
	pcm, err := audio.Downsample(block.Samples, block.SampleRate, s.codec.Rate())
	if err != nil {
		s.recordBlock("dropped")
		s.log.Warn("session: dropping capture block", "err", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ResampleDuration.Record(s.ctx, time.Since(start).Seconds())
	}
	if len(pcm) == 0 {
		s.recordBlock("dropped")
		return
	}

	if err := s.transport.Send(transport.Binary(wire.EncodeOutgoing(pcm))); err != nil {
		s.recordBlock("dropped")
		if errors.Is(err, transport.ErrQueueFull) {
			s.log.Debug("session: send queue full, dropping capture block")
		} else {
			s.log.Warn("session: send failed", "err", err)
		}
		return
	}
	s.recordBlock("sent")
	s.recordMessage("out", wire.KindAudio.String())
}

// handleMessage is the transport's OnMessage handler.
func (s *Session) handleMessage(msg transport.Message) {
	if s.State() == StateClosed {
		return
	}
	if s.cfg.Mode == ModeOnDevice && msg.Type == transport.MessageBinary {
		// Server audio is never decoded in on-device mode.
		s.recordMessage("in", "ignored")
		return
	}

	frame, err := s.codec.Classify(msg)
	if err != nil {
		s.handleDecodeError(err)
		return
	}
	s.recordMessage("in", frame.Kind.String())

	switch frame.Kind {
	case wire.KindControl:
		if s.sink != nil {
			s.sink.OnControlEvent(frame.Control)
		}
		if s.cfg.Mode == ModeOnDevice && s.shouldSpeak(frame.Control) {
			s.speak(frame.Control.Transcript)
		}
	case wire.KindAudio:
		s.player.Enqueue(frame.Chunk)
	case wire.KindEndOfStream:
		s.player.EndOfStream()
	case wire.KindApplicationError:
		s.log.Error("session: server reported an error", "err", frame.Err)
		if s.sink != nil {
			s.sink.OnApplicationError(frame.Err)
		}
	}
}

func (s *Session) handleDecodeError(err error) {
	var de *wire.DecodeError
	switch {
	case errors.As(err, &de):
		s.log.Warn("session: dropping inbound message", "err", err)
		s.recordDecodeError(de.Kind.String())
	case errors.Is(err, wire.ErrUnsupportedMessage):
		s.log.Debug("session: ignoring inbound message", "err", err)
		s.recordDecodeError("unsupported")
	default:
		s.log.Warn("session: dropping inbound message", "err", err)
	}
}

func (s *Session) shouldSpeak(ev wire.ControlEvent) bool {
	if !ev.Final || ev.Transcript == "" {
		return false
	}
	return s.cfg.AssistantSpeaker == "" || ev.Speaker == s.cfg.AssistantSpeaker
}

func (s *Session) speak(text string) {
	err := s.synth.Speak(s.ctx, text, s.MuteForSpeech, s.SpeechEnded)
	if err != nil && !errors.Is(err, speech.ErrEmptyText) {
		s.log.Warn("session: cannot speak transcript", "err", err)
	}
}

// handleTransportClose is the transport's OnClose handler. Sending stops;
// already queued playback keeps going.
func (s *Session) handleTransportClose(cause error) {
	s.mu.Lock()
	if s.state == StateClosed || s.halted {
		s.mu.Unlock()
		return
	}
	s.halted = true
	s.mu.Unlock()

	s.log.Warn("session: transport closed", "err", cause)
	close(s.disconnected)
	s.notifyConnection(false)
}

func (s *Session) notifyChange(change *StateChange) {
	if change == nil || s.sink == nil {
		return
	}
	s.sink.OnStateChange(*change)
}

func (s *Session) notifyConnection(connected bool) {
	if s.sink != nil {
		s.sink.OnConnection(connected)
	}
}

func (s *Session) recordBlock(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCaptureBlock(s.ctx, outcome)
	}
}

func (s *Session) recordMessage(direction, kind string) {
	if s.metrics != nil {
		s.metrics.RecordMessage(s.ctx, direction, kind)
	}
}

func (s *Session) recordDecodeError(kind string) {
	if s.metrics != nil {
		s.metrics.RecordDecodeError(s.ctx, kind)
	}
}
