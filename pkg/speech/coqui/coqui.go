// Package coqui speaks text through a Coqui TTS server.
//
// Each utterance is one GET /api/tts request against the standard Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu). The WAV response is decoded, converted
// to mono at the playback rate, and submitted to an [audio.PlaybackDevice] as
// a single chunk. Utterances are spoken strictly one after another by a
// single worker goroutine.
//
// Typical usage:
//
//	s, err := coqui.New("http://localhost:5002", speaker, 16000,
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	err = s.Speak(ctx, "Hello there.", onStart, onEnd)
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/speech"
)

var _ speech.Synthesizer = (*Synthesizer)(nil)

const (
	defaultLanguage  = "en"
	defaultTimeout   = 30 * time.Second
	defaultQueueSize = 16
	apiTTSEndpoint   = "/api/tts"
	detailsEndpoint  = "/details"

	// maxWAVBytes bounds a single response body.
	maxWAVBytes = 32 << 20
)

// Option is a functional option for configuring a [Synthesizer].
type Option func(*Synthesizer)

// WithLanguage sets the language_id query parameter. Default: "en". An empty
// string omits the parameter for single-language models.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithSpeakerID selects a voice on multi-speaker models.
func WithSpeakerID(id string) Option {
	return func(s *Synthesizer) { s.speakerID = id }
}

// WithTimeout sets the per-request HTTP timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.client.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Its Timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.client = c }
}

// WithBreaker guards every synthesis request with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Synthesizer) { s.breaker = cb }
}

// WithQueueSize bounds the number of utterances waiting behind the current
// one. Default: 16.
func WithQueueSize(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMetrics records utterance outcomes and synthesis latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.log = l }
}

type utterance struct {
	ctx     context.Context
	text    string
	onStart func()
	onEnd   func()
}

// Synthesizer implements [speech.Synthesizer] backed by a Coqui TTS server.
type Synthesizer struct {
	serverURL string
	language  string
	speakerID string
	client    *http.Client
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
	log       *slog.Logger
	queueSize int

	device audio.PlaybackDevice
	rate   int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	queue  chan utterance
	closed bool

	// pending counts accepted utterances whose onEnd has not run.
	pending atomic.Int64
}

// New creates a Synthesizer that fetches speech from serverURL and renders
// it on device at rate Hz. The worker goroutine starts immediately; call
// Close to stop it.
func New(serverURL string, device audio.PlaybackDevice, rate int, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	if device == nil {
		return nil, errors.New("coqui: playback device must not be nil")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("coqui: invalid playback rate %d", rate)
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		client:    &http.Client{Timeout: defaultTimeout},
		log:       slog.Default(),
		queueSize: defaultQueueSize,
		device:    device,
		rate:      rate,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.Config{Name: "coqui", Logger: s.log})
	}
	s.queue = make(chan utterance, s.queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s, nil
}

// Speak implements [speech.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, text string, onStart, onEnd func()) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return speech.ErrEmptyText
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return speech.ErrClosed
	}
	s.pending.Add(1)
	select {
	case s.queue <- utterance{ctx: ctx, text: text, onStart: onStart, onEnd: onEnd}:
		return nil
	default:
		s.pending.Add(-1)
		s.record(ctx, "rejected")
		return speech.ErrBusy
	}
}

// Busy implements [speech.Synthesizer].
func (s *Synthesizer) Busy() bool {
	return s.pending.Load() > 0
}

// Close implements [speech.Synthesizer]. It waits for the worker to end every
// pending utterance.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cancel()
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}

// BreakerState reports the state of the circuit breaker guarding the server.
func (s *Synthesizer) BreakerState() resilience.State {
	return s.breaker.State()
}

// Ping checks that the server answers GET /details.
func (s *Synthesizer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+detailsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create details request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}
	return nil
}

// run speaks queued utterances until the queue is closed. After Close it only
// ends the remaining ones.
func (s *Synthesizer) run() {
	defer close(s.done)
	for u := range s.queue {
		if s.ctx.Err() != nil {
			call(u.onEnd)
		} else {
			s.speak(u)
		}
		s.pending.Add(-1)
	}
}

func (s *Synthesizer) speak(u utterance) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(u.ctx, cancel)
	defer stop()

	ctx, span := observe.StartSpan(ctx, "speech.synthesize",
		trace.WithLinks(trace.LinkFromContext(u.ctx)),
		trace.WithAttributes(attribute.Int("speech.text_length", len(u.text))),
	)
	defer span.End()

	start := time.Now()
	var (
		samples  []float32
		fetchErr error
	)
	err := s.breaker.Execute(func() error {
		samples, fetchErr = s.fetch(ctx, u.text)
		if fetchErr != nil && ctx.Err() != nil {
			// Aborted utterances do not count against the server.
			return nil
		}
		return fetchErr
	})
	if err == nil {
		err = fetchErr
	}
	if s.metrics != nil {
		s.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		outcome := "failed"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = "rejected"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("coqui: synthesis failed", "err", err, "outcome", outcome)
		s.record(ctx, outcome)
		call(u.onEnd)
		return
	}

	finished := make(chan struct{})
	call(u.onStart)
	if err := s.device.Submit(audio.Chunk{Samples: samples, SampleRate: s.rate}, func() { close(finished) }); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("coqui: playback rejected utterance", "err", err)
		s.record(ctx, "failed")
		call(u.onEnd)
		return
	}

	select {
	case <-finished:
		s.record(ctx, "spoken")
	case <-ctx.Done():
		s.device.Flush()
		s.record(context.Background(), "failed")
		s.log.Debug("coqui: utterance aborted", "err", ctx.Err())
	}
	call(u.onEnd)
}

// fetch synthesizes text and returns mono samples at the playback rate.
func (s *Synthesizer) fetch(ctx context.Context, text string) ([]float32, error) {
	params := url.Values{}
	params.Set("text", text)
	if s.speakerID != "" {
		params.Set("speaker_id", s.speakerID)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWAVBytes))
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	wav, err := audio.ParseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	samples := audio.ToFormat(wav.Samples, wav.Format, s.rate)
	if len(samples) == 0 {
		return nil, errors.New("coqui: server returned no audio")
	}
	return samples, nil
}

func (s *Synthesizer) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordUtterance(ctx, outcome)
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
