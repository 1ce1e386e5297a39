package coqui

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/mock"
	"github.com/MrWong99/voxlink/pkg/speech"
)

// ---- test helpers ----

// buildTestWAV returns a mono 16-bit WAV file with n samples of a constant
// value at rate.
func buildTestWAV(rate, n int) []byte {
	le := binary.LittleEndian
	var b []byte
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, uint32(36+2*n))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = le.AppendUint32(b, 16)
	b = le.AppendUint16(b, 1) // PCM
	b = le.AppendUint16(b, 1) // mono
	b = le.AppendUint32(b, uint32(rate))
	b = le.AppendUint32(b, uint32(rate*2))
	b = le.AppendUint16(b, 2)
	b = le.AppendUint16(b, 16)
	b = append(b, "data"...)
	b = le.AppendUint32(b, uint32(2*n))
	for range n {
		b = le.AppendUint16(b, uint16(8192))
	}
	return b
}

// wavServer serves a 0.1s clip at 22050 Hz for every /api/tts request and
// records the requested texts.
type wavServer struct {
	*httptest.Server
	mu    sync.Mutex
	texts []string
	query chan map[string]string
}

func newWAVServer(t *testing.T) *wavServer {
	t.Helper()
	ws := &wavServer{query: make(chan map[string]string, 16)}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		ws.mu.Lock()
		ws.texts = append(ws.texts, q.Get("text"))
		ws.mu.Unlock()
		select {
		case ws.query <- map[string]string{
			"text":        q.Get("text"),
			"speaker_id":  q.Get("speaker_id"),
			"language_id": q.Get("language_id"),
		}:
		default:
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildTestWAV(22050, 2205))
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *wavServer) Texts() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]string(nil), ws.texts...)
}

func mustNew(t *testing.T, serverURL string, dev audio.PlaybackDevice, opts ...Option) *Synthesizer {
	t.Helper()
	s, err := New(serverURL, dev, 16000, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recorder collects callback invocations in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	ended  chan struct{}
}

func newRecorder(n int) *recorder {
	return &recorder{ended: make(chan struct{}, n)}
}

func (r *recorder) callbacks(name string) (onStart, onEnd func()) {
	return func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, name+":start")
		}, func() {
			r.mu.Lock()
			r.events = append(r.events, name+":end")
			r.mu.Unlock()
			r.ended <- struct{}{}
		}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitEnded(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ended:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for onEnd %d of %d", i+1, n)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(time.Millisecond)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---- construction ----

func TestNew_Validation(t *testing.T) {
	dev := &mock.PlaybackDevice{}
	tests := []struct {
		name   string
		url    string
		device audio.PlaybackDevice
		rate   int
	}{
		{name: "empty url", url: "", device: dev, rate: 16000},
		{name: "nil device", url: "http://localhost:5002", device: nil, rate: 16000},
		{name: "zero rate", url: "http://localhost:5002", device: dev, rate: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.url, tt.device, tt.rate); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s := mustNew(t, "http://localhost:5002/", &mock.PlaybackDevice{})
	if s.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, want trailing slash stripped", s.serverURL)
	}
	if s.language != defaultLanguage {
		t.Errorf("language = %q, want %q", s.language, defaultLanguage)
	}
	if s.client.Timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", s.client.Timeout, defaultTimeout)
	}
	if s.BreakerState() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", s.BreakerState())
	}
}

// ---- Speak ----

func TestSpeak_PlaysUtterance(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{AutoComplete: true}
	s := mustNew(t, ws.URL, dev, WithLanguage("de"), WithSpeakerID("p225"))

	rec := newRecorder(1)
	onStart, onEnd := rec.callbacks("a")
	if err := s.Speak(context.Background(), "  Hallo Welt.  ", onStart, onEnd); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	rec.waitEnded(t, 1)

	q := <-ws.query
	if q["text"] != "Hallo Welt." || q["speaker_id"] != "p225" || q["language_id"] != "de" {
		t.Errorf("query = %v", q)
	}
	if got := rec.Events(); !equal(got, []string{"a:start", "a:end"}) {
		t.Errorf("events = %v", got)
	}

	played := dev.Played()
	if len(played) != 1 {
		t.Fatalf("played %d chunks, want 1", len(played))
	}
	if played[0].SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", played[0].SampleRate)
	}
	if len(played[0].Samples) != 1600 {
		t.Errorf("len(Samples) = %d, want 1600", len(played[0].Samples))
	}
}

func TestSpeak_BusyUntilLastUtteranceEnds(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{}
	s := mustNew(t, ws.URL, dev)

	if s.Busy() {
		t.Fatal("Busy() = true before any Speak")
	}
	rec := newRecorder(1)
	onStart, onEnd := rec.callbacks("a")
	if err := s.Speak(context.Background(), "a", onStart, onEnd); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !s.Busy() {
		t.Error("Busy() = false right after Speak")
	}

	waitFor(t, func() bool { return dev.Pending() == 1 })
	if !s.Busy() {
		t.Error("Busy() = false while the utterance plays")
	}
	dev.Complete()
	rec.waitEnded(t, 1)
	waitFor(t, func() bool { return !s.Busy() })
}

func TestSpeak_SerializesUtterances(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{}
	s := mustNew(t, ws.URL, dev)

	rec := newRecorder(3)
	for _, name := range []string{"one", "two", "three"} {
		onStart, onEnd := rec.callbacks(name)
		if err := s.Speak(context.Background(), name, onStart, onEnd); err != nil {
			t.Fatalf("Speak(%q): %v", name, err)
		}
	}

	for i := 0; i < 3; i++ {
		waitFor(t, func() bool { return dev.Pending() == 1 })
		if n := len(dev.Submitted()); n != i+1 {
			t.Fatalf("submitted %d chunks while %d should be out", n, i+1)
		}
		dev.Complete()
	}
	rec.waitEnded(t, 3)

	if got := ws.Texts(); !equal(got, []string{"one", "two", "three"}) {
		t.Errorf("server texts = %v", got)
	}
	want := []string{"one:start", "one:end", "two:start", "two:end", "three:start", "three:end"}
	if got := rec.Events(); !equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSpeak_ServerErrorEndsWithoutStart(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.Config{Name: "coqui", MaxFailures: 2, ResetTimeout: time.Hour})
	dev := &mock.PlaybackDevice{AutoComplete: true}
	s := mustNew(t, srv.URL, dev, WithBreaker(cb))

	rec := newRecorder(3)
	for _, name := range []string{"a", "b", "c"} {
		onStart, onEnd := rec.callbacks(name)
		if err := s.Speak(context.Background(), name, onStart, onEnd); err != nil {
			t.Fatalf("Speak(%q): %v", name, err)
		}
	}
	rec.waitEnded(t, 3)

	if got := rec.Events(); !equal(got, []string{"a:end", "b:end", "c:end"}) {
		t.Errorf("events = %v", got)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2 (third call rejected by open breaker)", n)
	}
	if s.BreakerState() != resilience.StateOpen {
		t.Errorf("breaker = %v, want open", s.BreakerState())
	}
	if len(dev.Submitted()) != 0 {
		t.Errorf("device received %d chunks, want 0", len(dev.Submitted()))
	}
}

func TestSpeak_InvalidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a wav file"))
	}))
	defer srv.Close()

	dev := &mock.PlaybackDevice{AutoComplete: true}
	s := mustNew(t, srv.URL, dev)

	rec := newRecorder(1)
	onStart, onEnd := rec.callbacks("x")
	if err := s.Speak(context.Background(), "hello", onStart, onEnd); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	rec.waitEnded(t, 1)
	if got := rec.Events(); !equal(got, []string{"x:end"}) {
		t.Errorf("events = %v", got)
	}
}

func TestSpeak_PlaybackRejected(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{SubmitError: func(audio.Chunk) error { return errors.New("device lost") }}
	s := mustNew(t, ws.URL, dev)

	rec := newRecorder(1)
	onStart, onEnd := rec.callbacks("x")
	if err := s.Speak(context.Background(), "hello", onStart, onEnd); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	rec.waitEnded(t, 1)
	if got := rec.Events(); !equal(got, []string{"x:start", "x:end"}) {
		t.Errorf("events = %v", got)
	}
}

func TestSpeak_Rejections(t *testing.T) {
	ws := newWAVServer(t)
	s := mustNew(t, ws.URL, &mock.PlaybackDevice{AutoComplete: true})

	if err := s.Speak(context.Background(), "   ", nil, nil); !errors.Is(err, speech.ErrEmptyText) {
		t.Errorf("blank text: err = %v, want ErrEmptyText", err)
	}
	_ = s.Close()
	if err := s.Speak(context.Background(), "hello", nil, nil); !errors.Is(err, speech.ErrClosed) {
		t.Errorf("after Close: err = %v, want ErrClosed", err)
	}
}

func TestSpeak_QueueFull(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := mustNew(t, srv.URL, &mock.PlaybackDevice{AutoComplete: true}, WithQueueSize(1))

	if err := s.Speak(context.Background(), "first", nil, nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	<-entered // worker holds "first"
	if err := s.Speak(context.Background(), "second", nil, nil); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := s.Speak(context.Background(), "third", nil, nil); !errors.Is(err, speech.ErrBusy) {
		t.Fatalf("third: err = %v, want ErrBusy", err)
	}
	_ = s.Close()
}

func TestClose_EndsPendingUtterances(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{}
	s := mustNew(t, ws.URL, dev)

	rec := newRecorder(2)
	for _, name := range []string{"a", "b"} {
		onStart, onEnd := rec.callbacks(name)
		if err := s.Speak(context.Background(), name, onStart, onEnd); err != nil {
			t.Fatalf("Speak(%q): %v", name, err)
		}
	}
	waitFor(t, func() bool { return dev.Pending() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec.waitEnded(t, 2)

	if got := rec.Events(); !equal(got, []string{"a:start", "a:end", "b:end"}) {
		t.Errorf("events = %v", got)
	}
	if dev.CallCountFlush != 1 {
		t.Errorf("Flush called %d times, want 1", dev.CallCountFlush)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSpeak_CallerContextAborts(t *testing.T) {
	ws := newWAVServer(t)
	dev := &mock.PlaybackDevice{}
	s := mustNew(t, ws.URL, dev)

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder(1)
	onStart, onEnd := rec.callbacks("a")
	if err := s.Speak(ctx, "hello", onStart, onEnd); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	waitFor(t, func() bool { return dev.Pending() == 1 })
	cancel()
	rec.waitEnded(t, 1)

	if s.BreakerState() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", s.BreakerState())
	}
}

// ---- Ping ----

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					t.Errorf("path = %q, want %q", r.URL.Path, detailsEndpoint)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"model_name":"tts_models/en/vctk/vits","speakers":["p225"]}`))
			}))
			defer srv.Close()

			s := mustNew(t, srv.URL, &mock.PlaybackDevice{})
			err := s.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Ping: err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
