// Package playback drives strictly sequential, gapless output of server audio.
//
// A [Sequencer] owns a FIFO of decoded chunks and keeps exactly one of them
// in flight on an [audio.PlaybackDevice]. The device's completion signal
// starts the next chunk, so the gap between chunks is bounded only by the
// device's own scheduling latency.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrRender wraps a device error for a chunk that could not be played. The
// chunk is skipped and the queue continues.
var ErrRender = errors.New("playback: render failed")

// Option is a functional option for configuring a [Sequencer].
type Option func(*Sequencer)

// WithMetrics records queue depth and chunk outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithLogger sets the logger used for skipped chunks and run boundaries.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.log = l }
}

// Sequencer plays chunks one at a time in enqueue order. It is safe for
// concurrent use: enqueues arrive from the transport's read goroutine and
// completions from the device's goroutine.
type Sequencer struct {
	device  audio.PlaybackDevice
	metrics *observe.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	queue []audio.Chunk
	// playing is true from the first dequeue until the queue runs dry.
	playing bool
	// inFlight is true while the device holds a chunk.
	inFlight bool
	// draining guards the advance loop against re-entry from a completion
	// delivered inside Submit.
	draining bool
	closed   bool
	runEnded bool
}

// New creates a sequencer that renders through device.
func New(device audio.PlaybackDevice, opts ...Option) *Sequencer {
	s := &Sequencer{device: device, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends chunk to the queue and starts playback if the sequencer is
// idle. Empty chunks and chunks enqueued after Close are dropped.
func (s *Sequencer) Enqueue(chunk audio.Chunk) {
	if len(chunk.Samples) == 0 {
		s.log.Debug("playback: dropping empty chunk")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.runEnded {
		s.runEnded = false
		s.log.Debug("playback: new run started", "queued", len(s.queue))
	}
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()

	s.addDepth(1)
	s.playNext()
}

// EndOfStream marks the end of the current run. Already queued chunks keep
// playing; nothing is cleared.
func (s *Sequencer) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.runEnded = true
	s.log.Debug("playback: end of stream", "queued", len(s.queue), "playing", s.playing)
}

// IsPlaying reports whether a chunk is being rendered or waiting behind one.
func (s *Sequencer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Len returns the number of chunks waiting, excluding the one in flight.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close clears the queue, resets the playing flag, and flushes the device.
// Completions that arrive afterwards are ignored. Close is idempotent.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.playing = false
	s.inFlight = false
	s.mu.Unlock()

	s.device.Flush()
	s.addDepth(-int64(dropped))
}

// playNext submits queued chunks until one is accepted and still rendering,
// or the queue is empty. Rejected chunks are skipped; chunks that complete
// inside Submit are followed immediately by the next without recursion.
func (s *Sequencer) playNext() {
	s.mu.Lock()
	if s.closed || s.inFlight || s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for {
		if s.closed {
			break
		}
		if len(s.queue) == 0 {
			s.playing = false
			break
		}
		chunk := s.queue[0]
		s.queue[0] = audio.Chunk{}
		s.queue = s.queue[1:]
		s.playing = true
		s.inFlight = true
		s.mu.Unlock()

		s.addDepth(-1)
		err := s.device.Submit(chunk, s.complete)

		s.mu.Lock()
		if err != nil {
			s.inFlight = false
			s.log.Warn("playback: skipping chunk",
				"samples", len(chunk.Samples),
				"err", fmt.Errorf("%w: %w", ErrRender, err))
			s.record("skipped")
			continue
		}
		if s.inFlight {
			// Rendering asynchronously; complete will resume the loop.
			break
		}
	}

	s.draining = false
	s.mu.Unlock()
}

// complete is the device's completion callback for the in-flight chunk.
func (s *Sequencer) complete() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	draining := s.draining
	s.mu.Unlock()

	s.record("played")
	if draining {
		// Submit completed synchronously; the running loop continues.
		return
	}
	s.playNext()
}

func (s *Sequencer) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPlaybackChunk(context.Background(), outcome)
	}
}

func (s *Sequencer) addDepth(n int64) {
	if s.metrics != nil && n != 0 {
		s.metrics.PlaybackQueueDepth.Add(context.Background(), n)
	}
}
