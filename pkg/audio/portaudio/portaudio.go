// Package portaudio implements [audio.CaptureDevice] and
// [audio.PlaybackDevice] with blocking PortAudio streams
// (github.com/gordonklaus/portaudio).
//
// Each device owns one stream and one goroutine: capture reads a block per
// iteration and hands it to the callback, playback packs queued chunks back
// to back into short output periods and reports completion once a chunk's
// last sample is buffered.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Config selects stream parameters. Zero fields take the defaults listed.
type Config struct {
	// CaptureRate is the microphone sample rate in Hz. Default: 48000.
	CaptureRate int
	// PlaybackRate is the speaker sample rate in Hz. Default: 16000.
	PlaybackRate int
	// BlockSize is the frames per capture buffer. Default: 4096.
	BlockSize int
	// PlaybackPeriod is the frames per playback buffer. Default: 20ms at
	// PlaybackRate.
	PlaybackPeriod int
}

func (c *Config) applyDefaults() {
	if c.CaptureRate <= 0 {
		c.CaptureRate = 48000
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 4096
	}
	if c.PlaybackPeriod <= 0 {
		c.PlaybackPeriod = max(c.PlaybackRate/50, 1)
	}
}

// Client owns the PortAudio library handle and both devices.
type Client struct {
	capture  *CaptureDevice
	playback *PlaybackDevice
}

// NewClient initialises PortAudio and opens the default input and output
// streams. The playback stream starts immediately.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	c := &Client{}

	var err error
	if c.capture, err = newCaptureDevice(cfg.CaptureRate, cfg.BlockSize); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.playback, err = newPlaybackDevice(cfg.PlaybackRate, cfg.PlaybackPeriod); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Capture returns the microphone device.
func (c *Client) Capture() *CaptureDevice { return c.capture }

// Playback returns the speaker device.
func (c *Client) Playback() *PlaybackDevice { return c.playback }

// Close stops both streams and terminates PortAudio.
func (c *Client) Close() error {
	var errs []error
	if c.capture != nil {
		errs = append(errs, c.capture.close())
	}
	if c.playback != nil {
		errs = append(errs, c.playback.close())
	}
	errs = append(errs, portaudio.Terminate())
	return errors.Join(errs...)
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureDevice reads the default input stream on its own goroutine.
type CaptureDevice struct {
	stream     *portaudio.Stream
	in         []float32
	sampleRate int

	muted atomic.Bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

func newCaptureDevice(rate, blockSize int) (*CaptureDevice, error) {
	c := &CaptureDevice{in: make([]float32, blockSize), sampleRate: rate}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), blockSize, c.in)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open capture stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// Start implements [audio.CaptureDevice].
func (c *CaptureDevice) Start(onBlock func(audio.CaptureBlock)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start capture stream: %w", err)
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.readLoop(onBlock, c.stop, c.done)
	return nil
}

func (c *CaptureDevice) readLoop(onBlock func(audio.CaptureBlock), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			// Input overflow is recoverable; anything else ends capture.
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: capture overflow")
				continue
			}
			slog.Error("portaudio: capture read failed", "err", err)
			return
		}
		if c.muted.Load() {
			continue
		}
		onBlock(audio.CaptureBlock{Samples: c.in, SampleRate: c.sampleRate})
	}
}

// SetMuted implements [audio.CaptureDevice].
func (c *CaptureDevice) SetMuted(muted bool) { c.muted.Store(muted) }

// Stop implements [audio.CaptureDevice].
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	close(c.stop)
	<-c.done
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop capture stream: %w", err)
	}
	return nil
}

func (c *CaptureDevice) close() error {
	return errors.Join(c.Stop(), c.stream.Close())
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// PlaybackDevice writes queued chunks to the default output stream.
type PlaybackDevice struct {
	stream     *portaudio.Stream
	out        []float32
	writeOut   func() error
	sampleRate int

	queue chan pendingChunk
	// generation is bumped by Flush; chunks queued under an older
	// generation are dropped without completion.
	generation atomic.Uint64
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

type pendingChunk struct {
	samples    []float32
	onComplete func()
	generation uint64
}

var _ audio.PlaybackDevice = (*PlaybackDevice)(nil)

func newPlaybackDevice(rate, period int) (*PlaybackDevice, error) {
	p := newPlayback(rate, period)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), period, p.out)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start playback stream: %w", err)
	}
	p.stream = stream
	p.writeOut = stream.Write
	go p.writeLoop()
	return p, nil
}

func newPlayback(rate, period int) *PlaybackDevice {
	return &PlaybackDevice{
		out:        make([]float32, period),
		sampleRate: rate,
		queue:      make(chan pendingChunk, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Submit(chunk audio.Chunk, onComplete func()) error {
	if len(chunk.Samples) == 0 {
		return errors.New("portaudio: empty chunk")
	}
	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != p.sampleRate {
		samples = audio.ResampleMono(samples, chunk.SampleRate, p.sampleRate)
	}
	select {
	case <-p.stop:
		return errors.New("portaudio: playback device closed")
	case p.queue <- pendingChunk{samples: samples, onComplete: onComplete, generation: p.generation.Load()}:
		return nil
	default:
		return errors.New("portaudio: playback queue full")
	}
}

// Flush implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Flush() { p.generation.Add(1) }

// writeLoop keeps the output buffer filled from the queue. A partly filled
// period waits for the next chunk only if one is already queued; otherwise
// the rest is padded with silence and written.
func (p *PlaybackDevice) writeLoop() {
	defer close(p.done)
	filled := 0
	for {
		var pc pendingChunk
		if filled == 0 {
			select {
			case <-p.stop:
				return
			case pc = <-p.queue:
			}
		} else {
			select {
			case <-p.stop:
				return
			case pc = <-p.queue:
			default:
				clear(p.out[filled:])
				p.flushPeriod()
				filled = 0
				continue
			}
		}
		filled = p.render(pc, filled)
	}
}

// render copies pc into the output buffer behind the first filled frames and
// writes every full period. onComplete runs once the last sample is buffered,
// before the partial tail is written, so a chunk submitted from the callback
// continues the same period. A flushed chunk is dropped without completion.
// It returns the new fill level.
func (p *PlaybackDevice) render(pc pendingChunk, filled int) int {
	samples := pc.samples
	for len(samples) > 0 {
		if pc.generation != p.generation.Load() {
			return filled
		}
		n := copy(p.out[filled:], samples)
		samples = samples[n:]
		filled += n
		if filled < len(p.out) {
			break
		}
		if !p.flushPeriod() {
			// Abandon the rest; completion still lets the caller's queue advance.
			filled = 0
			break
		}
		filled = 0
	}
	if pc.onComplete != nil {
		pc.onComplete()
	}
	return filled
}

// flushPeriod writes the output buffer and reports whether it succeeded.
func (p *PlaybackDevice) flushPeriod() bool {
	if err := p.writeOut(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		slog.Warn("portaudio: playback write failed", "err", err)
		return false
	}
	return true
}

func (p *PlaybackDevice) close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		err = errors.Join(p.stream.Stop(), p.stream.Close())
	})
	return err
}
