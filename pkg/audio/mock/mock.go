// Package mock provides in-memory implementations of [audio.CaptureDevice]
// and [audio.PlaybackDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose fields that control return
// values.
//
// Typical usage:
//
//	capture := &mock.CaptureDevice{}
//	speaker := &mock.PlaybackDevice{AutoComplete: true}
//	// ... hand both to the code under test ...
//	capture.Emit(audio.CaptureBlock{Samples: make([]float32, 4096), SampleRate: 48000})
//	got := speaker.Submitted()
package mock

import (
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice]. Blocks are
// injected with [CaptureDevice.Emit].
type CaptureDevice struct {
	mu sync.Mutex

	// StartError is returned by [CaptureDevice.Start].
	StartError error

	// StopError is returned by [CaptureDevice.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// MuteCalls records every argument passed to SetMuted, in order.
	MuteCalls []bool

	onBlock func(audio.CaptureBlock)
	muted   bool
	running bool
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// Start implements [audio.CaptureDevice].
func (c *CaptureDevice) Start(onBlock func(audio.CaptureBlock)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.onBlock = onBlock
	c.running = true
	return nil
}

// SetMuted implements [audio.CaptureDevice].
func (c *CaptureDevice) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MuteCalls = append(c.MuteCalls, muted)
	c.muted = muted
}

// Stop implements [audio.CaptureDevice].
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.running = false
	c.onBlock = nil
	return c.StopError
}

// Emit delivers block to the registered callback as a real device would,
// regardless of the mute flag. It reports whether a callback was invoked.
func (c *CaptureDevice) Emit(block audio.CaptureBlock) bool {
	c.mu.Lock()
	fn := c.onBlock
	running := c.running
	c.mu.Unlock()
	if !running || fn == nil {
		return false
	}
	fn(block)
	return true
}

// Muted reports the last value passed to SetMuted.
func (c *CaptureDevice) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Running reports whether Start succeeded and Stop has not been called since.
func (c *CaptureDevice) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ─── PlaybackDevice ───────────────────────────────────────────────────────────

// PlaybackDevice is a mock implementation of [audio.PlaybackDevice].
//
// With AutoComplete set, every accepted chunk completes synchronously inside
// Submit. Otherwise chunks stay pending until [PlaybackDevice.Complete].
type PlaybackDevice struct {
	mu sync.Mutex

	// AutoComplete completes each chunk before Submit returns.
	AutoComplete bool

	// SubmitError, if set, is consulted for every Submit call; a non-nil
	// return rejects the chunk.
	SubmitError func(chunk audio.Chunk) error

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	submitted []audio.Chunk
	played    []audio.Chunk
	pending   []pendingChunk
}

type pendingChunk struct {
	chunk      audio.Chunk
	onComplete func()
}

var _ audio.PlaybackDevice = (*PlaybackDevice)(nil)

// Submit implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Submit(chunk audio.Chunk, onComplete func()) error {
	p.mu.Lock()
	p.submitted = append(p.submitted, chunk)
	if p.SubmitError != nil {
		if err := p.SubmitError(chunk); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if p.AutoComplete {
		p.played = append(p.played, chunk)
		p.mu.Unlock()
		onComplete()
		return nil
	}
	p.pending = append(p.pending, pendingChunk{chunk: chunk, onComplete: onComplete})
	p.mu.Unlock()
	return nil
}

// Flush implements [audio.PlaybackDevice].
func (p *PlaybackDevice) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountFlush++
	p.pending = nil
}

// Complete finishes the oldest pending chunk and fires its completion. It
// reports false if nothing was pending.
func (p *PlaybackDevice) Complete() bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}
	head := p.pending[0]
	p.pending = p.pending[1:]
	p.played = append(p.played, head.chunk)
	p.mu.Unlock()
	head.onComplete()
	return true
}

// Pending returns the number of chunks submitted but not yet completed.
func (p *PlaybackDevice) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Submitted returns a copy of every chunk passed to Submit, including
// rejected ones.
func (p *PlaybackDevice) Submitted() []audio.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Chunk, len(p.submitted))
	copy(out, p.submitted)
	return out
}

// Played returns a copy of every chunk that completed, in completion order.
func (p *PlaybackDevice) Played() []audio.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Chunk, len(p.played))
	copy(out, p.played)
	return out
}
