// Package speech defines the on-device speech synthesis interface.
//
// In on-device mode the server streams transcripts only and the client speaks
// the assistant's lines itself. The session mutes capture between a
// synthesizer's start and end callbacks so the microphone never records the
// client's own voice.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Speak after the synthesizer was closed.
	ErrClosed = errors.New("speech: synthesizer closed")

	// ErrBusy is returned by Speak when the utterance queue is full.
	ErrBusy = errors.New("speech: utterance queue full")

	// ErrEmptyText is returned by Speak for blank text.
	ErrEmptyText = errors.New("speech: empty text")
)

// Synthesizer speaks text through the local playback device.
//
// Utterances are spoken one at a time in the order Speak accepted them.
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Speak queues text and returns without waiting for audio. When Speak
	// returns nil, onEnd is called exactly once, after onStart if audio was
	// produced, or on its own if synthesis failed or the synthesizer closed
	// first. Both callbacks may run on any goroutine and may be nil.
	Speak(ctx context.Context, text string, onStart, onEnd func()) error

	// Busy reports whether any accepted utterance has not ended yet.
	Busy() bool

	// Close aborts the current utterance, ends every queued one, and
	// releases resources. Close is idempotent.
	Close() error
}
