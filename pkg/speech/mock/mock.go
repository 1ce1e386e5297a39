// Package mock provides an in-memory [speech.Synthesizer] for unit tests.
//
// Utterances stay pending until the test drives them with [Synthesizer.Start]
// and [Synthesizer.Finish], unless AutoFinish is set.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/voxlink/pkg/speech"
)

// Utterance records one accepted Speak call.
type Utterance struct {
	Text    string
	onStart func()
	onEnd   func()
	started bool
	ended   bool
}

// Synthesizer is a mock implementation of [speech.Synthesizer].
type Synthesizer struct {
	mu sync.Mutex

	// SpeakError, if non-nil, is returned by every Speak call.
	SpeakError error

	// AutoFinish runs onStart and onEnd synchronously inside Speak.
	AutoFinish bool

	// CallCountClose records how many times Close was called.
	CallCountClose int

	utterances []*Utterance
	closed     bool
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

// Speak implements [speech.Synthesizer].
func (s *Synthesizer) Speak(_ context.Context, text string, onStart, onEnd func()) error {
	if strings.TrimSpace(text) == "" {
		return speech.ErrEmptyText
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return speech.ErrClosed
	}
	if s.SpeakError != nil {
		err := s.SpeakError
		s.mu.Unlock()
		return err
	}
	u := &Utterance{Text: text, onStart: onStart, onEnd: onEnd}
	s.utterances = append(s.utterances, u)
	auto := s.AutoFinish
	s.mu.Unlock()

	if auto {
		s.fire(u, true)
		s.fire(u, false)
	}
	return nil
}

// Close implements [speech.Synthesizer]. Unfinished utterances are ended.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*Utterance, len(s.utterances))
	copy(pending, s.utterances)
	s.mu.Unlock()

	for _, u := range pending {
		s.fire(u, false)
	}
	return nil
}

// Busy implements [speech.Synthesizer].
func (s *Synthesizer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.utterances {
		if !u.ended {
			return true
		}
	}
	return false
}

// Start fires onStart for utterance i. It reports false if i is out of range
// or the utterance already started.
func (s *Synthesizer) Start(i int) bool {
	u := s.at(i)
	return u != nil && s.fire(u, true)
}

// Finish fires onEnd for utterance i. It reports false if i is out of range
// or the utterance already ended.
func (s *Synthesizer) Finish(i int) bool {
	u := s.at(i)
	return u != nil && s.fire(u, false)
}

// Texts returns the text of every accepted utterance in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.utterances))
	for i, u := range s.utterances {
		out[i] = u.Text
	}
	return out
}

func (s *Synthesizer) at(i int) *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.utterances) {
		return nil
	}
	return s.utterances[i]
}

// fire runs the start or end callback of u at most once.
func (s *Synthesizer) fire(u *Utterance, start bool) bool {
	s.mu.Lock()
	var fn func()
	switch {
	case start && !u.started && !u.ended:
		u.started = true
		fn = u.onStart
	case !start && !u.ended:
		u.ended = true
		fn = u.onEnd
	default:
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
