package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event does not apply to the
// current state.
var ErrInvalidTransition = errors.New("session: invalid transition")

// State is the capture lifecycle state of a [Session].
type State int

const (
	// StateIdle is a session that was created but not opened.
	StateIdle State = iota
	// StateCapturing forwards capture audio to the transport, unless paused.
	StateCapturing
	// StateMutedForSpeech discards capture audio while on-device speech plays.
	StateMutedForSpeech
	// StateClosed is terminal.
	StateClosed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateMutedForSpeech:
		return "muted_for_speech"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event drives a [Transition].
type Event string

const (
	EventOpen          Event = "open"
	EventMuteForSpeech Event = "mute_for_speech"
	EventSpeechEnded   Event = "speech_ended"
	EventPause         Event = "pause"
	EventResume        Event = "resume"
	EventClose         Event = "close"
)

// Transition returns the state that follows current on event. Pause and
// resume keep the state; the pause flag lives beside it.
func Transition(current State, event Event) (State, error) {
	if current == StateClosed {
		return current, invalidTransition(current, event)
	}
	if event == EventClose {
		return StateClosed, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventOpen:
			return StateCapturing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCapturing:
		switch event {
		case EventMuteForSpeech:
			return StateMutedForSpeech, nil
		case EventPause, EventResume:
			return current, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateMutedForSpeech:
		switch event {
		case EventSpeechEnded:
			return StateCapturing, nil
		case EventPause, EventResume:
			return current, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("session: unknown state %d", int(current))
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, state, event)
}
