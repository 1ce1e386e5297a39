package wire

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. A [*DecodeError] matches the sentinel of its kind.
var (
	// ErrBadJSON marks a text message that is not a valid control event.
	ErrBadJSON = errors.New("wire: bad json")

	// ErrMalformedAudio marks a binary message that does not hold whole
	// 16-bit samples and is not the end-of-stream sentinel.
	ErrMalformedAudio = errors.New("wire: malformed audio")

	// ErrUnsupportedMessage marks a transport envelope the codec does not
	// understand. Callers log and ignore it.
	ErrUnsupportedMessage = errors.New("wire: unsupported message")
)

// DecodeErrorKind classifies a [DecodeError].
type DecodeErrorKind int

const (
	// BadJSON is a text payload that failed to parse or lacks required
	// fields.
	BadJSON DecodeErrorKind = iota + 1

	// MalformedAudio is an odd-length binary payload.
	MalformedAudio
)

// String returns the snake-case name used in logs and metric attributes.
func (k DecodeErrorKind) String() string {
	switch k {
	case BadJSON:
		return "bad_json"
	case MalformedAudio:
		return "malformed_audio"
	default:
		return "unknown"
	}
}

// DecodeError is a non-fatal, per-message classification failure. The
// message is dropped; the session continues.
type DecodeError struct {
	Kind DecodeErrorKind
	// Size is the payload length in bytes.
	Size int
	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s (%d bytes): %v", e.Kind, e.Size, e.Err)
	}
	return fmt.Sprintf("wire: %s (%d bytes)", e.Kind, e.Size)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *DecodeError) Is(target error) bool {
	switch e.Kind {
	case BadJSON:
		return target == ErrBadJSON
	case MalformedAudio:
		return target == ErrMalformedAudio
	}
	return false
}

// ApplicationError is an error the server reported through the error field
// of a control message. It is surfaced to the user and never retried.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return "wire: server error: " + e.Message
}
