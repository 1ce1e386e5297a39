// Package wire implements the voxlink message protocol spoken over a
// [transport.Transport].
//
// Outbound, the client sends raw 16-bit little-endian PCM at the transport
// rate, one capture block per binary message, optionally preceded by the
// [HandshakeOnDeviceSpeech] text message. Inbound, every message is one of:
//
//   - a JSON control event (text),
//   - a block of 16-bit little-endian PCM (binary, even length),
//   - the end-of-stream sentinel "EOF" (text, or odd-length binary).
//
// [Codec.Classify] maps each inbound message to exactly one [Frame] or a
// non-fatal error.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/transport"
)

const (
	// EndOfStreamSentinel ends the current run of server audio.
	EndOfStreamSentinel = "EOF"

	// HandshakeOnDeviceSpeech tells the server the client synthesises speech
	// itself and must not be sent audio.
	HandshakeOnDeviceSpeech = "clientSideTTS"

	// DefaultTransportRate is the PCM rate both ends use unless configured
	// otherwise.
	DefaultTransportRate = 16000
)

// Kind identifies which variant a [Frame] holds.
type Kind int

const (
	// KindControl carries a [ControlEvent].
	KindControl Kind = iota + 1
	// KindAudio carries an [audio.Chunk].
	KindAudio
	// KindEndOfStream carries nothing.
	KindEndOfStream
	// KindApplicationError carries an [ApplicationError].
	KindApplicationError
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindAudio:
		return "audio"
	case KindEndOfStream:
		return "end_of_stream"
	case KindApplicationError:
		return "application_error"
	default:
		return "unknown"
	}
}

// Frame is a classified inbound message. Exactly the field matching Kind is
// set.
type Frame struct {
	Kind    Kind
	Control ControlEvent
	Chunk   audio.Chunk
	Err     *ApplicationError
}

// ControlFrame wraps a transcript update.
func ControlFrame(ev ControlEvent) Frame { return Frame{Kind: KindControl, Control: ev} }

// AudioFrame wraps a decoded playback chunk.
func AudioFrame(c audio.Chunk) Frame { return Frame{Kind: KindAudio, Chunk: c} }

// EndOfStreamFrame marks the end of a playback run.
func EndOfStreamFrame() Frame { return Frame{Kind: KindEndOfStream} }

func applicationErrorFrame(msg string) Frame {
	return Frame{Kind: KindApplicationError, Err: &ApplicationError{Message: msg}}
}

// Codec classifies inbound messages and encodes outbound audio for one
// negotiated transport rate. The zero value uses [DefaultTransportRate].
type Codec struct {
	rate int
}

// NewCodec returns a codec for PCM at rate Hz.
func NewCodec(rate int) *Codec {
	return &Codec{rate: rate}
}

// Rate returns the transport sample rate.
func (c *Codec) Rate() int {
	if c == nil || c.rate <= 0 {
		return DefaultTransportRate
	}
	return c.rate
}

// Classify decodes msg into a [Frame].
//
// Errors are per-message and non-fatal: a [*DecodeError] (matching
// [ErrBadJSON] or [ErrMalformedAudio]) or [ErrUnsupportedMessage].
func (c *Codec) Classify(msg transport.Message) (Frame, error) {
	switch msg.Type {
	case transport.MessageBinary:
		return c.classifyBinary(msg.Data)
	case transport.MessageText:
		return classifyText(msg.Data)
	default:
		return Frame{}, fmt.Errorf("%w: %s envelope (%d bytes)", ErrUnsupportedMessage, msg.Type, len(msg.Data))
	}
}

func (c *Codec) classifyBinary(data []byte) (Frame, error) {
	if len(data)%2 != 0 {
		// Whole samples are two bytes, so an odd payload can only be the
		// sentinel sent as bytes.
		if isSentinel(data) {
			return EndOfStreamFrame(), nil
		}
		return Frame{}, &DecodeError{Kind: MalformedAudio, Size: len(data)}
	}
	samples, err := audio.DecodeInt16LE(data)
	if err != nil {
		return Frame{}, &DecodeError{Kind: MalformedAudio, Size: len(data), Err: err}
	}
	return AudioFrame(audio.Chunk{Samples: samples, SampleRate: c.Rate()}), nil
}

func classifyText(data []byte) (Frame, error) {
	if isSentinel(data) {
		return EndOfStreamFrame(), nil
	}

	var raw rawControlEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, &DecodeError{Kind: BadJSON, Size: len(data), Err: err}
	}
	if raw.Error != nil && *raw.Error != "" {
		return applicationErrorFrame(*raw.Error), nil
	}
	if raw.Speaker == nil || raw.Transcript == nil {
		return Frame{}, &DecodeError{Kind: BadJSON, Size: len(data), Err: errMissingField}
	}
	return ControlFrame(ControlEvent{
		Speaker:           *raw.Speaker,
		Transcript:        *raw.Transcript,
		Final:             raw.Final,
		SpeakerConfidence: raw.SpeakerConfidence,
		ASRConfidence:     raw.ASRConfidence,
	}), nil
}

var errMissingField = errors.New("speaker and transcript are required")

func isSentinel(data []byte) bool {
	return string(bytes.TrimSpace(data)) == EndOfStreamSentinel
}

// EncodeOutgoing serialises resampled capture samples into the payload of one
// binary message. There is no header.
func EncodeOutgoing(samples []int16) []byte {
	return audio.EncodeInt16LE(samples)
}

// HandshakeMessage returns the text message announcing on-device speech.
func HandshakeMessage() transport.Message {
	return transport.Text(HandshakeOnDeviceSpeech)
}
