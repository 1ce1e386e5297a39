// Package transport defines the duplex message channel between a voxlink
// session and the speech server.
//
// A [Transport] delivers whole messages in both directions; framing is the
// transport's concern, so payloads carry no length headers. Implementations
// live in sub-packages (websocket, mock).
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send after the transport has been closed or the
// peer went away, and wraps the cause passed to the OnClose handler.
var ErrClosed = errors.New("transport: closed")

// ErrQueueFull is returned by Send when the outbound queue cannot accept
// another message without blocking.
var ErrQueueFull = errors.New("transport: send queue full")

// MessageType is the envelope kind of a [Message].
type MessageType int

const (
	// MessageUnknown is an envelope the transport could not map to text or
	// binary. Consumers log and drop it.
	MessageUnknown MessageType = iota

	// MessageText carries UTF-8 text.
	MessageText

	// MessageBinary carries raw bytes.
	MessageBinary
)

// String returns the lower-case name of the type.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one whole transport message.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns a text message holding s.
func Text(s string) Message { return Message{Type: MessageText, Data: []byte(s)} }

// Binary returns a binary message holding b.
func Binary(b []byte) Message { return Message{Type: MessageBinary, Data: b} }

// Transport is a duplex, message-oriented connection.
//
// Handlers must be registered before Open. Inbound messages are delivered to
// the OnMessage handler one at a time in arrival order from a single
// goroutine. Send never blocks on the network.
type Transport interface {
	// Open connects to the peer. Calling Open on an open transport is a no-op;
	// calling it after Close returns [ErrClosed].
	Open(ctx context.Context) error

	// IsOpen reports whether the connection is currently usable.
	IsOpen() bool

	// Send queues msg for transmission and returns immediately.
	Send(msg Message) error

	// OnMessage registers the inbound message handler.
	OnMessage(fn func(Message))

	// OnClose registers a handler called once when the connection ends for
	// any reason other than a local Close. The error wraps [ErrClosed].
	OnClose(fn func(error))

	// Close disconnects and discards any messages still queued for sending.
	// It is idempotent.
	Close() error
}
