// Package mock provides an in-memory [transport.Transport] for unit tests.
//
// Inbound traffic is injected with [Transport.Deliver]; outbound traffic is
// recorded and returned by [Transport.Sent].
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxlink/pkg/transport"
)

// Transport is a mock implementation of [transport.Transport].
type Transport struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error

	// SendError, if non-nil, is returned by every Send.
	SendError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	open      bool
	closed    bool
	sent      []transport.Message
	onMessage func(transport.Message)
	onClose   func(error)
}

var _ transport.Transport = (*Transport)(nil)

// Open implements [transport.Transport].
func (t *Transport) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountOpen++
	if t.closed {
		return transport.ErrClosed
	}
	if t.OpenError != nil {
		return t.OpenError
	}
	t.open = true
	return nil
}

// IsOpen implements [transport.Transport].
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Send implements [transport.Transport].
func (t *Transport) Send(msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return transport.ErrClosed
	}
	if t.SendError != nil {
		return t.SendError
	}
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	t.sent = append(t.sent, transport.Message{Type: msg.Type, Data: data})
	return nil
}

// OnMessage implements [transport.Transport].
func (t *Transport) OnMessage(fn func(transport.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnClose implements [transport.Transport].
func (t *Transport) OnClose(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = fn
}

// Close implements [transport.Transport].
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	t.open = false
	t.closed = true
	return nil
}

// Deliver hands msg to the registered OnMessage handler synchronously, as the
// read goroutine of a real transport would. Messages are dropped once closed.
func (t *Transport) Deliver(msg transport.Message) {
	t.mu.Lock()
	fn := t.onMessage
	closed := t.closed
	t.mu.Unlock()
	if fn != nil && !closed {
		fn(msg)
	}
}

// Drop simulates the peer going away: the transport stops accepting sends and
// the OnClose handler receives cause wrapped in [transport.ErrClosed].
func (t *Transport) Drop(cause error) {
	t.mu.Lock()
	t.open = false
	t.closed = true
	fn := t.onClose
	t.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("%w: %w", transport.ErrClosed, cause))
	}
}

// Sent returns a copy of every message accepted by Send, in order.
func (t *Transport) Sent() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// Reset clears the recorded outbound messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
