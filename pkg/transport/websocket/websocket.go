// Package websocket implements [transport.Transport] over a single WebSocket
// connection using github.com/coder/websocket.
//
// Text frames map to [transport.MessageText] and binary frames to
// [transport.MessageBinary]. Outbound messages are queued and written by a
// dedicated goroutine so Send never blocks on the network; inbound messages
// are read by another goroutine and handed to the OnMessage handler in order.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlink/pkg/transport"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultSendQueue   = 64
	// A 4096-frame block at 48 kHz is well below this; server audio chunks
	// can be larger than the library's 32 KiB default.
	defaultReadLimit = 4 << 20
)

var _ transport.Transport = (*Transport)(nil)

// Option is a functional option for configuring a [Transport].
type Option func(*Transport)

// WithDialTimeout bounds how long Open waits for the handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

// WithSendQueue sets the capacity of the outbound message queue.
func WithSendQueue(n int) Option {
	return func(t *Transport) { t.queueSize = n }
}

// WithHTTPHeader adds headers to the opening handshake request.
func WithHTTPHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h }
}

// WithReadLimit sets the maximum size of a single inbound message in bytes.
func WithReadLimit(n int64) Option {
	return func(t *Transport) { t.readLimit = n }
}

// Transport is a WebSocket client connection. It is single-use: once closed it
// cannot be reopened.
type Transport struct {
	url         string
	dialTimeout time.Duration
	queueSize   int
	header      http.Header
	readLimit   int64

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan transport.Message
	done      chan struct{}
	cancel    context.CancelFunc
	onMessage func(transport.Message)
	onClose   func(error)

	open      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a transport for url (ws:// or wss://). No connection is made
// until [Transport.Open].
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:         url,
		dialTimeout: defaultDialTimeout,
		queueSize:   defaultSendQueue,
		readLimit:   defaultReadLimit,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.queueSize <= 0 {
		t.queueSize = defaultSendQueue
	}
	t.send = make(chan transport.Message, t.queueSize)
	return t
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

// Open implements [transport.Transport].
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return transport.ErrClosed
	}
	if t.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{
		HTTPHeader: t.header,
	})
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(t.readLimit)

	// The connection outlives the caller's context.
	connCtx, connCancel := context.WithCancel(context.Background())
	t.conn = conn
	t.cancel = connCancel
	t.open.Store(true)

	t.wg.Add(2)
	go t.readLoop(connCtx, conn, t.onMessage)
	go t.writeLoop(connCtx, conn)

	slog.Debug("websocket: connected", "url", t.url)
	return nil
}

// IsOpen implements [transport.Transport].
func (t *Transport) IsOpen() bool { return t.open.Load() }

// Send implements [transport.Transport].
func (t *Transport) Send(msg transport.Message) error {
	if !t.open.Load() {
		return transport.ErrClosed
	}
	select {
	case <-t.done:
		return transport.ErrClosed
	case t.send <- msg:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// Close implements [transport.Transport]. Queued messages are discarded.
func (t *Transport) Close() error {
	var err error
	t.shutdown(func(conn *websocket.Conn) {
		err = conn.Close(websocket.StatusNormalClosure, "session closed")
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	}, nil)
	return err
}

// shutdown tears the connection down exactly once. closeConn runs with the
// live connection if there is one; cause, if non-nil, is reported to the
// OnClose handler.
func (t *Transport) shutdown(closeConn func(*websocket.Conn), cause error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.open.Store(false)
		close(t.done)

		t.mu.Lock()
		conn, cancel, onClose := t.conn, t.cancel, t.onClose
		t.mu.Unlock()

		if conn != nil {
			closeConn(conn)
		}
		if cancel != nil {
			cancel()
		}
		if cause != nil && onClose != nil {
			onClose(fmt.Errorf("%w: %w", transport.ErrClosed, cause))
		}
	})
}

// Wait blocks until both connection goroutines have exited. It is mainly
// useful in tests.
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, onMessage func(transport.Message)) {
	defer t.wg.Done()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if t.closed.Load() {
				return
			}
			slog.Info("websocket: connection ended", "url", t.url, "err", err)
			t.shutdown(func(c *websocket.Conn) { _ = c.CloseNow() }, err)
			return
		}
		select {
		case <-t.done:
			return
		default:
		}
		if onMessage != nil {
			onMessage(transport.Message{Type: messageType(typ), Data: data})
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn) {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			typ := websocket.MessageBinary
			if msg.Type == transport.MessageText {
				typ = websocket.MessageText
			}
			if err := conn.Write(ctx, typ, msg.Data); err != nil {
				if t.closed.Load() || errors.Is(err, context.Canceled) {
					return
				}
				slog.Warn("websocket: write failed", "url", t.url, "err", err)
				t.shutdown(func(c *websocket.Conn) { _ = c.CloseNow() }, err)
				return
			}
		}
	}
}

func messageType(typ websocket.MessageType) transport.MessageType {
	switch typ {
	case websocket.MessageText:
		return transport.MessageText
	case websocket.MessageBinary:
		return transport.MessageBinary
	default:
		return transport.MessageUnknown
	}
}
