// Package transcript renders a session's transcript and status to a terminal.
//
// Interim transcripts overwrite the current line in place; a final
// transcript commits the line and starts a new one. Lines whose speaker or
// recognition confidence is uncertain are drawn in silver.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/wire"
)

var _ session.EventSink = (*Renderer)(nil)

const (
	// uncertainColor is used for lines with uncertain confidence.
	uncertainColor = lipgloss.Color("#C0C0C0")
	errorColor     = lipgloss.Color("#FF5F5F")
	statusColor    = lipgloss.Color("#5FAFFF")

	defaultWidth = 100

	// clearLine returns the cursor to column 0 and erases the line.
	clearLine = "\r\033[K"

	connectedText    = "Connected"
	disconnectedText = "Not Connected"
)

// Option is a functional option for configuring a [Renderer].
type Option func(*Renderer)

// WithColor enables or disables styling. Default: true. Styling is also
// dropped automatically when w is not a color terminal.
func WithColor(enabled bool) Option {
	return func(r *Renderer) { r.color = enabled }
}

// WithWidth sets the wrap width for final lines and the truncation width for
// interim lines. Default: 100.
func WithWidth(width int) Option {
	return func(r *Renderer) {
		if width > 0 {
			r.width = width
		}
	}
}

// Renderer is a [session.EventSink] that writes to a terminal. It is safe for
// concurrent use.
type Renderer struct {
	w     io.Writer
	color bool
	width int

	speaker   lipgloss.Style
	uncertain lipgloss.Style
	errStyle  lipgloss.Style
	status    lipgloss.Style

	mu        sync.Mutex
	interim   string
	connected bool
	state     session.State
	paused    bool
	err       error
}

// New creates a Renderer writing to w.
func New(w io.Writer, opts ...Option) *Renderer {
	r := &Renderer{w: w, color: true, width: defaultWidth}
	for _, o := range opts {
		o(r)
	}
	lr := lipgloss.NewRenderer(w)
	r.speaker = lr.NewStyle().Bold(true)
	r.uncertain = lr.NewStyle().Foreground(uncertainColor)
	r.errStyle = lr.NewStyle().Foreground(errorColor).Bold(true)
	r.status = lr.NewStyle().Foreground(statusColor).Faint(true)
	return r
}

// OnControlEvent implements [session.EventSink].
func (r *Renderer) OnControlEvent(ev wire.ControlEvent) {
	text := normalize(ev.Transcript)
	if text == "" && !ev.Final {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !ev.Final {
		line := truncate.StringWithTail(ev.Speaker+": "+text, uint(r.width), "…")
		r.interim = r.styleLine(ev, line)
		r.write(clearLine + r.interim)
		return
	}

	r.interim = ""
	wrapped := wordwrap.String(ev.Speaker+": "+text, r.width)
	r.write(clearLine + r.styleLine(ev, wrapped) + "\n")
}

// OnApplicationError implements [session.EventSink].
func (r *Renderer) OnApplicationError(err *wire.ApplicationError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printAboveInterim(r.style(r.errStyle, "error: "+err.Message))
}

// OnStateChange implements [session.EventSink].
func (r *Renderer) OnStateChange(change session.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = change.To
	r.paused = change.Paused
	r.printAboveInterim(r.style(r.status, r.statusLine()))
}

// OnConnection implements [session.EventSink].
func (r *Renderer) OnConnection(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
	r.printAboveInterim(r.style(r.status, r.statusLine()))
}

// Err returns the first write error, if any.
func (r *Renderer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// statusLine describes the connection and session state. Must be called with
// r.mu held.
func (r *Renderer) statusLine() string {
	conn := disconnectedText
	if r.connected {
		conn = connectedText
	}
	state := r.state.String()
	if r.paused {
		state += " (paused)"
	}
	return fmt.Sprintf("[%s | %s]", conn, state)
}

// styleLine draws the speaker prefix (the text up to the first ": ") in bold
// and the transcript plain. Uncertain speaker attribution turns the prefix
// silver; uncertain recognition turns the transcript silver.
func (r *Renderer) styleLine(ev wire.ControlEvent, line string) string {
	speakerStyle := r.speaker
	if ev.SpeakerConfidence == wire.ConfidenceUncertain {
		speakerStyle = r.uncertain
	}

	var head string
	body := line
	if prefix := ev.Speaker + ":"; strings.HasPrefix(line, prefix) {
		head = r.style(speakerStyle, prefix)
		body = line[len(prefix):]
	}
	if ev.ASRConfidence != wire.ConfidenceUncertain {
		return head + body
	}

	text := strings.TrimLeft(body, " \n")
	return head + body[:len(body)-len(text)] + r.styleLines(r.uncertain, text)
}

// styleLines styles each line of s on its own so wrapped text is not padded
// into a block.
func (r *Renderer) styleLines(st lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = r.style(st, l)
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) style(st lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return st.Render(s)
}

// printAboveInterim writes a full line without losing the interim line being
// built. Must be called with r.mu held.
func (r *Renderer) printAboveInterim(line string) {
	r.write(clearLine + line + "\n" + r.interim)
}

func (r *Renderer) write(s string) {
	if _, err := io.WriteString(r.w, s); err != nil && r.err == nil {
		r.err = err
	}
}

// normalize collapses runs of whitespace into single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
