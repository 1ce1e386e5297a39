// Package resilience guards calls to flaky collaborators with a circuit
// breaker.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open). The
// speech synthesizer wraps every HTTP request in [CircuitBreaker.Execute] so
// that a dead TTS server fails fast instead of stalling each utterance for a
// full request timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open, or half-open with its probe budget spent.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [CircuitBreaker]. Zero values select the
// defaults noted on each field.
type Config struct {
	// Name labels log lines and state-change notifications.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed, and the number of
	// successes required to close, while half-open. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker's lock held.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Default: slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	openedAt       time.Time
	probes         int
	probeSuccesses int
}

// NewCircuitBreaker creates a [CircuitBreaker] in the closed state.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, changed, err := cb.admit()
	cb.notify(changed)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.settle(probe, err == nil))
	return err
}

// transition is a pending state-change notification.
type transition struct {
	from, to State
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, changed *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changed = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, changed, ErrCircuitOpen
		}
		cb.probes++
		return true, changed, nil
	}
	return false, changed, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe, ok bool) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case ok && probe:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenMax {
			return cb.setState(StateClosed)
		}
	case ok:
		cb.failures = 0
	case probe:
		return cb.setState(StateOpen)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			return cb.setState(StateOpen)
		}
	}
	return nil
}

// setState moves the breaker to next and resets the counters that belong to
// it. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(next State) *transition {
	if cb.state == next {
		return nil
	}
	t := &transition{from: cb.state, to: next}
	cb.state = next
	cb.probes, cb.probeSuccesses = 0, 0
	switch next {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	cb.cfg.Logger.Log(context.Background(), level, "circuit breaker state change",
		"name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(t)
}
