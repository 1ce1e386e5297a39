// Package health serves the liveness and readiness endpoints of a running
// voxlink client.
//
// /healthz always answers 200 while the process can serve HTTP. /readyz
// answers 200 only when every registered [Checker] passes, which for voxlink
// means the streaming connection is up, the session has not closed and the
// synthesizer circuit is not open.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under [checkTimeout], and
// returns 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)

	// Checkers never return errors to the group so one failure does not
	// cancel the others.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Transport reports ready while isOpen returns true.
func Transport(isOpen func() bool) Checker {
	return Checker{
		Name: "transport",
		Check: func(context.Context) error {
			if !isOpen() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}

// Session fails once done is closed.
func Session(done <-chan struct{}) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			select {
			case <-done:
				return errors.New("session closed")
			default:
				return nil
			}
		},
	}
}

// Breaker fails while cb is open. A half-open breaker is ready since it is
// admitting probe calls.
func Breaker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %s", s)
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
