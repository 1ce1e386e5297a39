package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test"})
	if cb.cfg.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.cfg.MaxFailures)
	}
	if cb.cfg.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.cfg.ResetTimeout)
	}
	if cb.cfg.HalfOpenMax != 1 {
		t.Errorf("HalfOpenMax = %d, want 1", cb.cfg.HalfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v, want errTest", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn ran while the breaker was open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "success closes", probe: succeed, want: StateClosed},
		{name: "failure reopens", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Second})
			_ = cb.Execute(fail)

			clock.Advance(9 * time.Second)
			if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("before timeout: err = %v, want ErrCircuitOpen", err)
			}

			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", cb.State())
			}
			_ = cb.Execute(tt.probe)
			if cb.State() != tt.want {
				t.Fatalf("state = %v, want %v", cb.State(), tt.want)
			}
		})
	}
}

func TestCircuitBreaker_ReopenRestartsTimeout(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Second})
	_ = cb.Execute(fail)
	clock.Advance(10 * time.Second)
	_ = cb.Execute(fail) // failed probe

	clock.Advance(5 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	cb, clock := newTestBreaker(Config{
		Name:         "tts",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clock.Advance(time.Second)
	_ = cb.Execute(succeed)

	want := []string{"tts:closed->open", "tts:open->half-open", "tts:half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
