package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"casefile/internal/faults"
)

// Mode is the circuit breaker mode.
type Mode int

const (
	ModeClosed Mode = iota
	ModeOpen
	ModeHalfOpen
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeClosed:
		return "closed"
	case ModeOpen:
		return "open"
	case ModeHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// State is the shared breaker state.
type State struct {
	Mode          Mode
	Failures      int
	LastFailure   time.Time
	TrialInFlight bool
}

// EventKind enumerates the inputs of the breaker state machine.
type EventKind int

const (
	// EventRequest asks to admit a call.
	EventRequest EventKind = iota
	// EventSuccess reports a successful call.
	EventSuccess
	// EventFailure reports a failed call.
	EventFailure
	// EventAbandon reports a call given up by its caller; it carries no
	// health signal.
	EventAbandon
)

// Event is one input of Step.
type Event struct {
	Kind EventKind
	At   time.Time
	// Trial marks the outcome of the call admitted in half-open mode.
	Trial bool
}

// BreakerConfig configures the breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open after the last failure.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the defaults used when nothing is configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Validate checks the configured bounds.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("breaker: failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("breaker: reset timeout must be positive, got %s", c.ResetTimeout)
	}
	return nil
}

// Step is the pure transition function of the breaker. For EventRequest the
// boolean reports whether the call is admitted; it is false for other events.
//
// Outcomes of calls admitted before the circuit opened are ignored while it
// is open or half-open; only the half-open trial can close or reopen it.
func Step(s State, ev Event, cfg BreakerConfig) (State, bool) {
	switch ev.Kind {
	case EventRequest:
		switch s.Mode {
		case ModeClosed:
			return s, true
		case ModeOpen:
			if ev.At.Sub(s.LastFailure) < cfg.ResetTimeout {
				return s, false
			}
			s.Mode = ModeHalfOpen
			s.TrialInFlight = true
			return s, true
		case ModeHalfOpen:
			if s.TrialInFlight {
				return s, false
			}
			s.TrialInFlight = true
			return s, true
		}

	case EventSuccess:
		switch {
		case s.Mode == ModeClosed:
			s.Failures = 0
		case s.Mode == ModeHalfOpen && ev.Trial:
			s.Mode = ModeClosed
			s.Failures = 0
			s.TrialInFlight = false
		}

	case EventFailure:
		switch {
		case s.Mode == ModeClosed:
			s.Failures++
			s.LastFailure = ev.At
			if s.Failures >= cfg.FailureThreshold {
				s.Mode = ModeOpen
			}
		case s.Mode == ModeHalfOpen && ev.Trial:
			s.Mode = ModeOpen
			s.Failures++
			s.LastFailure = ev.At
			s.TrialInFlight = false
		}

	case EventAbandon:
		if s.Mode == ModeHalfOpen && ev.Trial {
			s.TrialInFlight = false
		}
	}
	return s, false
}

// BreakerStats is a snapshot of the breaker for diagnostics.
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        int       `json:"consecutive_failures"`
	LastFailure     time.Time `json:"last_failure"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
}

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange registers a hook called after every mode transition,
// outside the breaker lock.
func WithStateChange(fn func(from, to Mode)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker gates calls to one logical endpoint. It is safe for
// concurrent use; all transitions go through Step under a single mutex.
type CircuitBreaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(from, to Mode)

	mu              sync.Mutex
	state           State
	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg: cfg,
		now: time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Do runs fn if the breaker admits the call and records its outcome. A
// rejected call returns *faults.CircuitOpenError without running fn.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	kind := EventFailure
	switch {
	case err == nil:
		kind = EventSuccess
	case errors.Is(err, context.Canceled):
		kind = EventAbandon
	}
	cb.apply(Event{Kind: kind, At: cb.now(), Trial: trial})
	return err
}

func (cb *CircuitBreaker) admit() (bool, error) {
	now := cb.now()

	cb.mu.Lock()
	prev := cb.state
	next, admitted := Step(prev, Event{Kind: EventRequest, At: now}, cb.cfg)
	cb.state = next
	cb.totalCalls++
	var retryAfter time.Duration
	if !admitted {
		cb.totalRejections++
		if next.Mode == ModeOpen {
			retryAfter = cb.cfg.ResetTimeout - now.Sub(next.LastFailure)
		}
	}
	cb.mu.Unlock()

	cb.notify(prev.Mode, next.Mode)
	if !admitted {
		return false, &faults.CircuitOpenError{RetryAfter: retryAfter}
	}
	return next.Mode == ModeHalfOpen, nil
}

func (cb *CircuitBreaker) apply(ev Event) {
	cb.mu.Lock()
	prev := cb.state
	cb.state, _ = Step(prev, ev, cb.cfg)
	if ev.Kind == EventFailure {
		cb.totalFailures++
	}
	next := cb.state
	cb.mu.Unlock()

	cb.notify(prev.Mode, next.Mode)
}

func (cb *CircuitBreaker) notify(from, to Mode) {
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

// State returns a copy of the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a diagnostic snapshot.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:           cb.state.Mode.String(),
		Failures:        cb.state.Failures,
		LastFailure:     cb.state.LastFailure,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.state.Mode
	cb.state = State{}
	cb.mu.Unlock()

	cb.notify(prev, ModeClosed)
}
