// Package circuitbreaker isolates calls to a failing downstream dependency.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// ErrCircuitOpen is returned without invoking the call while the circuit is open.
var ErrCircuitOpen = domain.ErrCircuitOpen

const (
	defaultFailureThreshold = 10
	defaultRecoveryTimeout  = 5 * time.Minute
)

// State represents the state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the recovery timeout has elapsed.
	StateOpen
	// StateHalfOpen lets a single probe call through.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// Config configures a circuit breaker.
type Config struct {
	// Name identifies the protected call site in logs and metrics.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a probe is allowed.
	RecoveryTimeout time.Duration
	// IsFailure decides whether an error counts against the circuit.
	// Defaults to any error except context.Canceled.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker lock held; keep it cheap.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu           sync.Mutex
	config       Config
	state        State
	failureCount int
	lastFailure  time.Time
	probing      bool
}

// New creates a closed circuit breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = defaultRecoveryTimeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Breaker{config: cfg, state: StateClosed}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

var errPanicked = errors.New("call panicked")

// Execute runs fn unless the circuit is open. A panic in fn counts as a
// failure and is re-raised.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			b.afterCall(probe, fmt.Errorf("%w: %v", errPanicked, rec))
			panic(rec)
		}
	}()

	callErr := fn(ctx)
	b.afterCall(probe, callErr)

	return callErr
}

// Call runs fn through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, fnErr := fn(ctx)
		if fnErr != nil {
			return fnErr
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) beforeCall() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := b.config.Now().Sub(b.lastFailure)
		if elapsed < b.config.RecoveryTimeout {
			return false, fmt.Errorf("%w: %s retries in %v", ErrCircuitOpen, b.name(), b.config.RecoveryTimeout-elapsed)
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			return false, fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, b.name())
		}
		b.probing = true
		return true, nil
	}

	return false, nil
}

func (b *Breaker) afterCall(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if err == nil {
		b.failureCount = 0
		if b.state != StateClosed {
			b.transitionTo(StateClosed)
		}
		return
	}

	// Errors that do not count leave the state untouched.
	if !b.config.IsFailure(err) {
		return
	}

	b.failureCount++
	b.lastFailure = b.config.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateOpen:
	}
}

func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next
	if next == StateClosed {
		b.probing = false
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name(), prev, next)
	}
}

func (b *Breaker) name() string {
	if b.config.Name == "" {
		return "circuit"
	}
	return b.config.Name
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.transitionTo(StateClosed)
}

// Stats is a snapshot of the breaker.
type Stats struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failureCount"`
	FailureThreshold int       `json:"failureThreshold"`
	LastFailure      time.Time `json:"lastFailure,omitzero"`
}

// Stats returns current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:             b.name(),
		State:            b.state.String(),
		FailureCount:     b.failureCount,
		FailureThreshold: b.config.FailureThreshold,
		LastFailure:      b.lastFailure,
	}
}
