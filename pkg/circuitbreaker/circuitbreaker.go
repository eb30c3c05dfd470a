// Package circuitbreaker guards calls to an external dependency, failing
// fast while the dependency is known to be down instead of stacking up
// timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the call while the breaker rejects
// requests.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

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

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold consecutive probe successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes bounds concurrent calls admitted while half-open.
	MaxProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxProbes:        3,
	}
}

type CircuitBreaker struct {
	config Config

	mu         sync.Mutex
	state      State
	failures   int
	successes  int
	probes     int
	stateSince time.Time
}

func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config:     config,
		state:      StateClosed,
		stateSince: time.Now(),
	}
}

// Execute runs fn unless the breaker is rejecting calls. fn's error is
// returned as-is; ErrOpen means fn never ran.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.admit() {
		return ErrOpen
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.stateSince) < cb.config.Cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
		return true

	case StateHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return false
		}
		cb.probes++
		return true

	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0

	// Any failure while probing reopens immediately.
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold) {
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.stateSince = time.Now()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
}
