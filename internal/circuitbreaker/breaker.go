// Package circuitbreaker stops calling a notification endpoint after
// repeated failures and lets a single probe through once a cooldown passes.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	DefaultThreshold = 5
	DefaultCooldown  = 2 * time.Minute
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpoint struct {
	state    State
	failures int
	openedAt time.Time
}

// CircuitBreaker tracks consecutive failures per endpoint key.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New returns a breaker that opens after threshold consecutive failures.
// Non-positive arguments fall back to the defaults.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow returns ErrCircuitOpen when key must not be called. After the
// cooldown exactly one caller is let through as a probe.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		return nil
	}

	switch e.state {
	case StateOpen:
		if cb.clock().Sub(e.openedAt) >= cb.cooldown {
			e.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if e, ok := cb.endpoints[key]; ok {
		e.state = StateClosed
		e.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[key]
	if !ok {
		e = &endpoint{}
		cb.endpoints[key] = e
	}

	e.failures++
	if e.state == StateHalfOpen || e.failures >= cb.threshold {
		e.state = StateOpen
		e.openedAt = cb.clock()
	}
}

// State reports the current state for key without changing it.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if e, ok := cb.endpoints[key]; ok {
		return e.state
	}
	return StateClosed
}
