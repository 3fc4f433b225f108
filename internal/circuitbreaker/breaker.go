// Package circuitbreaker guards outbound provider calls so a failing upstream
// sheds load fast instead of tying up workers until their deadlines.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config bounds the breaker's state transitions.
type Config struct {
	MaxHalfOpenRequests uint32        // concurrent probes allowed in half-open
	Interval            time.Duration // closed-state counter reset interval
	Cooldown            time.Duration // open -> half-open wait
	FailureThreshold    uint32        // consecutive failures to trip
	SuccessThreshold    uint32        // consecutive half-open successes to close
}

func DefaultConfig() Config {
	return Config{
		MaxHalfOpenRequests: 3,
		Interval:            60 * time.Second,
		Cooldown:            10 * time.Second,
		FailureThreshold:    5,
		SuccessThreshold:    2,
	}
}

type counts struct {
	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker is a three-state circuit breaker. A generation counter discards
// results from requests that started before the last state change.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

func New(name string, config Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// Execute runs fn if the breaker admits the request and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(generation, err == nil)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.requests >= b.config.MaxHalfOpenRequests {
		return generation, ErrTooManyRequests
	}
	b.counts.requests++
	return generation, nil
}

func (b *Breaker) after(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.counts.consecutiveFailures = 0
		b.counts.consecutiveSuccesses++
		if state == StateHalfOpen && b.counts.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.consecutiveSuccesses = 0
	b.counts.consecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)

	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}
	switch b.state {
	case StateClosed:
		if b.config.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.config.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
