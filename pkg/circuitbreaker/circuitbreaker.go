// Package circuitbreaker implements a consecutive-failure circuit breaker.
// The Redis store installs one as a client hook so that requests fail fast
// while the instance is unreachable instead of queueing on dial timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until OpenTimeout elapses.
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

// ErrOpen is returned instead of running a call while the circuit is open or
// while the half-open probe budget is spent.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold consecutive failures open the circuit (default: 5).
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it (default: 1).
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before probing (default: 10s).
	OpenTimeout time.Duration

	// HalfOpenRequests bounds concurrent probes (default: 1).
	HalfOpenRequests int

	// IsFailure decides which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called without the lock held.
	OnStateChange func(name string, from, to State)

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns defaults suited to a local datastore.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Counts are cumulative call outcomes.
type Counts struct {
	Requests            int64
	Failures            int64
	Rejected            int64
	ConsecutiveFailures int
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	counts    Counts
	successes int // consecutive, half-open only
	probes    int // in flight, half-open only
	openedAt  time.Time
}

// New creates a Breaker, filling zero config values with defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Allow reserves a call. On success the caller must report the outcome
// through done exactly once.
func (b *Breaker) Allow() (done func(err error), err error) {
	b.mu.Lock()

	var change *transition
	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			b.counts.Rejected++
			b.mu.Unlock()
			return nil, ErrOpen
		}
		change = b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenRequests {
			b.counts.Rejected++
			b.mu.Unlock()
			b.notify(change)
			return nil, ErrOpen
		}
		b.probes++
	}
	b.counts.Requests++
	b.mu.Unlock()
	b.notify(change)

	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(err) })
	}, nil
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err)
	return err
}

func (b *Breaker) record(err error) {
	failed := err != nil
	if failed && b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}

	b.mu.Lock()
	var change *transition
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if failed {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		switch b.state {
		case StateClosed:
			if b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold {
				change = b.setState(StateOpen)
			}
		case StateHalfOpen:
			change = b.setState(StateOpen)
		}
	} else {
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				change = b.setState(StateClosed)
			}
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

type transition struct{ from, to State }

// setState must be called with the lock held.
func (b *Breaker) setState(to State) *transition {
	if b.state == to {
		return nil
	}
	t := &transition{from: b.state, to: to}
	b.state = to
	b.successes = 0
	b.probes = 0
	if to == StateOpen {
		b.openedAt = b.cfg.Now()
	}
	if to == StateClosed {
		b.counts.ConsecutiveFailures = 0
	}
	return t
}

func (b *Breaker) notify(t *transition) {
	if t != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open circuit whose timeout has elapsed
// still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Reset closes the circuit and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setState(StateClosed)
	b.counts = Counts{}
	b.mu.Unlock()
	b.notify(change)
}
