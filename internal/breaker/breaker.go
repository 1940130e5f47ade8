// Package breaker implements the consecutive-failure circuit breaker used
// for per-symbol fetch cooldowns and the redis mirror.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker is cooling down.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // cooling down, calls skipped
	StateHalfOpen State = 2 // one trial call allowed
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

// Breaker counts consecutive failures of one dependency.
// After maxFailures it opens for cooldown, then lets a single trial call
// through. A successful trial closes it; a failed one reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	OnStateChange func(from, to State)
}

// New creates a closed breaker. now defaults to time.Now.
func New(maxFailures int, cooldown time.Duration, now func() time.Time) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: now}
}

// Allow reports whether a call may be attempted now. An open breaker
// whose cooldown has elapsed moves to half-open and allows the trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

// Execute runs fn when allowed and records its outcome.
// Returns ErrCircuitOpen without calling fn while cooling down.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// Record feeds the outcome of an allowed call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// CurrentState returns the breaker state without advancing it.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
