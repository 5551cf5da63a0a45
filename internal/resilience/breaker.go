// Package resilience keeps remote calls from stalling the monitor: bounded
// retries with backoff and a circuit breaker for the command long poll.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State uint8

const (
	Closed   State = iota // calls pass
	Open                  // calls fail fast
	HalfOpen              // calls pass on probation
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned by Allow while the breaker fails fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker opens after Threshold consecutive failures, lets calls through
// again once ResetTimeout has passed, and closes after HalfOpenSuccesses of
// those succeed. A failure on probation reopens it.
type Breaker struct {
	cfg  Config
	hook func(from, to State)
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	trials   int
	openedAt time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook registers fn for state changes. fn runs after the breaker's lock
// is released, so it may call back into the breaker.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.hook = fn
	return b
}

// Allow returns ErrOpen while the breaker is open and its reset timeout has
// not passed.
func (b *Breaker) Allow() error {
	var err error
	b.move(func() State {
		if b.state != Open {
			return b.state
		}
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			err = ErrOpen
			return Open
		}
		return HalfOpen
	})
	return err
}

// Success records a call that worked.
func (b *Breaker) Success() {
	b.move(func() State {
		switch b.state {
		case HalfOpen:
			b.trials++
			if b.trials >= b.cfg.HalfOpenSuccesses {
				return Closed
			}
		case Closed:
			b.failures = 0
		}
		return b.state
	})
}

// Failure records a call that failed.
func (b *Breaker) Failure() {
	b.move(func() State {
		b.failures++
		if b.state == HalfOpen || (b.state == Closed && b.failures >= b.cfg.Threshold) {
			return Open
		}
		return b.state
	})
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryIn reports how long until an open breaker lets a call through.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	return max(b.cfg.ResetTimeout-b.now().Sub(b.openedAt), 0)
}

// move applies step under the lock and reports a change to the hook.
func (b *Breaker) move(step func() State) {
	b.mu.Lock()
	from := b.state
	to := step()
	if to != from {
		b.state = to
		b.trials = 0
		switch to {
		case Closed:
			b.failures = 0
		case Open:
			b.openedAt = b.now()
		}
	}
	b.mu.Unlock()

	if to != from && b.hook != nil {
		b.hook(from, to)
	}
}

// ExecuteWithResult runs fn if b allows it and records the outcome.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, nil
}
