package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/parley/pkg/errorsx"
)

// RateLimitError is a provider's "slow down" answer.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker opens after threshold consecutive rate-limit or transient
// failures. Once the cooldown passes a single probe call is let through;
// its success closes the breaker and its failure reopens it.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openUntil time.Time
	probing   bool
	onChange  func(from, to BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now, state: BreakerClosed}
}

// OnStateChange registers fn to run after every transition, outside the
// breaker's lock.
func (c *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Allow reports whether a call may proceed. In half-open only the probe
// is allowed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	switch c.state {
	case BreakerOpen:
		if c.now().Before(c.openUntil) {
			c.mu.Unlock()
			return false
		}
		c.probing = true
		c.transition(BreakerHalfOpen)
		return true
	case BreakerHalfOpen:
		if c.probing {
			c.mu.Unlock()
			return false
		}
		c.probing = true
	}
	c.mu.Unlock()
	return true
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.probing = false
	if c.state == BreakerClosed {
		c.mu.Unlock()
		return
	}
	c.transition(BreakerClosed)
}

// OnError counts err when it is a rate limit or transient. Other errors
// only release a pending probe.
func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	if !IsRateLimit(err) && !errorsx.IsTransient(err) {
		c.probing = false
		c.mu.Unlock()
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || (c.state == BreakerClosed && c.failures >= c.threshold) {
		c.probing = false
		c.openUntil = c.now().Add(c.cooldown)
		c.transition(BreakerOpen)
		return
	}
	c.mu.Unlock()
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition must be called with mu held and releases it.
func (c *CircuitBreaker) transition(to BreakerState) {
	from := c.state
	c.state = to
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil && from != to {
		fn(from, to)
	}
}
