package fetchers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RetryConfig configures retry behavior for external requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the backoff factor.
	Multiplier float64
	// Jitter is the relative randomness applied to each delay, 0.1 is ±10%.
	Jitter float64
	// RetryableErrors restricts retries to matching errors. When empty every
	// error except context cancellation is retried.
	RetryableErrors []error
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns exponential backoff with three attempts.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// NoRetry performs a single attempt.
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

func (c *RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 0 || c.InitialDelay <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		spread := d * c.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func (c *RetryConfig) retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if len(c.RetryableErrors) == 0 {
		return true
	}
	for _, target := range c.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RetryResult describes a retried operation.
type RetryResult struct {
	Attempts      int
	TotalDuration time.Duration
	Errors        []error
	Success       bool
}

// LastError returns the last error encountered, or nil.
func (r *RetryResult) LastError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1]
}

// Err summarizes a failed operation. The last error stays reachable through
// errors.Is and errors.As.
func (r *RetryResult) Err() error {
	if r.Success || len(r.Errors) == 0 {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	msgs := make([]string, 0, len(r.Errors)-1)
	for i, err := range r.Errors[:len(r.Errors)-1] {
		msgs = append(msgs, fmt.Sprintf("attempt %d: %v", i+1, err))
	}
	return fmt.Errorf("%w (earlier: %s)", r.LastError(), strings.Join(msgs, "; "))
}

// Retry runs fn until it succeeds, the attempts are exhausted or ctx ends.
func Retry[T any](ctx context.Context, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	result := &RetryResult{}
	start := time.Now()
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		value, err := fn(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			return value, result
		}
		result.Errors = append(result.Errors, err)
		if attempt == attempts || !config.retryable(err) {
			break
		}

		wait := config.delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Errors = append(result.Errors, ctx.Err())
			result.TotalDuration = time.Since(start)
			return zero, result
		case <-timer.C:
		}
	}
	result.TotalDuration = time.Since(start)
	return zero, result
}

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops hammering a responder that keeps failing.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker opens after failureThreshold consecutive failures and
// closes again after successThreshold successes in half-open state.
func NewCircuitBreaker(failureThreshold, successThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a request may go through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.successes = 0
		return true
	default:
		return true
	}
}

// Record feeds the outcome of a request into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.successThreshold {
				cb.state = CircuitClosed
				cb.failures = 0
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.lastFailure = cb.now()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}
