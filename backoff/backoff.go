// Package backoff provides the retry policy for job execution: a
// serializable Config carried on every job record, and the pluggable
// delay strategies it maps to. All strategies are safe for concurrent use
// (they are stateless).
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Kind names the delay growth of a retry policy.
type Kind string

const (
	// KindNone retries after a constant InitialDelay.
	KindNone Kind = "none"
	// KindLinear retries after InitialDelay * (retryCount+1).
	KindLinear Kind = "linear"
	// KindExponential retries after InitialDelay * 2^retryCount.
	KindExponential Kind = "exponential"
)

// ParseKind converts a string to a Kind. The empty string maps to KindNone.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindNone:
		return KindNone, nil
	case KindLinear:
		return KindLinear, nil
	case KindExponential:
		return KindExponential, nil
	default:
		return "", fmt.Errorf("backoff: unknown kind %q", s)
	}
}

// Config is the retry policy stored with a job.
type Config struct {
	// MaxRetries is the number of retries allowed after the first attempt.
	// A job with MaxRetries 5 runs at most six times.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialDelay is the base delay.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// Kind selects how the delay grows.
	Kind Kind `json:"kind" yaml:"kind"`

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Validate reports whether c is a usable policy.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("backoff: negative max retries %d", c.MaxRetries)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("backoff: negative initial delay %v", c.InitialDelay)
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	return nil
}

// Strategy returns the delay strategy that implements c.
func (c Config) Strategy() Strategy {
	switch c.Kind {
	case KindLinear:
		return NewLinear(c.InitialDelay, c.MaxDelay)
	case KindExponential:
		return NewExponential(c.InitialDelay, c.MaxDelay)
	default:
		return NewConstant(c.InitialDelay)
	}
}

// NextDelay returns the delay before the next attempt of a job that has
// already failed retryCount times (0-indexed).
func NextDelay(retryCount int, c Config) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := c.Strategy().Delay(retryCount + 1)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Exhausted reports whether a job that has failed retryCount times has no
// retries left.
func Exhausted(retryCount int, c Config) bool {
	return retryCount >= c.MaxRetries
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f > math.MaxInt64 {
		f = math.MaxInt64
	}
	d := time.Duration(f)
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultConfig returns the policy applied to jobs enqueued without one:
// three exponential retries starting at one second, capped at one minute.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Kind:         KindExponential,
		MaxDelay:     time.Minute,
	}
}
