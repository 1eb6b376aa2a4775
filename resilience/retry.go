package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
)

// Configuration keys read by PolicyFromBlock.
const (
	KeyAttempts   = "attempts"
	KeyBackoff    = "backoff"
	KeyMaxBackoff = "max_backoff"
	KeyFactor     = "factor"
	KeyJitter     = "jitter"
)

// Policy configures how a failing operation is retried.
type Policy struct {
	// Attempts is the total number of calls, the first one included. One
	// disables retries.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Factor     float64
	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64
	// RetryIf overrides Retryable.
	RetryIf func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// NoRetry calls the operation once.
func NoRetry() Policy {
	return Policy{Attempts: 1}
}

// DefaultPolicy makes three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Factor:     2,
		Jitter:     0.1,
	}
}

// PolicyFromBlock reads a policy from attempts, backoff, max_backoff, factor
// and jitter. Missing keys keep a single attempt and DefaultPolicy's timings.
// Errors name owner as the offending process.
func PolicyFromBlock(owner string, b *config.Block) (Policy, error) {
	p := DefaultPolicy()
	p.Attempts = 1
	if b == nil {
		return p, nil
	}

	var err error
	if p.Attempts, err = b.GetIntOr(KeyAttempts, p.Attempts); err != nil {
		return p, err
	}
	if b.Has(KeyBackoff) {
		if p.Backoff, err = b.GetDuration(KeyBackoff); err != nil {
			return p, err
		}
	}
	if b.Has(KeyMaxBackoff) {
		if p.MaxBackoff, err = b.GetDuration(KeyMaxBackoff); err != nil {
			return p, err
		}
	}
	if b.Has(KeyFactor) {
		if p.Factor, err = b.GetFloat(KeyFactor); err != nil {
			return p, err
		}
	}
	if b.Has(KeyJitter) {
		if p.Jitter, err = b.GetFloat(KeyJitter); err != nil {
			return p, err
		}
	}

	switch {
	case p.Attempts < 1:
		return p, errors.InvalidConfigurationValue(owner, KeyAttempts, b.GetDefault(KeyAttempts, ""), "must be at least 1")
	case p.Factor < 1:
		return p, errors.InvalidConfigurationValue(owner, KeyFactor, b.GetDefault(KeyFactor, ""), "must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return p, errors.InvalidConfigurationValue(owner, KeyJitter, b.GetDefault(KeyJitter, ""), "must be within [0, 1]")
	}
	return p, nil
}

// Retryable reports whether err may succeed on another attempt. Context
// errors and engine errors are final.
func Retryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.KindOf(err) == ""
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.RetryIf == nil {
		p.RetryIf = Retryable
	}
	return p
}

// Do calls fn until it succeeds, returns a final error, or the policy's
// attempts run out. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.RetryIf(err) || attempt == p.Attempts {
			break
		}

		wait := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff is Backoff * Factor^(attempt-1), jittered and capped.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.Backoff) * math.Pow(p.Factor, float64(attempt-1))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if d <= 0 {
		d = float64(p.Backoff)
	}
	return time.Duration(d)
}
