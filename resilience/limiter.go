package resilience

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket refilled at Rate tokens per second and holding
// at most Burst tokens. It starts full.
type Limiter struct {
	rate  float64
	burst int

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewLimiter creates a limiter. A burst below one becomes one; a rate of
// zero or less never limits.
func NewLimiter(rate float64, burst int) *Limiter {
	burst = max(burst, 1)
	return &Limiter{rate: rate, burst: burst, tokens: float64(burst), last: time.Now()}
}

// Rate returns the refill rate in tokens per second.
func (l *Limiter) Rate() float64 { return l.rate }

// Burst returns the bucket size.
func (l *Limiter) Burst() int { return l.burst }

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait takes a token, blocking until one is available or ctx ends. A token
// reserved by a canceled wait is not returned to the bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	wait := l.reserve()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = float64(l.burst)
	l.last = time.Now()
}

// reserve takes a token, possibly going into debt, and returns how long the
// caller must wait for it.
func (l *Limiter) reserve() time.Duration {
	if l.rate <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

func (l *Limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}
