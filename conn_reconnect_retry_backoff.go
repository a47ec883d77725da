package libim

import (
	"math"
	"sync"
	"time"
)

// BackoffCalculator returns how long to wait before reconnect attempt number attempts (1-based).
type BackoffCalculator func(attempts int) time.Duration

// reconnectPolicy counts consecutive reconnect attempts since the last successful open.
type reconnectPolicy struct {
	mu          sync.Mutex
	calculator  BackoffCalculator
	maxAttempts int
	attempts    int
}

func newReconnectPolicy(calculator BackoffCalculator, maxAttempts int) *reconnectPolicy {
	return &reconnectPolicy{calculator: calculator, maxAttempts: maxAttempts}
}

// next reserves another attempt. ok is false once maxAttempts consecutive attempts were spent;
// a maxAttempts of zero or less never gives up.
func (p *reconnectPolicy) next() (attempt int, delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxAttempts > 0 && p.attempts >= p.maxAttempts {
		return p.attempts, 0, false
	}
	p.attempts++
	return p.attempts, p.calculator(p.attempts), true
}

func (p *reconnectPolicy) reset() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

func (p *reconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// FixedBackoff waits the same delay before every attempt.
func FixedBackoff(delay time.Duration) BackoffCalculator {
	return func(int) time.Duration { return delay }
}

func ExponentialBackoff(attempts int) float64 {
	return (math.Pow(2.0, float64(attempts)) - 1) / 2
}

func ExponentialBackoffSeconds(attempts int) time.Duration {
	return time.Duration(ExponentialBackoff(attempts) * float64(time.Second))
}

// CappedExponentialBackoff grows like ExponentialBackoffSeconds, starting at base and never exceeding max.
func CappedExponentialBackoff(base, max time.Duration) BackoffCalculator {
	return func(attempts int) time.Duration {
		d := base + ExponentialBackoffSeconds(attempts-1)
		if d > max || d < 0 {
			return max
		}
		return d
	}
}
