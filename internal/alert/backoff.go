package alert

import "time"

// Backoff is the retry policy for alert delivery: exponential growth from
// Base, capped at Cap, with delivery abandoned (dead-lettered) once Attempts
// reaches MaxAttempts.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the queue defaults: 30s, 1m, 2m, ... capped at 10m,
// five attempts total.
var DefaultBackoff = Backoff{
	Base:        30 * time.Second,
	Cap:         10 * time.Minute,
	MaxAttempts: 5,
}

// Next returns the delay before the given attempt number (1-based). Attempt 1
// waits Base; each further attempt doubles, up to Cap.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Exhausted reports whether the attempt count has reached the retry ceiling.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
