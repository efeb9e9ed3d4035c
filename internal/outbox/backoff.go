package outbox

import "time"

// Backoff computes exponential retry delays: Base doubled once per prior
// attempt, capped at Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Next returns the time of the next retry given the number of attempts
// already made.
func (b Backoff) Next(now time.Time, attempts int) time.Time {
	delay := b.Cap
	if attempts < 32 {
		d := b.Base << uint(attempts)
		if d > 0 && d < delay {
			delay = d
		}
	}
	return now.Add(delay)
}
