package models

import "time"

// RetryPolicy controls how task failures back off between attempts.
// Backoff doubles from InitialInterval and is capped at MaxInterval, so the
// delay for a given (attempt, policy) pair is deterministic and
// non-decreasing. Once MaxAttempts is reached the item is dead-lettered
// instead of failed outright, so a human can inspect it.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Backoff returns the delay before the next attempt. attempt is the number
// of attempts already made (1 after the first failure).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialInterval
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}
