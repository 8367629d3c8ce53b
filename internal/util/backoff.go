package util

import (
	"sync"
	"time"
)

// Backoff yields exponentially growing delays, doubling from initial up to
// maxDelay. It is safe for concurrent use.
type Backoff struct {
	initial  time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	attempt int
}

// NewBackoff returns a Backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{initial: initial, maxDelay: maxDelay}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.delayLocked()
	if d < b.maxDelay {
		b.attempt++
	}
	return d
}

// Current returns the delay Next would return, without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayLocked()
}

// Reset starts over at the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

func (b *Backoff) delayLocked() time.Duration {
	d := b.initial
	for range b.attempt {
		d *= 2
		if d >= b.maxDelay {
			return b.maxDelay
		}
	}
	return min(d, b.maxDelay)
}
