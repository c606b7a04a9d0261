package util

import (
	"context"
	"time"
)

// Backoff yields exponentially growing retry delays capped at a maximum.
// A Backoff belongs to one retry loop and is not safe for concurrent use.
type Backoff struct {
	initial  time.Duration
	maxDelay time.Duration
	next     time.Duration
	attempts int
}

// NewBackoff returns a Backoff starting at initial and doubling up to maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{initial: initial, maxDelay: maxDelay, next: initial}
}

// Next returns the delay for the upcoming retry and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempts++
	b.next = min(b.next*2, b.maxDelay)
	return d
}

// Current returns the delay Next would return, without advancing.
func (b *Backoff) Current() time.Duration {
	return b.next
}

// Attempts returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.next = b.initial
	b.attempts = 0
}

// Wait sleeps for the next delay, returning early with ctx's error when it is done.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
