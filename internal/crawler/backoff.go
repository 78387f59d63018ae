package crawler

import (
	"sync"
	"time"
)

// maxBackoff caps the exponential delay at five minutes.
const maxBackoff = 300 * time.Second

// SourceBackoff tracks exponential backoff for one metadata source.
// The delay doubles per failure and resets on the first success.
type SourceBackoff struct {
	mu          sync.Mutex
	retryCount  int
	lastAttempt time.Time
	now         func() time.Time
}

// NewSourceBackoff returns a backoff tracker in its ready state.
func NewSourceBackoff() *SourceBackoff {
	return &SourceBackoff{now: time.Now}
}

// Delay returns the current backoff delay.
func (b *SourceBackoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayLocked()
}

func (b *SourceBackoff) delayLocked() time.Duration {
	if b.retryCount == 0 {
		return 0
	}
	shift := b.retryCount
	if shift > 9 {
		// 2^9 s already exceeds the cap.
		shift = 9
	}
	d := time.Duration(1<<uint(shift)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// CanRetryNow reports whether the backoff window has passed.
func (b *SourceBackoff) CanRetryNow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retryCount == 0 {
		return true
	}
	return b.now().Sub(b.lastAttempt) >= b.delayLocked()
}

// RecordFailure doubles the delay and restarts the window.
func (b *SourceBackoff) RecordFailure() {
	b.mu.Lock()
	b.retryCount++
	b.lastAttempt = b.now()
	b.mu.Unlock()
}

// Reset clears the backoff after a success.
func (b *SourceBackoff) Reset() {
	b.mu.Lock()
	b.retryCount = 0
	b.lastAttempt = time.Time{}
	b.mu.Unlock()
}

// FailureCount returns the consecutive failure count.
func (b *SourceBackoff) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryCount
}
