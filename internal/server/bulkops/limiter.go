package bulkops

import (
	"fmt"

	"github.com/wlan-tools/bulkops-backend/internal/domain"
)

// ConcurrencyLimiter is a counting admission gate that bounds how many remote calls
// may be in flight simultaneously for one batch.
//
// Internally it is a buffered-channel permit pool. Goroutines blocked in Acquire are
// parked on the channel's wait queue and served in first-requested-first-served order,
// so a freed permit is always handed to the longest-waiting acquirer.
type ConcurrencyLimiter struct {
	maxConcurrent int
	permits       chan struct{}
}

// NewConcurrencyLimiter creates a limiter with the given capacity.
// Returns domain.ErrInvalidConcurrency if maxConcurrent is not positive.
func NewConcurrencyLimiter(maxConcurrent int) (*ConcurrencyLimiter, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidConcurrency, maxConcurrent)
	}

	limiter := &ConcurrencyLimiter{
		maxConcurrent: maxConcurrent,
		permits:       make(chan struct{}, maxConcurrent),
	}

	for i := 0; i < maxConcurrent; i++ {
		limiter.permits <- struct{}{}
	}

	return limiter, nil
}

// Acquire blocks the calling goroutine until a permit is available, then claims it.
// Acquire does not time out on its own.
func (l *ConcurrencyLimiter) Acquire() {
	<-l.permits
}

// Release returns a permit to the pool. Releasing beyond the limiter's capacity is a
// programming error and fails with domain.ErrOverRelease rather than corrupting the count.
func (l *ConcurrencyLimiter) Release() error {
	select {
	case l.permits <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w (capacity=%d)", domain.ErrOverRelease, l.maxConcurrent)
	}
}

// Available returns the number of currently-unclaimed permits, always within [0, capacity].
func (l *ConcurrencyLimiter) Available() int {
	return len(l.permits)
}

// MaxConcurrent returns the limiter's configured capacity.
func (l *ConcurrencyLimiter) MaxConcurrent() int {
	return l.maxConcurrent
}

// Do acquires a permit, runs fn, and releases the permit on every exit path, including
// when fn panics. An over-release at this point indicates limiter misuse elsewhere and
// is escalated to a panic.
func (l *ConcurrencyLimiter) Do(fn func() error) error {
	l.Acquire()
	defer func() {
		if err := l.Release(); err != nil {
			panic(err)
		}
	}()

	return fn()
}
