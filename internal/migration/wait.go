package migration

import (
	"context"
	"time"
)

// sleep blocks for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollPolicy bounds the wait for an instance to return to ACTIVE.
// Zero MaxAttempts and zero Timeout poll forever.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// exhausted reports whether another poll is allowed after attempts polls and elapsed time
func (p PollPolicy) exhausted(attempts int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	if p.Timeout > 0 && elapsed+p.Interval > p.Timeout {
		return true
	}
	return false
}
