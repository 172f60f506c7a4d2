package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kirychukyurii/hv-balancer/internal/config"
)

// Policy wraps idempotent calls with exponential backoff
type Policy struct {
	cfg    config.RetryConfig
	logger *slog.Logger
}

// New creates a retry policy from configuration
func New(cfg config.RetryConfig, logger *slog.Logger) *Policy {
	return &Policy{cfg: cfg, logger: logger}
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempt budget
// is exhausted or ctx is done. The last error is returned unwrapped.
func (p *Policy) Do(ctx context.Context, name string, op func() error) error {
	attempts := p.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		b.InitialInterval = p.cfg.InitialInterval
	}
	if p.cfg.MaxInterval > 0 {
		b.MaxInterval = p.cfg.MaxInterval
	}
	if p.cfg.Multiplier >= 1 {
		b.Multiplier = p.cfg.Multiplier
	}
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	notify := func(err error, next time.Duration) {
		p.logger.Warn("retrying compute API call",
			slog.String("operation", name),
			slog.Duration("next", next),
			slog.String("error", err.Error()))
	}

	err := backoff.RetryNotify(op, bo, notify)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
