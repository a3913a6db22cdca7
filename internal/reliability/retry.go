package reliability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the retry schedule for one capability. Retries maps the error
// kinds that are worth another attempt; anything else fails immediately.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Retries     map[Kind]bool
}

// DefaultPolicy is the provider-call schedule: three attempts, exponential
// backoff from a two second base, retrying transient failures and invalid
// output.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Retries:     map[Kind]bool{KindTransient: true, KindInvalidOutput: true},
	}
}

// StorePolicy is the database schedule: quick retries on transient errors
// only. Constraint violations and bad writes are not retryable.
func StorePolicy() Policy {
	return Policy{
		Name:        "store",
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Retries:     map[Kind]bool{KindTransient: true},
	}
}

// Do runs fn under the policy. It returns nil on success, the last error
// after MaxAttempts, or immediately for non-retryable kinds and context
// cancellation. A rate-limited attempt waits the provider-named delay
// instead of the scheduled one.
func (p Policy) Do(ctx context.Context, log *slog.Logger, fn func() error) error {
	if log == nil {
		log = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = p.Multiplier
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0

	bo := &providerDelayBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(attempts-1))}

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		kind := KindTransient
		var se *Error
		if errors.As(err, &se) {
			kind = se.Kind
			bo.override = se.RetryAfter
		}
		if !p.Retries[kind] {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn(p.Name+": retrying", "err", err, "wait", wait)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

// providerDelayBackOff swaps the next scheduled wait for a provider-named
// delay when the last error carried one. The underlying schedule keeps
// advancing, so a rate-limited attempt still counts toward MaxAttempts.
type providerDelayBackOff struct {
	backoff.BackOff
	override time.Duration
}

func (b *providerDelayBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.override > 0 {
		next = b.override
		b.override = 0
	}
	return next
}
