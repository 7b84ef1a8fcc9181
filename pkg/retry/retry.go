// Package retry runs an operation repeatedly until it succeeds, fails with a
// non-retryable error, or exhausts its time or attempt budget.
//
// Polling server state (power state, task state, guest process exit) and
// retrying transient guest faults both go through Do. The scheduling itself is
// a constant back-off from github.com/cenkalti/backoff/v5; this package adds
// the retryable predicate, the budget error classification and logging.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Policy describes how an operation is retried. It is a plain value.
type Policy struct {
	// Name identifies the policy in logs, metrics and errors.
	Name string

	// Timeout bounds the total time spent retrying. Zero means no time budget.
	Timeout time.Duration

	// Interval is the wait between attempts.
	Interval time.Duration

	// Retryable decides whether a failed attempt is tried again.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// MaxAttempts bounds the number of attempts. Zero means no attempt budget.
	MaxAttempts int
}

// Validate checks that the policy terminates.
func (p Policy) Validate() error {
	if p.Timeout <= 0 && p.MaxAttempts <= 0 {
		return vim.NewError(vim.KindInvalidArgument,
			fmt.Sprintf("retry policy %q has neither a timeout nor an attempt limit", p.Name), nil)
	}
	if p.Interval < 0 {
		return vim.NewError(vim.KindInvalidArgument,
			fmt.Sprintf("retry policy %q has a negative interval", p.Name), nil)
	}
	return nil
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Observer receives the outcome of every policy run. Telemetry installs one
// through SetObserver; it must be safe for concurrent use.
type Observer interface {
	ObserveAttempt(policy string, err error)
	ObserveOutcome(policy string, outcome string, attempts int, elapsed time.Duration)
}

// Outcomes reported to an Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
)

var observer Observer

// SetObserver installs a process-wide observer. Call it once during start-up.
func SetObserver(o Observer) {
	observer = o
}

// Do invokes fn until it succeeds or the policy gives up.
//
// A non-retryable error is returned unchanged after the attempt that produced
// it. When the budget runs out the result is a vim timeout error wrapping the
// last failure. An attempt in flight is never abandoned because of the
// budget; ctx cancellation aborts the wait between attempts and is returned
// as is.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	var (
		attempts  int
		last      error
		fatal     bool
		exhausted bool
		started   = time.Now()
	)

	op := func() (T, error) {
		attempts++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		last = err
		if observer != nil {
			observer.ObserveAttempt(p.Name, err)
		}
		if !p.retryable(err) {
			fatal = true
			return res, backoff.Permanent(err)
		}
		if p.Timeout > 0 && time.Since(started) >= p.Timeout {
			exhausted = true
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&budgetBackOff{interval: p.Interval, timeout: p.Timeout, started: started}),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Str("policy", p.Name).
				Int("attempt", attempts).
				Dur("next", next).
				Err(err).
				Msg("retrying")
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}

	res, err := backoff.Retry(ctx, op, opts...)
	elapsed := time.Since(started)

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case fatal:
		outcome = OutcomeFailed
		err = last
	case !exhausted && ctx.Err() != nil:
		outcome = OutcomeCanceled
		if !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%s: %w (last error: %v)", p.Name, ctx.Err(), err)
		}
	default:
		outcome = OutcomeExhausted
		err = vim.NewTimeoutError(
			fmt.Sprintf("%s: gave up after %d attempts in %s", p.Name, attempts, elapsed.Round(time.Millisecond)),
			last).WithOp(p.Name)
	}

	if observer != nil {
		observer.ObserveOutcome(p.Name, outcome, attempts, elapsed)
	}

	if err != nil {
		log.Debug().
			Str("policy", p.Name).
			Str("outcome", outcome).
			Int("attempts", attempts).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("retry finished")
		return zero, err
	}
	return res, nil
}

// budgetBackOff waits a constant interval, shortened so the last wait ends
// when the time budget does.
type budgetBackOff struct {
	interval time.Duration
	timeout  time.Duration
	started  time.Time
}

func (b *budgetBackOff) NextBackOff() time.Duration {
	if b.timeout <= 0 {
		return b.interval
	}
	left := b.timeout - time.Since(b.started)
	if left <= 0 {
		return 0
	}
	return min(left, b.interval)
}

func (b *budgetBackOff) Reset() {}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Always is a Retryable predicate accepting every error.
func Always(error) bool { return true }

// Never is a Retryable predicate rejecting every error.
func Never(error) bool { return false }
