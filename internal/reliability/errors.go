// Package reliability centralises the failure handling every pipeline stage
// shares: a typed error that names what went wrong, one retry policy
// parameterised per capability, a circuit breaker for the scoring path, and
// per-cycle call budgets.
package reliability

import (
	"errors"
	"time"
)

// Kind classifies a stage failure so the orchestrator can decide what to do
// with it without string matching.
type Kind string

const (
	// KindTransient covers timeouts, 5xx responses, rate limits and
	// malformed single inputs. Retried, then skipped.
	KindTransient Kind = "transient"
	// KindInvalidOutput marks provider output that failed validation.
	// Retried up to the stage budget, then the unit is deferred.
	KindInvalidOutput Kind = "invalid_output"
	// KindBudgetExhausted means the per-cycle budget for a capability ran
	// out. Never retried; remaining work waits for the next cycle.
	KindBudgetExhausted Kind = "budget_exhausted"
	// KindSkipped marks work intentionally not done this cycle.
	KindSkipped Kind = "skipped"
)

// Error is the failure type stages return. RetryAfter carries a
// provider-requested delay for rate-limited calls; zero means none given.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultRateLimitDelay is used when a provider rate-limits without naming a
// retry delay.
const DefaultRateLimitDelay = 5 * time.Second

// TransientError wraps a recoverable failure: retried, never fatal.
func TransientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// RateLimited wraps a provider rate-limit response. A zero retryAfter falls
// back to DefaultRateLimitDelay.
func RateLimited(op string, err error, retryAfter time.Duration) *Error {
	if retryAfter <= 0 {
		retryAfter = DefaultRateLimitDelay
	}
	return &Error{Kind: KindTransient, Op: op, RetryAfter: retryAfter, Err: err}
}

// InvalidOutput wraps provider output that failed validation.
func InvalidOutput(op string, err error) *Error {
	return &Error{Kind: KindInvalidOutput, Op: op, Err: err}
}

// BudgetExhaustedError reports that the named capability budget ran out.
func BudgetExhaustedError(op string) *Error {
	return &Error{Kind: KindBudgetExhausted, Op: op}
}

// SkippedError reports work intentionally left for a later cycle.
func SkippedError(op string, err error) *Error {
	return &Error{Kind: KindSkipped, Op: op, Err: err}
}

// KindOf extracts the failure kind from an error chain. Untyped errors count
// as transient, the safe default for external work.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsBudgetExhausted reports whether the error chain carries a budget
// exhaustion, which stages treat as "stop issuing calls", not as a failure.
func IsBudgetExhausted(err error) bool {
	return KindOf(err) == KindBudgetExhausted
}
