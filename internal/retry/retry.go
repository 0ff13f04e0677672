// Package retry implements the backoff policy for external calls: the
// fixed schedule 1, 2, 4, 8, 16 seconds with ±25 % jitter, a maximum of
// five attempts, and classification of processor error codes into terminal
// and retryable sets.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// backoffSeconds is the capped-index delay schedule.
var backoffSeconds = []int{1, 2, 4, 8, 16}

const (
	MaxAttempts   = 5
	JitterPercent = 25
)

// Error codes recognized by the classifier.
const (
	CodeCardDeclined    = "CARD_DECLINED"
	CodeExpiredCard     = "EXPIRED_CARD"
	CodeInvalidAmount   = "INVALID_AMOUNT"
	CodeInvalidCard     = "INVALID_CARD"
	CodeFraudSuspected  = "FRAUD_SUSPECTED"
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeProcessingError = "PROCESSING_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeConnectionError = "CONNECTION_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeAcquirerError   = "ACQUIRER_ERROR"
)

// Terminal error codes: the processor gave a definitive answer; retrying
// cannot change the outcome.
var terminalCodes = map[string]bool{
	CodeCardDeclined:   true,
	CodeExpiredCard:    true,
	CodeInvalidAmount:  true,
	CodeInvalidCard:    true,
	CodeFraudSuspected: true,
	CodeAuthRequired:   true,
}

// Retryable error codes: transient processor or transport trouble.
var retryableCodes = map[string]bool{
	CodeProcessingError: true,
	CodeRateLimited:     true,
	CodeConnectionError: true,
	CodeTimeout:         true,
	CodeAcquirerError:   true,
}

// Error is a classified external failure.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsTerminal reports whether err carries a code in the terminal set.
func IsTerminal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return terminalCodes[e.Code]
	}
	return false
}

// IsRetryable reports whether err carries a code in the retryable set.
// Errors outside both sets are not automatically retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return retryableCodes[e.Code]
	}
	return false
}

// Delay returns the jittered backoff before attempt n (0-based), capping
// the schedule index at its last entry.
func Delay(attempt int, rng *rand.Rand) time.Duration {
	idx := attempt
	if idx >= len(backoffSeconds) {
		idx = len(backoffSeconds) - 1
	}
	base := time.Duration(backoffSeconds[idx]) * time.Second

	// jitter in [-25%, +25%]
	span := int64(base) * JitterPercent / 100
	var offset int64
	if rng != nil {
		offset = rng.Int63n(2*span+1) - span
	} else {
		offset = rand.Int63n(2*span+1) - span
	}
	return base + time.Duration(offset)
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. Terminal errors short-circuit immediately.
func Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Delay(attempt-1, nil)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTerminal(lastErr) || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", MaxAttempts, lastErr)
}
