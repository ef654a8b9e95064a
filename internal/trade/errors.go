package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papergains/trade-engine/internal/throttle"
)

// Code is the stable machine-readable error code returned to callers.
// All codes are terminal from the core's point of view; the caller
// decides whether to retry.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeContextNotFound    Code = "context_not_found"
	CodeContextInactive    Code = "context_inactive"
	CodeInsufficientFunds  Code = "insufficient_funds"
	CodeInsufficientShares Code = "insufficient_shares"
	CodeThrottleDenied     Code = "throttle_denied"
	CodeStorageError       Code = "storage_error"
	CodeTimeout            Code = "timeout"
)

// Error is a typed trade failure. Reason and RetryAfter are populated
// only for throttle denials, and RetryAfter only for the time-based
// ones.
type Error struct {
	Code       Code
	Message    string
	Reason     throttle.Reason
	RetryAfter time.Duration
	Err        error // wrapped cause, set for storage errors
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func errInvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func errDenied(d *throttle.Denial) *Error {
	e := &Error{
		Code:       CodeThrottleDenied,
		Message:    fmt.Sprintf("trade denied: %s", d.Reason),
		Reason:     d.Reason,
		RetryAfter: d.RetryAfter,
	}
	if d.RetryAfter > 0 {
		e.Message = fmt.Sprintf("trade denied: %s, retry in %s", d.Reason, d.RetryAfter.Round(time.Millisecond))
	}
	return e
}

func errStorage(err error) *Error {
	// A deadline abort between lock acquisition and commit is a timeout,
	// not a storage fault.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Code: CodeTimeout, Message: "trade aborted by deadline", Err: err}
	}
	return &Error{Code: CodeStorageError, Message: "trade could not be applied", Err: err}
}
