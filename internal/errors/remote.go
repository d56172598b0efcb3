package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the retry class of an error returned by a remote call.
type Kind string

const (
	KindNone      Kind = ""
	KindTransient Kind = "transient"
	KindThrottled Kind = "throttled"
	KindFatal     Kind = "fatal"
	KindCancelled Kind = "cancelled"
)

// ErrCancelled is returned by workers that stopped after observing a cancellation request.
// It is not a failure: the job ends in the cancelled state.
var ErrCancelled = errors.New("operation cancelled")

// ThrottledError reports an explicit rate-limit rejection from the remote platform.
type ThrottledError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottledError) Error() string {
	msg := fmt.Sprintf("throttled by remote (retry after %s)", e.RetryAfter)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ThrottledError) Unwrap() error { return e.Cause }

// TransientError marks a failure worth retrying (network failure, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (invalid state, 4xx).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Throttled builds a ThrottledError with the given retry hint.
func Throttled(retryAfter time.Duration, cause error) error {
	return &ThrottledError{RetryAfter: retryAfter, Cause: cause}
}

// KindOf classifies err for retry decisions. Unclassified errors are treated as transient
// so that callers retry them a bounded number of times.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return KindThrottled
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return KindFatal
	}
	var appErr *AppError
	if errors.As(err, &appErr) && (appErr.Code == ErrCodeValidation || appErr.Code == ErrCodeNotFound) {
		return KindFatal
	}
	return KindTransient
}

// RetryAfter extracts the throttle hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter, true
	}
	return 0, false
}
