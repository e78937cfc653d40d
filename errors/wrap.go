package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an APIError, the wrapper keeps its classification.
// Context errors become timeout or canceled errors; anything else is treated
// as a network failure, since Wrap is used on transport errors.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		wrapped := &Error{
			code:      apiErr.code,
			kind:      apiErr.kind,
			message:   message,
			status:    apiErr.status,
			details:   apiErr.details,
			cause:     err,
			metadata:  apiErr.Metadata(),
			retryable: apiErr.retryable,
			timestamp: apiErr.timestamp,
			method:    apiErr.method,
			endpoint:  apiErr.endpoint,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeNetwork, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// AsAPIError extracts an APIError from an error chain.
// Returns nil if no APIError is found.
func AsAPIError(err error) APIError {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// Is checks if the first APIError in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.code == code
	}
	return false
}

// IsKind checks if the first APIError in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.kind == kind
	}
	return false
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return IsKind(err, KindAuth)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return IsKind(err, KindNetwork)
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// IsCanceled reports whether err is a caller cancellation.
func IsCanceled(err error) bool {
	return IsKind(err, KindCanceled)
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not an APIError.
func Code(err error) ErrorCode {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.code
	}
	return ""
}

// KindOf extracts the kind from an error, if available.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.kind
	}
	return ""
}

// Status extracts the HTTP status from an error. Returns 0 if err is not an
// APIError or no response was received.
func Status(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.status
	}
	return 0
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
