package errors

import "net/http"

// Kind classifies a failure by where it happened and how a caller should
// react to it.
type Kind string

// Failure kinds produced by the gateway.
const (
	// KindNetwork indicates the server was unreachable or the connection
	// failed before a response was read.
	KindNetwork Kind = "network"

	// KindTimeout indicates the per-request timeout or the caller's deadline
	// expired.
	KindTimeout Kind = "timeout"

	// KindCanceled indicates the caller canceled the request.
	KindCanceled Kind = "canceled"

	// KindAuth indicates the session is missing or could not be renewed.
	KindAuth Kind = "auth"

	// KindValidation indicates the server rejected the request (4xx other
	// than 401).
	KindValidation Kind = "validation"

	// KindServer indicates the server failed to handle a valid request (5xx).
	KindServer Kind = "server"

	// KindInternal indicates a client-side failure such as an undecodable
	// response body.
	KindInternal Kind = "internal"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsRetryable reports whether failures of this kind may succeed if the
// caller tries again. The gateway itself never retries on this basis.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a specific failure within a kind. Codes reported by
// the server in "error_code" are carried verbatim, so the set is open.
type ErrorCode string

// Codes assigned by the client when the server does not supply one.
const (
	ErrCodeNetwork      ErrorCode = "NETWORK_ERROR"    // Transport failure, status 0
	ErrCodeTimeout      ErrorCode = "REQUEST_TIMEOUT"  // Timed out, status 408
	ErrCodeCanceled     ErrorCode = "CANCELED"         // Caller canceled
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"     // 401
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"        // 403
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"        // 404
	ErrCodeConflict     ErrorCode = "CONFLICT"         // 409
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR" // 400, 422 and other 4xx
	ErrCodeRateLimit    ErrorCode = "RATE_LIMITED"     // 429
	ErrCodeServer       ErrorCode = "SERVER_ERROR"     // 5xx
	ErrCodeDecode       ErrorCode = "DECODE_ERROR"     // Malformed response body
	ErrCodeUnknown      ErrorCode = "UNKNOWN_ERROR"    // Anything else
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultKind returns the kind for a client-assigned code. Server codes that
// are not in the client's table map to KindServer.
func (c ErrorCode) DefaultKind() Kind {
	switch c {
	case ErrCodeNetwork:
		return KindNetwork
	case ErrCodeTimeout:
		return KindTimeout
	case ErrCodeCanceled:
		return KindCanceled
	case ErrCodeUnauthorized:
		return KindAuth
	case ErrCodeForbidden, ErrCodeNotFound, ErrCodeConflict, ErrCodeValidation, ErrCodeRateLimit:
		return KindValidation
	case ErrCodeDecode:
		return KindInternal
	default:
		return KindServer
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeNetwork:      "network error",
	ErrCodeTimeout:      "request timed out",
	ErrCodeCanceled:     "request canceled",
	ErrCodeUnauthorized: "authentication required",
	ErrCodeForbidden:    "access denied",
	ErrCodeNotFound:     "resource not found",
	ErrCodeConflict:     "conflicting request",
	ErrCodeValidation:   "invalid request",
	ErrCodeRateLimit:    "rate limit exceeded",
	ErrCodeServer:       "server error",
	ErrCodeDecode:       "malformed response",
	ErrCodeUnknown:      "unknown error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// KindForStatus maps an HTTP status to a failure kind. Any status below 400
// is not a failure and reports the empty kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return ""
	}
}

// CodeForStatus returns the client-assigned code for an HTTP status.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case status == http.StatusForbidden:
		return ErrCodeForbidden
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusConflict:
		return ErrCodeConflict
	case status == http.StatusRequestTimeout:
		return ErrCodeTimeout
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case status >= 400 && status < 500:
		return ErrCodeValidation
	case status >= 500:
		return ErrCodeServer
	default:
		return ErrCodeUnknown
	}
}
