package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// APIError is the interface for all structured errors returned by taskgate.
// It extends the standard error interface with the classification a caller
// needs to decide how to surface or recover from a failed call.
type APIError interface {
	error

	// Code returns the server-reported or client-assigned error code.
	Code() ErrorCode

	// Kind returns the failure classification.
	Kind() Kind

	// Status returns the HTTP status, or 0 when no response was received.
	Status() int

	// Details returns the raw error payload from the server, if any.
	Details() json.RawMessage

	// Retryable returns true if the caller may reasonably try again.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of APIError.
type Error struct {
	code      ErrorCode
	kind      Kind
	message   string
	status    int
	details   json.RawMessage
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on kind
	timestamp time.Time
	method    string
	endpoint  string
}

var (
	_ APIError         = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Kind returns the failure kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Status returns the HTTP status.
func (e *Error) Status() int {
	return e.status
}

// Details returns the raw server payload.
func (e *Error) Details() json.RawMessage {
	if len(e.details) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(e.details))
	copy(out, e.details)
	return out
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.kind.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Method returns the HTTP method of the failed call, if set.
func (e *Error) Method() string {
	return e.method
}

// Endpoint returns the endpoint of the failed call, if set.
func (e *Error) Endpoint() string {
	return e.endpoint
}

type errorJSON struct {
	Message   string            `json:"message"`
	Code      ErrorCode         `json:"code"`
	Kind      Kind              `json:"kind"`
	Status    int               `json:"status"`
	Details   json.RawMessage   `json:"details,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	Method    string            `json:"method,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Message:   e.message,
		Code:      e.code,
		Kind:      e.kind,
		Status:    e.status,
		Details:   e.details,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		Method:    e.method,
		Endpoint:  e.endpoint,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.message = j.Message
	e.code = j.Code
	e.kind = j.Kind
	e.status = j.Status
	e.details = j.Details
	e.metadata = j.Metadata
	e.method = j.Method
	e.endpoint = j.Endpoint
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithKind overrides the default kind.
func WithKind(kind Kind) Option {
	return func(e *Error) {
		e.kind = kind
	}
}

// WithStatus sets the HTTP status.
func WithStatus(status int) Option {
	return func(e *Error) {
		e.status = status
	}
}

// WithDetails attaches the raw server payload.
func WithDetails(details []byte) Option {
	return func(e *Error) {
		if len(details) == 0 {
			e.details = nil
			return
		}
		if !json.Valid(details) {
			quoted, _ := json.Marshal(string(details))
			e.details = quoted
			return
		}
		e.details = append(json.RawMessage(nil), details...)
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRequest records the method and endpoint of the failed call.
func WithRequest(method, endpoint string) Option {
	return func(e *Error) {
		e.method = method
		e.endpoint = endpoint
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		kind:      code.DefaultKind(),
		message:   message,
		timestamp: time.Now(),
	}
	switch code {
	case ErrCodeTimeout:
		e.status = 408
	case ErrCodeUnauthorized:
		e.status = 401
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Network creates a transport failure error.
func Network(message string, opts ...Option) *Error {
	return New(ErrCodeNetwork, message, opts...)
}

// Timeout creates a request timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Canceled creates a cancellation error.
func Canceled(message string, opts ...Option) *Error {
	return New(ErrCodeCanceled, message, opts...)
}

// Unauthorized creates an authentication error.
func Unauthorized(message string, opts ...Option) *Error {
	return New(ErrCodeUnauthorized, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, append([]Option{WithStatus(404)}, opts...)...)
}

// Decode creates an error for a response body that could not be decoded.
func Decode(cause error, opts ...Option) *Error {
	return New(ErrCodeDecode, "malformed response body", append(opts, WithCause(cause))...)
}
