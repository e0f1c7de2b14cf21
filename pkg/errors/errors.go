package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeParsing      ErrorType = "parsing"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeServerError  ErrorType = "server_error"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Queue errors
var (
	ErrJobNotFound    = &Error{Type: ErrorTypeNotFound, Message: "job not found", Code: http.StatusNotFound}
	ErrNotCancellable = &Error{Type: ErrorTypeConflict, Message: "active downloads cannot be cancelled", Code: http.StatusConflict}
	ErrDuplicateJob   = &Error{Type: ErrorTypeConflict, Message: "download already queued or running", Code: http.StatusConflict}
	ErrInvalidTarget  = &Error{Type: ErrorTypeInvalidInput, Message: "invalid download target", Code: http.StatusBadRequest}
)

// Error represents an error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same type and message so that wrapped copies of
// the sentinels compare equal with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// New creates a typed error
func New(errType ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a copy of a typed error
func Wrap(base *Error, err error) *Error {
	c := *base
	c.Err = err
	return &c
}

// WithDetail returns a copy of a typed error with extra context in the message
func WithDetail(base *Error, detail string) *Error {
	c := *base
	c.Err = errors.New(detail)
	return &c
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// FromStatusCode classifies an HTTP response status
func FromStatusCode(statusCode int, message string) *Error {
	var t ErrorType
	switch {
	case statusCode == 0:
		t = ErrorTypeNetwork
	case statusCode == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		t = ErrorTypeAuth
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		t = ErrorTypeNotFound
	case statusCode == http.StatusConflict:
		t = ErrorTypeConflict
	case statusCode >= 500:
		t = ErrorTypeServerError
	case statusCode >= 400:
		t = ErrorTypeInvalidInput
	default:
		t = ErrorTypeUnknown
	}
	return &Error{Type: t, Code: statusCode, Message: message}
}

// HTTPStatus maps an error to the status the API should answer with
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Type {
		case ErrorTypeNotFound:
			return http.StatusNotFound
		case ErrorTypeConflict:
			return http.StatusConflict
		case ErrorTypeInvalidInput, ErrorTypeParsing:
			return http.StatusBadRequest
		case ErrorTypeAuth:
			return http.StatusUnauthorized
		case ErrorTypeRateLimit:
			return http.StatusTooManyRequests
		}
	}
	return http.StatusInternalServerError
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}
