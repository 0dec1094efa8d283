package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures. Kinds surface on terminal stream
// events and on failed responses; tool-scoped kinds stay recoverable inside a
// response.
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrTooManyToolCalls ErrorKind = "too_many_tool_calls"
	ErrTimeout          ErrorKind = "timeout"
	ErrUpstream         ErrorKind = "upstream"
	ErrToolExecution    ErrorKind = "tool_execution"
	ErrBadArguments     ErrorKind = "bad_arguments"
	ErrToolCancelled    ErrorKind = "tool_cancelled"
	ErrParseFailure     ErrorKind = "parse_failure"
	ErrNoResults        ErrorKind = "no_results"
	ErrNotFound         ErrorKind = "not_found"
)

// Error is a gateway error carrying its kind and, for upstream failures, the
// backend status code.
type Error struct {
	Kind    ErrorKind `json:"code"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a gateway error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a gateway error wrapping a cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// UpstreamError builds an upstream error carrying the backend status code.
func UpstreamError(status int, err error) *Error {
	return &Error{
		Kind:    ErrUpstream,
		Message: fmt.Sprintf("backend request failed with status %d", status),
		Status:  status,
		Err:     err,
	}
}

// KindOf extracts the gateway error kind, defaulting to upstream for foreign
// errors.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrUpstream
}

// AsResponseError converts an error into the failed-response payload.
func AsResponseError(err error) *ResponseError {
	var ge *Error
	if errors.As(err, &ge) {
		return &ResponseError{Code: string(ge.Kind), Message: ge.Message}
	}
	return &ResponseError{Code: string(ErrUpstream), Message: err.Error()}
}
