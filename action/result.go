// Package action runs user-triggered operations with confirmation, progress
// feedback and uniform success and failure handling.
package action

import "net/http"

// ResultError is the failure side of a Result, shaped like the framework's
// error payloads.
type ResultError struct {
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
}

// Error returns the message, else the status text. It may be empty.
func (e *ResultError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.StatusText
}

// Result is either a value or a failure. Operations return failures as
// values so that callers cannot skip them.
type Result[T any] struct {
	Data  T            `json:"data"`
	Error *ResultError `json:"error"`
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Data: v}
}

// Fail wraps a failure.
func Fail[T any](err *ResultError) Result[T] {
	if err == nil {
		err = &ResultError{}
	}
	return Result[T]{Error: err}
}

// FailStatus builds a failure from an HTTP status and message.
func FailStatus[T any](status int, message string) Result[T] {
	return Fail[T](&ResultError{Message: message, Status: status, StatusText: http.StatusText(status)})
}

func (r Result[T]) Failed() bool {
	return r.Error != nil
}

// Unwrap returns the value, or the failure as an error.
func (r Result[T]) Unwrap() (T, error) {
	if r.Error != nil {
		var zero T
		return zero, r.Error
	}
	return r.Data, nil
}
