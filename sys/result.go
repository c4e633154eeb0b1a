package sys

import (
	"errors"
)

// Result carries a value together with an error that the producer decided not
// to return as a failure, for example a close that is allowed to fail quietly.
type Result[T any] struct {
	Ok  T
	Err error
}

// IsOk returns true if the Result carries no error.
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// IsErr returns true if the Result carries an error. With checks, it only
// returns true if the error matches one of them.
func (r Result[T]) IsErr(checks ...error) bool {
	if len(checks) == 0 {
		return r.Err != nil
	}
	for _, err := range checks {
		if errors.Is(r.Err, err) {
			return true
		}
	}
	return false
}

// Unwrap returns the value and error as a regular Go return pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Ok, r.Err
}

// Discard hands the error, if any, to fn and returns the value.
func (r Result[T]) Discard(fn func(error)) T {
	if r.Err != nil && fn != nil {
		fn(r.Err)
	}
	return r.Ok
}

// Ok creates a new Result with a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{Ok: value}
}

// Err creates a new Result with an error.
func Err[T any](err error) Result[T] {
	var zero T
	return Result[T]{Ok: zero, Err: err}
}
