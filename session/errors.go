package session

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrCreation matches every error returned for a failed session creation.
	ErrCreation = errors.New("session creation failed")
	// ErrClose matches the close failure carried in a CloseResult.
	ErrClose = errors.New("session close failed")
	// ErrStaleSession is returned when restarting a session that is no longer the tracked one for its type.
	ErrStaleSession = errors.New("session has been superseded")
	// ErrMissingType is returned for a definition or handle without an engine type.
	ErrMissingType = errors.New("session type is required")
)

// CreationError is delivered to every caller waiting on the same creation.
type CreationError struct {
	Type string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("error creating %s session: %s", e.Type, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

func (e *CreationError) Is(target error) bool { return target == ErrCreation }

// CloseError is the transport failure of a close call. It is never returned
// as an error by the Manager, only reported in the CloseResult.
type CloseError struct {
	Type string
	ID   string
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("error closing %s session %s: %s", e.Type, e.ID, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

func (e *CloseError) Is(target error) bool { return target == ErrClose }
