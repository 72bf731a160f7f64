package storage

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Error is returned by every adapter when the underlying backend fails.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s storage: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap turns err into a *Error. Nil and the not-found sentinels are returned
// unchanged so callers can keep comparing them directly.
func Wrap(backend, op string, err error) error {
	if err == nil || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// IsStorageError reports whether err came from a failing backend.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
