// Package docerr defines the error taxonomy shared by the docvault components.
//
// Components wrap one of the sentinel errors below with context using %w, so
// callers classify failures with errors.Is and never by message text.
package docerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a version, document, lock or conflict does not exist
	ErrNotFound = errors.New("docvault: not found")

	// ErrConflict indicates a lock held by another principal or a state that
	// cannot be changed again (e.g. an already resolved merge conflict)
	ErrConflict = errors.New("docvault: conflict")

	// ErrValidation indicates malformed input or a forbidden state transition
	ErrValidation = errors.New("docvault: validation failed")

	// ErrPersistence indicates the durable store did not acknowledge a write
	ErrPersistence = errors.New("docvault: persistence failed")

	// ErrAlertDispatch indicates the alert sink failed for a high/critical event
	ErrAlertDispatch = errors.New("docvault: alert dispatch failed")

	// ErrUnauthorized indicates a security policy denied the operation
	ErrUnauthorized = errors.New("docvault: unauthorized")
)

// NotFound returns an ErrNotFound wrapped with a formatted description.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validation returns an ErrValidation wrapped with a formatted description.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConflict wrapped with a formatted description.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unauthorized returns an ErrUnauthorized wrapped with a formatted description.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// Persistence wraps a store failure. A nil err returns nil so call sites can
// wrap unconditionally.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Kind: ErrPersistence, Err: err}
}

// AlertDispatch wraps an alerting failure. A nil err returns nil.
func AlertDispatch(action string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: "alert " + action, Kind: ErrAlertDispatch, Err: err}
}

// OpError carries the failing operation, its taxonomy kind and the cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the taxonomy kind and the underlying cause to errors.Is.
func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Kind reports which taxonomy sentinel err belongs to, or nil if none.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrPersistence, ErrAlertDispatch, ErrUnauthorized} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
