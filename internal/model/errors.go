package model

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates no authenticated actor was available for a write.
type AuthError string

func (e AuthError) Error() string { return "unauthenticated: " + string(e) }

// ErrNoActor is returned when an operation requiring attribution has no actor.
var ErrNoActor = AuthError("no authenticated actor")

// NotFoundError indicates a referenced lead, session, or item does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound returns a *NotFoundError for the given kind and id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// PersistenceError wraps a storage failure during a create or update.
type PersistenceError struct {
	Op       string
	Conflict bool
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("%s: conflict: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError unless it already carries a
// classified error (not-found, persistence, validation).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	var pe *PersistenceError
	var ve *ValidationError
	if errors.As(err, &nf) || errors.As(err, &pe) || errors.As(err, &ve) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// NotificationError indicates a best-effort external dispatch failed.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// GateError indicates the transfer action was requested while unavailable.
type GateError struct {
	SessionID string
	Progress  int
	Threshold int
	Reasons   []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("transfer not allowed for session %s (progress %d%%, threshold %d%%): %s",
		e.SessionID, e.Progress, e.Threshold, strings.Join(e.Reasons, "; "))
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsGate reports whether err is a *GateError.
func IsGate(err error) bool {
	var ge *GateError
	return errors.As(err, &ge)
}
