package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an optimistic concurrency version mismatch.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnauthenticated occurs when a request carries no verifiable owner.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError reports malformed input. It is raised before any persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError signals an owner mismatch on a scoped resource.
type AuthorizationError struct {
	Resource string
	ID       string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %s: owner mismatch", e.Resource, e.ID)
}

// InvalidTransitionError is returned for a status move the state machine does not allow.
type InvalidTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid status transition %s -> %s", e.Kind, e.From, e.To)
}

// DuplicateExternalIDError is raised by the payment ledger when an external id already exists.
type DuplicateExternalIDError struct {
	ExternalID string
}

func (e *DuplicateExternalIDError) Error() string {
	return fmt.Sprintf("payment with external id %q already recorded", e.ExternalID)
}

// TransientError wraps store or network failures that are safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError unless it is nil or already classified.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

// IsDuplicateExternalID reports whether err is a DuplicateExternalIDError.
func IsDuplicateExternalID(err error) bool {
	var d *DuplicateExternalIDError
	return errors.As(err, &d)
}
