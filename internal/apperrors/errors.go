// Package apperrors defines the error taxonomy shared by the storefront service.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRemoteRead matches any RemoteError raised by a read against the item store.
	ErrRemoteRead = errors.New("remote read failed")

	// ErrRemoteWrite matches any RemoteError raised by a create or update against the item store.
	ErrRemoteWrite = errors.New("remote write failed")

	// ErrSubmissionInProgress is returned when a submission with the same idempotency key
	// has started but not finished.
	ErrSubmissionInProgress = errors.New("submission already in progress")
)

// ValidationError reports caller-supplied data that fails structural validation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProductNotFoundError reports a cart entry naming a product absent from the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with ID %s not found", e.ProductID)
}

// RemoteOp identifies the kind of item store call that failed.
type RemoteOp string

const (
	OpRead   RemoteOp = "read"
	OpCreate RemoteOp = "create"
	OpUpdate RemoteOp = "update"
)

// RemoteError wraps a failed item store round-trip.
type RemoteError struct {
	Op         RemoteOp
	Collection string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("item store %s on %q failed", e.Op, e.Collection)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets callers match on ErrRemoteRead / ErrRemoteWrite.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteRead:
		return e.Op == OpRead
	case ErrRemoteWrite:
		return e.Op == OpCreate || e.Op == OpUpdate
	}
	return false
}

// NotificationError wraps a failed operator notification. It is logged, never returned to callers.
type NotificationError struct {
	Subject string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %q failed: %v", e.Subject, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProductNotFound reports whether err is (or wraps) a ProductNotFoundError.
func IsProductNotFound(err error) bool {
	var pe *ProductNotFoundError
	return errors.As(err, &pe)
}
