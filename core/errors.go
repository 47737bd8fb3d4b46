package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPermissionDenied is returned when the acting user may not perform an operation.
var ErrPermissionDenied = errors.New("permission denied")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// InvalidTransitionError is returned when an operation is not allowed from the current state.
type InvalidTransitionError struct {
	Current   string
	Attempted string
}

func NewInvalidTransitionError(current, attempted string) error {
	return &InvalidTransitionError{Current: current, Attempted: attempted}
}

func (err InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s: current status is %s", err.Attempted, err.Current)
}

// ConflictError is returned when concurrent writers kept racing for the same key.
type ConflictError struct {
	Key      string
	Attempts int
}

func NewConflictError(key string, attempts int) error {
	return &ConflictError{Key: key, Attempts: attempts}
}

func (err ConflictError) Error() string {
	return fmt.Sprintf("conflicting writes on %s after %d attempts", err.Key, err.Attempts)
}

// DeliveryDegradedError reports that a live push could not be performed.
// Messages are persisted first, so it is never fatal: clients catch up by polling.
type DeliveryDegradedError struct {
	RecipientID string
	Err         error
}

func NewDeliveryDegradedError(recipientID string, err error) error {
	return &DeliveryDegradedError{RecipientID: recipientID, Err: err}
}

func (err DeliveryDegradedError) Error() string {
	if err.RecipientID == "" {
		return fmt.Sprintf("delivery degraded: %v", err.Err)
	}
	return fmt.Sprintf("delivery degraded for %s: %v", err.RecipientID, err.Err)
}

func (err DeliveryDegradedError) Unwrap() error { return err.Err }

func IsDeliveryDegraded(err error) bool {
	_, ok := errors.Cause(err).(*DeliveryDegradedError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
