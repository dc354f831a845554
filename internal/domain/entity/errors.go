package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input. Nothing was written.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks an adapter-level send failure
	ErrProvider = errors.New("provider error")
	// ErrNotFound marks an absent record or push target
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks an illegal status change
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConfiguration marks a fatal adapter configuration problem
	ErrConfiguration = errors.New("configuration error")
	// ErrStoreUnavailable marks a transient persistence failure
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrChannelUnavailable marks a channel whose adapter failed to start
	ErrChannelUnavailable = fmt.Errorf("%w: channel unavailable", ErrConfiguration)
	// ErrDuplicateMessageID marks a provider message id already bound to another record
	ErrDuplicateMessageID = errors.New("provider message id already in use")
)

// ValidationError describes the offending field of a rejected request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError describes a rejected status change
type TransitionError struct {
	From NotificationStatus
	To   NotificationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from '%s' to '%s'", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorKind is the channel-neutral classification of a send failure
type ErrorKind string

const (
	ErrorKindNone                   ErrorKind = ""
	ErrorKindPermanentInvalidTarget ErrorKind = "permanent_invalid_target"
	ErrorKindTransient              ErrorKind = "transient"
	ErrorKindConfiguration          ErrorKind = "configuration"
	ErrorKindUnknown                ErrorKind = "unknown"

	// Engine-level kinds, never produced by adapters
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindValidation ErrorKind = "validation"
)
