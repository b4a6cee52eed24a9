// Package shared contains the error taxonomy used across the domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, checked with errors.Is().
var (
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation error")
	ErrStore        = errors.New("store error")
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "expedition", "user"
	Op      string // operation that failed, e.g. "Unlock"
	Kind    error  // base kind for errors.Is()
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// WrapStoreError wraps a failed store call. Returns nil for a nil err.
func WrapStoreError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(domain, op, ErrStore, "store operation failed", err)
}

// Expedition errors.
var (
	ErrExpeditionNotFound = NewDomainError("expedition", "Find", ErrNotFound, "Expedition not found")
	ErrMissingFields      = NewDomainError("expedition", "Validate", ErrValidation, "Missing required fields")
	ErrInvalidDifficulty  = NewDomainError("expedition", "Validate", ErrValidation, "invalid difficulty")
	ErrInvalidTag         = NewDomainError("expedition", "Validate", ErrValidation, "invalid tag")
	ErrInvalidStatus      = NewDomainError("expedition", "Validate", ErrValidation, "invalid status")
	ErrInvalidCoordinates = NewDomainError("expedition", "Validate", ErrValidation, "coordinates out of range")
)

// User progression errors.
var (
	ErrAlreadyUnlocked  = NewDomainError("user", "Unlock", ErrInvalidState, "Expedition already unlocked")
	ErrMustUnlockFirst  = NewDomainError("user", "Complete", ErrInvalidState, "You must unlock this expedition first")
	ErrAlreadyCompleted = NewDomainError("user", "Complete", ErrInvalidState, "Expedition already completed")
	ErrNegativePoints   = NewDomainError("user", "AwardPoints", ErrValidation, "points cannot be negative")
	ErrEmptyUsername    = NewDomainError("user", "Validate", ErrValidation, "username cannot be empty")
	ErrInvalidUsername  = NewDomainError("user", "Validate", ErrValidation, "username cannot contain ':'")
	ErrNotAuthenticated = NewDomainError("user", "Identify", ErrUnauthorized, "User not authenticated")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidState checks if the error is a state-machine violation.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStore checks if the error comes from the underlying store.
func IsStore(err error) bool { return errors.Is(err, ErrStore) }

// IsUnauthorized checks if the request lacks an identity.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// Message returns the human-readable message of a DomainError, or err.Error().
func Message(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
