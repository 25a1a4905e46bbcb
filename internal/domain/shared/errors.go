// Package shared contains common domain errors used across the progress hub.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be checked with errors.Is().
var (
	// Identity errors
	ErrNoProvider      = errors.New("no identity provider")
	ErrUserRejected    = errors.New("user rejected request")
	ErrNoIdentity      = errors.New("identity not resolved")
	ErrInvalidIdentity = errors.New("invalid identity")

	// Remote store errors
	ErrTimeout      = errors.New("operation timeout")
	ErrUnreachable  = errors.New("progress store unreachable")
	ErrMalformed    = errors.New("malformed progress payload")
	ErrPartialWrite = errors.New("partial write failure")

	// Catalog errors
	ErrUnknownModule = errors.New("unknown module")
	ErrUnknownGroup  = errors.New("unknown group")

	// Network errors
	ErrUnsupportedNetwork = errors.New("network not supported by provider")

	// Local state errors
	ErrNotFound = errors.New("entity not found")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "identity", "progress", "capability"
	Op      string // Operation that failed, e.g., "Resolve", "Refresh"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
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
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ErrProviderMissing is returned when no wallet provider is installed.
var ErrProviderMissing = NewDomainError("identity", "Resolve", ErrNoProvider, "wallet provider is not available")

// IsIdentityUnavailable reports whether the error means no identity can be
// obtained for the rest of the session.
func IsIdentityUnavailable(err error) bool {
	return errors.Is(err, ErrNoProvider) ||
		errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrTimeout)
}

// IsStale reports whether the caller should fall back to cached data.
func IsStale(err error) bool {
	return errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrTimeout)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
