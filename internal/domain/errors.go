package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks network failures that survived every retry
	ErrTransient = errors.New("transient network failure")
	// ErrConflict marks a create rejected because the entity already exists
	ErrConflict = errors.New("entity already exists")
	// ErrValidation marks input rejected before any request was sent
	ErrValidation = errors.New("validation failed")
	// ErrFatal aborts the whole run
	ErrFatal = errors.New("fatal error")
	// ErrNotFound is returned when a lookup has no match
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousAddress flags an IP assigned to more than one interface
	ErrAmbiguousAddress = errors.New("address assigned to multiple interfaces")
	// ErrParentMissing is returned when a dependent stage has no parent id
	ErrParentMissing = errors.New("parent entity missing")
)

// TransientError reports a request that never received a response
type TransientError struct {
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// ApplicationError is an error response received from a remote API
type ApplicationError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, Truncate(e.Body, 512))
}

// IsConflict reports whether the response describes a uniqueness violation
func (e *ApplicationError) IsConflict() bool {
	if e.StatusCode == 409 {
		return true
	}
	if e.StatusCode == 400 {
		body := strings.ToLower(e.Body)
		return strings.Contains(body, "already exists") || strings.Contains(body, "must be unique")
	}
	return false
}

func (e *ApplicationError) Is(target error) bool {
	return target == ErrConflict && e.IsConflict()
}

// ValidationError reports a malformed value caught before the network
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// FatalError aborts the run before reconciliation
type FatalError struct {
	Component string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// ErrorClass buckets errors for summaries
type ErrorClass string

const (
	ErrorClassNone        ErrorClass = ""
	ErrorClassTransient   ErrorClass = "transient"
	ErrorClassApplication ErrorClass = "application"
	ErrorClassValidation  ErrorClass = "validation"
	ErrorClassFatal       ErrorClass = "fatal"
	ErrorClassUnsupported ErrorClass = "unsupported"
	ErrorClassOther       ErrorClass = "other"
)

// Classify maps an error onto the taxonomy
func Classify(err error) ErrorClass {
	var appErr *ApplicationError
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, ErrFatal):
		return ErrorClassFatal
	case errors.Is(err, ErrTransient):
		return ErrorClassTransient
	case errors.Is(err, ErrValidation):
		return ErrorClassValidation
	case errors.Is(err, ErrAmbiguousAddress):
		return ErrorClassUnsupported
	case errors.As(err, &appErr):
		return ErrorClassApplication
	default:
		return ErrorClassOther
	}
}

// Truncate shortens s to at most n bytes
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
