/*
errors.go - Centralized error types for the fee ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and services return these; the HTTP layer maps them to status
  codes without knowing where they came from.

ERROR CATEGORIES:
  1. Validation errors - Malformed input, remarks gate (422)
  2. Conflict errors   - Duplicate period, stale version, already reversed (409)
  3. Not found errors  - Missing record, student or session (404)
  4. Transient errors  - Contention or storage unavailability (503, retryable)

USAGE:
  if errors.Is(err, ledger.ErrDuplicatePeriod) {
      // another record already covers this student/fee type/month
  }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) {
      for _, f := range verr.Fields { ... }
  }

SEE ALSO:
  - store.go: Store contract documents which errors each call returns
  - api/errors.go: HTTP mapping
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation wraps every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrRemarksRequired is returned when an edit changes the received amount
	// or the billing period without an explanation.
	ErrRemarksRequired = errors.New("remarks required when amount or period changes")

	// ErrDuplicatePeriod is returned when a live record already exists for
	// the same (student, fee type, month, year).
	ErrDuplicatePeriod = errors.New("fee already recorded for this period")

	// ErrStaleVersion is returned when an edit was based on an outdated read.
	ErrStaleVersion = errors.New("record was modified concurrently")

	// ErrAlreadyReversed is returned when editing or reversing a reversed record.
	ErrAlreadyReversed = errors.New("record already reversed")

	ErrNotFound = errors.New("not found")

	// ErrTransientStorage covers lock contention and unavailable storage.
	// The whole operation may be retried.
	ErrTransientStorage = errors.New("transient storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError names one invalid input field.
type FieldError struct {
	Name    string
	Message string
}

// ValidationError collects per-field failures.
type ValidationError struct {
	Fields []FieldError
	cause  error
}

// NewValidationError builds a ValidationError from field errors.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// RemarksRequiredError is the remarks gate failure.
func RemarksRequiredError() *ValidationError {
	return &ValidationError{
		Fields: []FieldError{{Name: "remarks", Message: "required when receivedAmount, month or year changes"}},
		cause:  ErrRemarksRequired,
	}
}

func (e *ValidationError) Add(name, message string) {
	e.Fields = append(e.Fields, FieldError{Name: name, Message: message})
}

// Merge appends the fields of another validation error, if err is one.
// Returns false when err is some other error.
func (e *ValidationError) Merge(err error) bool {
	if err == nil {
		return true
	}
	var other *ValidationError
	if !errors.As(err, &other) {
		return false
	}
	e.Fields = append(e.Fields, other.Fields...)
	if e.cause == nil {
		e.cause = other.cause
	}
	return true
}

// OrNil returns nil when no field failed. Avoids returning a typed nil.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Name + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

// ConflictKind distinguishes the 409 cases.
type ConflictKind string

const (
	ConflictDuplicatePeriod ConflictKind = "DuplicatePeriod"
	ConflictStaleVersion    ConflictKind = "StaleVersion"
	ConflictAlreadyReversed ConflictKind = "AlreadyReversed"
)

// ConflictError reports a write rejected by a storage-level invariant.
type ConflictError struct {
	Kind     ConflictKind
	RecordID RecordID
	Key      *PeriodKey
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictDuplicatePeriod:
		if e.Key != nil {
			return fmt.Sprintf("duplicate period: %s fee for student %s in %s already recorded",
				e.Key.FeeType, e.Key.StudentID, e.Key.Period)
		}
		return "duplicate period"
	case ConflictStaleVersion:
		return fmt.Sprintf("stale version: record %s changed since it was read", e.RecordID)
	case ConflictAlreadyReversed:
		return fmt.Sprintf("record %s is reversed", e.RecordID)
	}
	return string(e.Kind)
}

func (e *ConflictError) Unwrap() error {
	switch e.Kind {
	case ConflictDuplicatePeriod:
		return ErrDuplicatePeriod
	case ConflictStaleVersion:
		return ErrStaleVersion
	case ConflictAlreadyReversed:
		return ErrAlreadyReversed
	}
	return nil
}

// NotFoundError names the missing resource ("fee record", "student", "session").
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransientError wraps a storage failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransientStorage, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}

// IsClientError returns true if the error is due to invalid client input
// or a conflicting request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrStaleVersion) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
