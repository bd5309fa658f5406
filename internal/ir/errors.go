package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeValidation indicates a malformed stimulus or argument, rejected
	// before anything is persisted. The ledger stays append-only and clean.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeNotFound indicates a referenced row does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeStepTimeout indicates the external reasoning call exceeded its
	// bound. The chain aborts; the event remains available for replay.
	CodeStepTimeout ErrorCode = "STEP_TIMEOUT"

	// CodeChainIntegrity indicates a projection would reference an
	// inconsistent trace chain. Fails closed; nothing is persisted.
	CodeChainIntegrity ErrorCode = "CHAIN_INTEGRITY"

	// CodeInvalidTransition indicates a lifecycle transition that the
	// one-way status machine forbids (e.g. confirming a voided projection).
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeConflictingCorrection indicates a correction lost the
	// single-winner race. Callers treat this as success-as-no-op.
	CodeConflictingCorrection ErrorCode = "CONFLICTING_CORRECTION"

	// CodeUnavailable indicates the persistence layer is transiently down.
	// Retried with backoff; ingestion must never drop a stimulus silently.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeNotRegenerable indicates a step has no registry entry and cannot
	// be re-run with alternative outcomes.
	CodeNotRegenerable ErrorCode = "NOT_REGENERABLE"
)

// Error is the structured error type shared across the engine. It carries a
// code for the taxonomy, a human-readable message, and optional row
// references for diagnostics.
type Error struct {
	Code    ErrorCode
	Message string

	// EventID / TraceID / ProjectionID identify the affected rows when known.
	EventID      string
	TraceID      string
	ProjectionID string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	case e.ProjectionID != "":
		return fmt.Sprintf("%s: %s (projection=%s)", e.Code, e.Message, e.ProjectionID)
	case e.TraceID != "":
		return fmt.Sprintf("%s: %s (trace=%s)", e.Code, e.Message, e.TraceID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the error code from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func is(err error, code ErrorCode) bool { return CodeOf(err) == code }

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsStepTimeout reports whether err is a reasoning-call timeout.
func IsStepTimeout(err error) bool { return is(err, CodeStepTimeout) }

// IsChainIntegrity reports whether err is a chain-integrity rejection.
func IsChainIntegrity(err error) bool { return is(err, CodeChainIntegrity) }

// IsInvalidTransition reports whether err is a forbidden status transition.
func IsInvalidTransition(err error) bool { return is(err, CodeInvalidTransition) }

// IsConflictingCorrection reports whether err is a lost correction race.
func IsConflictingCorrection(err error) bool { return is(err, CodeConflictingCorrection) }

// IsUnavailable reports whether err is a transient persistence failure.
func IsUnavailable(err error) bool { return is(err, CodeUnavailable) }

// IsNotRegenerable reports whether err marks a step without regeneration
// options.
func IsNotRegenerable(err error) bool { return is(err, CodeNotRegenerable) }

// NewValidationError creates a validation rejection.
func NewValidationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// NewNotFoundError creates a missing-row error for the given event.
func NewNotFoundError(kind, id string) *Error {
	e := &Error{Code: CodeNotFound, Message: kind + " not found"}
	switch kind {
	case "event":
		e.EventID = id
	case "trace":
		e.TraceID = id
	case "projection":
		e.ProjectionID = id
	default:
		e.Message = fmt.Sprintf("%s %q not found", kind, id)
	}
	return e
}

// NewChainIntegrityError creates a chain-integrity rejection.
func NewChainIntegrityError(msg, eventID string) *Error {
	return &Error{Code: CodeChainIntegrity, Message: msg, EventID: eventID}
}

// NewInvalidTransitionError creates a forbidden-transition error.
func NewInvalidTransitionError(msg, projectionID string) *Error {
	return &Error{Code: CodeInvalidTransition, Message: msg, ProjectionID: projectionID}
}

// NewStepTimeoutError creates a reasoning-timeout error.
func NewStepTimeoutError(stepName, eventID string, cause error) *Error {
	return &Error{
		Code:    CodeStepTimeout,
		Message: fmt.Sprintf("step %q exceeded its time bound", stepName),
		EventID: eventID,
		Err:     cause,
	}
}

// NewConflictingCorrectionError marks a correction that lost the race to
// void its target.
func NewConflictingCorrectionError(projectionID string) *Error {
	return &Error{
		Code:         CodeConflictingCorrection,
		Message:      "projection already voided by a concurrent correction",
		ProjectionID: projectionID,
	}
}

// NewNotRegenerableError marks a step that has no regeneration catalog
// entry.
func NewNotRegenerableError(stepName string) *Error {
	return &Error{
		Code:    CodeNotRegenerable,
		Message: fmt.Sprintf("step %q has no regeneration entry", stepName),
	}
}

// NewUnavailableError wraps a transient persistence failure.
func NewUnavailableError(op string, cause error) *Error {
	return &Error{Code: CodeUnavailable, Message: op + ": storage unavailable", Err: cause}
}
