// Package types provides the error taxonomy shared by the record orchestrators.
//
// Every orchestrator failure is one of four classes: validation, precondition,
// ledger submission, or in-flight rejection. Audit failures never escape an
// orchestrator; they are defined here only so callers can name them.
package types

import (
	"errors"
	"fmt"

	"github.com/zjrosen/provenance/internal/audit"
)

// ===========================================================================
// Validation Errors
// ===========================================================================

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a malformed request field. It is raised before any
// ledger call is made.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ===========================================================================
// Precondition Errors
// ===========================================================================

// ErrPrecondition matches every *PreconditionError.
var ErrPrecondition = errors.New("precondition failed")

// ErrNotOwner is the reason used when the session signer does not own the record.
var ErrNotOwner = errors.New("signer is not the record owner")

// ErrAlreadyRegistered is the reason used when a live record already exists.
var ErrAlreadyRegistered = errors.New("record already registered")

// ErrRecordUnreadable is the reason used when the ownership read failed or
// found no live record.
var ErrRecordUnreadable = errors.New("record could not be read")

// ErrNotAdmin is the reason used when a non-admin signer tries to register.
var ErrNotAdmin = errors.New("signer is not the registry admin")

// PreconditionError reports a ledger state that forbids the requested write.
// Only the read that discovered it has reached the ledger.
type PreconditionError struct {
	Reason   error
	RFID     string
	Expected string
	Actual   string
	// Err is the read failure behind ErrRecordUnreadable, if any.
	Err error
}

func (e *PreconditionError) Error() string {
	msg := e.Reason.Error()
	if e.RFID != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.RFID)
	}
	switch {
	case e.Expected != "" && e.Actual != "":
		msg = fmt.Sprintf("%s (expected %s, got %s)", msg, e.Expected, e.Actual)
	case e.Actual != "":
		msg = fmt.Sprintf("%s (%s)", msg, e.Actual)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Is matches ErrPrecondition and the specific reason.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition || (e.Reason != nil && target == e.Reason)
}

// ===========================================================================
// Ledger Submission Errors
// ===========================================================================

// ErrLedgerSubmission matches every *SubmissionError.
var ErrLedgerSubmission = errors.New("ledger submission failed")

// SubmissionError reports a rejected, reverted or unconfirmed ledger call.
// Error stays generic; the root cause is kept for diagnostics through Unwrap.
type SubmissionError struct {
	Step string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger submission failed during %s", e.Step)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrLedgerSubmission.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrLedgerSubmission
}

// Cause returns the diagnostic root cause of err, or err itself.
func Cause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// ===========================================================================
// Audit Errors
// ===========================================================================

// Note: audit errors are defined in the audit package, which has no orchestration
// imports. These aliases let callers match them without importing audit.

// AuditError is a failed audit write.
type AuditError = audit.Error

// ErrAudit matches every AuditError.
var ErrAudit = audit.ErrAudit

// ===========================================================================
// Session Errors
// ===========================================================================

// ErrNoSigner is returned when the wallet session resolves no account.
var ErrNoSigner = errors.New("no session signer")

// ===========================================================================
// Processor Errors
// ===========================================================================

// ErrOperationInFlight is returned when a command of the same kind is still running.
var ErrOperationInFlight = errors.New("operation already in flight")

// ErrUnknownCommandType is returned when no handler is registered for a command type.
var ErrUnknownCommandType = errors.New("unknown command type")

// ErrFeatureDisabled is returned when a command is behind a disabled feature flag.
var ErrFeatureDisabled = errors.New("feature is disabled")

// ErrMarketUnavailable is returned when listing without a configured market.
var ErrMarketUnavailable = errors.New("marketplace is not configured")

// ===========================================================================
// Classification
// ===========================================================================

// Class names the taxonomy bucket of an orchestration error.
type Class string

const (
	ClassNone         Class = ""
	ClassValidation   Class = "validation"
	ClassPrecondition Class = "precondition"
	ClassSubmission   Class = "submission"
	ClassBusy         Class = "busy"
	ClassOther        Class = "other"
)

// Classify returns the class of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrPrecondition):
		return ClassPrecondition
	case errors.Is(err, ErrLedgerSubmission):
		return ClassSubmission
	case errors.Is(err, ErrOperationInFlight):
		return ClassBusy
	default:
		return ClassOther
	}
}
