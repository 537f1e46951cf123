package unitofwork

import (
	"errors"
	"fmt"
)

// Error represents a failure detected by the unit of work.
//
// Errors identify the operation, the entity type and the entity handle
// involved so that callers can tell which write or registration failed.
// Store failures wrap the persister error unchanged; commit-order cycles wrap
// a *commitorder.CycleError.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed ("save", "delete", "commit", "insert", ...).
	Op string

	// Type is the entity type involved, if any.
	Type string

	// Handle identifies the entity instance involved, if any.
	Handle Handle

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes unit-of-work errors.
type ErrorCode string

const (
	// ErrCodeDuplicateIdentity: (root type, identifier) is already tracked.
	ErrCodeDuplicateIdentity ErrorCode = "DUPLICATE_IDENTITY"

	// ErrCodeConflictingSchedule: scheduling would put one entity in two
	// pending queues.
	ErrCodeConflictingSchedule ErrorCode = "CONFLICTING_SCHEDULE"

	// ErrCodeAlreadyScheduled: the entity is already in the target queue.
	ErrCodeAlreadyScheduled ErrorCode = "ALREADY_SCHEDULED"

	// ErrCodeInvalidState: the entity's lifecycle state forbids the operation.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeUnsupported: a post-insert identifier is required where an
	// immediate one is needed.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrCodeCommitOrderCycle: no valid write order exists.
	ErrCodeCommitOrderCycle ErrorCode = "COMMIT_ORDER_CYCLE"

	// ErrCodeStoreFailure: a persister call failed.
	ErrCodeStoreFailure ErrorCode = "STORE_FAILURE"

	// ErrCodeUnknownType: the entity type has no mapping.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeInvalidEntity: the value cannot be tracked (nil, not a pointer,
	// missing identifier for registration).
	ErrCodeInvalidEntity ErrorCode = "INVALID_ENTITY"

	// ErrCodeNotFound: an identity-map lookup found nothing.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Type != "" && e.Handle != "" {
		msg += fmt.Sprintf(" (type=%s, handle=%s)", e.Type, e.Handle)
	} else if e.Type != "" {
		msg += fmt.Sprintf(" (type=%s)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the ErrorCode of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

// IsDuplicateIdentity reports whether err is a duplicate identity error.
func IsDuplicateIdentity(err error) bool { return CodeOf(err) == ErrCodeDuplicateIdentity }

// IsConflictingSchedule reports whether err is a conflicting schedule error.
func IsConflictingSchedule(err error) bool { return CodeOf(err) == ErrCodeConflictingSchedule }

// IsAlreadyScheduled reports whether err is an already-scheduled error.
func IsAlreadyScheduled(err error) bool { return CodeOf(err) == ErrCodeAlreadyScheduled }

// IsInvalidState reports whether err is an invalid state error.
func IsInvalidState(err error) bool { return CodeOf(err) == ErrCodeInvalidState }

// IsUnsupported reports whether err is an unsupported operation error.
func IsUnsupported(err error) bool { return CodeOf(err) == ErrCodeUnsupported }

// IsCommitOrderCycle reports whether err is a commit order cycle.
func IsCommitOrderCycle(err error) bool { return CodeOf(err) == ErrCodeCommitOrderCycle }

// IsStoreFailure reports whether err came from a persister.
func IsStoreFailure(err error) bool { return CodeOf(err) == ErrCodeStoreFailure }

// IsNotFound reports whether err is an identity-map miss.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

func newError(code ErrorCode, op string, rec *record, format string, args ...any) *Error {
	e := &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
	if rec != nil {
		e.Type = rec.meta().Name
		e.Handle = rec.handle
	}
	return e
}

func storeFailure(op string, rec *record, err error) *Error {
	return &Error{
		Code:    ErrCodeStoreFailure,
		Op:      op,
		Type:    rec.meta().Name,
		Handle:  rec.handle,
		Message: "persister call failed",
		Err:     err,
	}
}
