package domain

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code surfaced to the host application.
type Code string

const (
	// CodeUnknown represents an unclassified internal error.
	CodeUnknown Code = "UNKNOWN"
	// CodeMarkConflict means durable write contention exhausted its retries.
	CodeMarkConflict Code = "MARK_CONFLICT"
	// CodeSubjectNotFound means the subject has no durable record.
	CodeSubjectNotFound Code = "MARK_SUBJECT_NOT_FOUND"
	// CodeInvalidRequestedState means the requested state is not markable.
	CodeInvalidRequestedState Code = "MARK_INVALID_REQUESTED_STATE"
	// CodeInvalidArgument means a required identifier was missing.
	CodeInvalidArgument Code = "MARK_INVALID_ARGUMENT"
	// CodeRefreshExecution means a named view recomputation failed.
	CodeRefreshExecution Code = "REFRESH_EXECUTION_FAILED"
	// CodeReconcileItem means one subject failed during the nightly audit.
	CodeReconcileItem Code = "RECONCILE_ITEM_FAILED"
)

// Validation sentinels for malformed Apply input.
var (
	ErrEmptyActorID          = errors.New("actor id is required")
	ErrEmptySubjectID        = errors.New("subject id is required")
	ErrInvalidRequestedState = errors.New("requested state must be positive or negative")
)

// ConflictError reports that the durable write lost the subject lock race on
// every attempt. Callers should present it as a transient failure.
type ConflictError struct {
	SubjectID string
	Attempts  int
	Err       error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on subject %s after %d attempts: %v", e.SubjectID, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// SubjectNotFoundError reports that Apply referenced a subject with no durable
// aggregate record. Non-retryable.
type SubjectNotFoundError struct {
	SubjectID string
}

func (e *SubjectNotFoundError) Error() string {
	return fmt.Sprintf("subject %s not found", e.SubjectID)
}

// RefreshExecutionError reports a failed view recomputation. It never reaches
// a request path; the queue entry is marked failed and operators see the log.
type RefreshExecutionError struct {
	ViewName string
	Err      error
}

func (e *RefreshExecutionError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.ViewName, e.Err)
}

func (e *RefreshExecutionError) Unwrap() error { return e.Err }

// ReconciliationItemError reports one subject failing during the nightly
// audit. It is collected into the run report and never aborts the pass.
type ReconciliationItemError struct {
	SubjectID string
	Err       error
}

func (e *ReconciliationItemError) Error() string {
	return fmt.Sprintf("reconcile subject %s: %v", e.SubjectID, e.Err)
}

func (e *ReconciliationItemError) Unwrap() error { return e.Err }

// ErrorCode maps an error to its machine-readable code.
func ErrorCode(err error) Code {
	if err == nil {
		return ""
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return CodeMarkConflict
	}
	var notFound *SubjectNotFoundError
	if errors.As(err, &notFound) {
		return CodeSubjectNotFound
	}
	var refresh *RefreshExecutionError
	if errors.As(err, &refresh) {
		return CodeRefreshExecution
	}
	var item *ReconciliationItemError
	if errors.As(err, &item) {
		return CodeReconcileItem
	}
	switch {
	case errors.Is(err, ErrInvalidRequestedState):
		return CodeInvalidRequestedState
	case errors.Is(err, ErrEmptyActorID), errors.Is(err, ErrEmptySubjectID):
		return CodeInvalidArgument
	default:
		return CodeUnknown
	}
}
