// Package errors provides the structured error types shared by the replica
// store, the remote gateway and the sync orchestrator.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeIOFailure         ErrorCode = "IO_FAILURE"
	ErrCodeStoreFailure      ErrorCode = "STORE_FAILURE"
	ErrCodeStrategyTimeout   ErrorCode = "STRATEGY_TIMEOUT"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeConfigFailure     ErrorCode = "CONFIG_FAILURE"
)

// Operation represents the step of a sync run that failed
type Operation string

const (
	OpExport      Operation = "export"
	OpImport      Operation = "import"
	OpRead        Operation = "read"
	OpReplace     Operation = "replace"
	OpUpsert      Operation = "upsert"
	OpInsert      Operation = "insert"
	OpDelete      Operation = "delete"
	OpResolve     Operation = "resolve"
	OpReconcile   Operation = "reconcile"
	OpRun         Operation = "run"
	OpProbe       Operation = "probe"
	OpStateExport Operation = "state_export"
	OpStateImport Operation = "state_import"
	OpConfig      Operation = "config"
	OpClose       Operation = "close"
)

// Sentinel outcomes of a run request. None of them is a failure of a
// collection; they describe why a run did not happen.
var (
	ErrOfflineSkipped = errors.New("sync skipped: offline")
	ErrRunInProgress  = errors.New("sync skipped: a run is already in progress")
	ErrRunQueued      = errors.New("sync queued: will re-run after the active run")
	ErrClosed         = errors.New("sync manager is closed")
)

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "gateway")
	Component string

	// Collection being reconciled, if any
	Collection string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Collection != "" {
		msg += fmt.Sprintf(" (collection %s)", e.Collection)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewIOError creates a gateway failure: transport error, non-2xx status or
// malformed response body.
func NewIOError(op Operation, collection string, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeIOFailure,
		Op:         op,
		Component:  "gateway",
		Collection: collection,
		Err:        cause,
	}
}

// NewStoreError creates a local persistence failure
func NewStoreError(op Operation, collection string, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeStoreFailure,
		Op:         op,
		Component:  "store",
		Collection: collection,
		Err:        cause,
		Retryable:  true,
	}
}

// NewStrategyTimeout reports a conflict decision that never arrived
func NewStrategyTimeout(collection, recordID string, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeStrategyTimeout,
		Op:         OpResolve,
		Component:  "resolver",
		Collection: collection,
		Err:        cause,
		Retryable:  true,
		Metadata:   map[string]interface{}{"record_id": recordID},
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code: ErrCodeValidationFailure,
		Op:   op,
		Err:  cause,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConfigFailure,
		Op:        OpConfig,
		Component: "config",
		Err:       cause,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if any SyncError in err's chain is retryable
func IsRetryable(err error) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Retryable {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// HasCode reports whether any SyncError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// IsIOFailure reports whether err is a gateway failure.
func IsIOFailure(err error) bool { return HasCode(err, ErrCodeIOFailure) }

// IsStoreFailure reports whether err is a local persistence failure.
func IsStoreFailure(err error) bool { return HasCode(err, ErrCodeStoreFailure) }

// IsStrategyTimeout reports whether err is an expired conflict decision.
func IsStrategyTimeout(err error) bool { return HasCode(err, ErrCodeStrategyTimeout) }

// IsSkip reports whether err only explains why a run did not start.
func IsSkip(err error) bool {
	return errors.Is(err, ErrOfflineSkipped) ||
		errors.Is(err, ErrRunInProgress) ||
		errors.Is(err, ErrRunQueued) ||
		errors.Is(err, ErrClosed)
}
