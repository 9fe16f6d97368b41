package swap

import (
	"errors"
	"fmt"
)

const (
	// precondition failures, nothing was written to the ledger
	CodeInvalidRequest ErrorCode = "InvalidRequest"
	CodeAssetNotFound  ErrorCode = "AssetNotFound"
	CodeRequestExpired ErrorCode = "RequestExpired"
	CodeCancelled      ErrorCode = "Cancelled"
	// contention
	CodeAssetUnavailable    ErrorCode = "AssetUnavailable"
	CodeExecutionInProgress ErrorCode = "ExecutionInProgress"

	CodeLedgerFailure         ErrorCode = "LedgerFailure"
	CodeRollbackFailed        ErrorCode = "RollbackFailed"
	CodeExecutionUnknownState ErrorCode = "ExecutionUnknownState"
	CodeSwapRolledBack        ErrorCode = "SwapRolledBack"
)

var (
	ErrInvalidRequest         = errors.New("invalid swap request")
	ErrAssetNotFound          = errors.New("asset not found")
	ErrRequestExpired         = errors.New("swap request expired")
	ErrCancelled              = errors.New("swap execution cancelled")
	ErrAssetUnavailable       = errors.New("asset unavailable")
	ErrExecutionInProgress    = errors.New("swap execution in progress")
	ErrLedgerFailure          = errors.New("ledger failure")
	ErrRollbackFailed         = errors.New("rollback failed")
	ErrExecutionUnknownState  = errors.New("swap execution state unknown")
	ErrSwapRolledBack         = errors.New("swap was rolled back")
	errInvalidStateTransition = errors.New("invalid state transition")
)

var codeErrors = map[ErrorCode]error{
	CodeInvalidRequest:        ErrInvalidRequest,
	CodeAssetNotFound:         ErrAssetNotFound,
	CodeRequestExpired:        ErrRequestExpired,
	CodeCancelled:             ErrCancelled,
	CodeAssetUnavailable:      ErrAssetUnavailable,
	CodeExecutionInProgress:   ErrExecutionInProgress,
	CodeLedgerFailure:         ErrLedgerFailure,
	CodeRollbackFailed:        ErrRollbackFailed,
	CodeExecutionUnknownState: ErrExecutionUnknownState,
	CodeSwapRolledBack:        ErrSwapRolledBack,
}

type (
	ErrorCode string

	/*
	ExecutionError describes why swap execution did not succeed.

	errors.Is matches both the sentinel error of the code (ie ErrAssetUnavailable)
	and the wrapped cause.
	*/
	ExecutionError struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Err     error     `json:"-"`
	}
)

func newError(code ErrorCode, cause error, format string, args ...any) *ExecutionError {
	return &ExecutionError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}

// Precondition returns true for failures detected before anything was written to the ledger.
func (c ErrorCode) Precondition() bool {
	switch c {
	case CodeInvalidRequest, CodeAssetNotFound, CodeRequestExpired, CodeCancelled:
		return true
	}
	return false
}

// Contention returns true when the failure was caused by another execution.
func (c ErrorCode) Contention() bool {
	return c == CodeAssetUnavailable || c == CodeExecutionInProgress
}
