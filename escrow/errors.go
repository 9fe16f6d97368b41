package escrow

import (
	"errors"
	"fmt"

	"github.com/bookingswap/swapengine/ledger"
)

// Error codes of the failed transaction receipts.
const (
	CodeAssetNotFound     = "ASSET_NOT_FOUND"
	CodeAssetExists       = "ASSET_EXISTS"
	CodeAssetLocked       = "ASSET_LOCKED"
	CodeNotLockHolder     = "NOT_LOCK_HOLDER"
	CodeAssetNotLocked    = "ASSET_NOT_LOCKED"
	CodeOwnerMismatch     = "OWNER_MISMATCH"
	CodeSwapFinalized     = "SWAP_FINALIZED"
	CodeInvalidAttributes = "INVALID_ATTRIBUTES"
)

var (
	ErrAssetNotFound     = errors.New("asset not found")
	ErrAssetExists       = errors.New("asset already exists")
	ErrAssetLocked       = errors.New("asset is locked")
	ErrNotLockHolder     = errors.New("asset is locked by another swap")
	ErrAssetNotLocked    = errors.New("asset is not locked")
	ErrOwnerMismatch     = errors.New("asset owner mismatch")
	ErrSwapFinalized     = errors.New("swap is finalized")
	ErrInvalidAttributes = errors.New("invalid transaction attributes")
)

var codeErrors = map[string]error{
	CodeAssetNotFound:     ErrAssetNotFound,
	CodeAssetExists:       ErrAssetExists,
	CodeAssetLocked:       ErrAssetLocked,
	CodeNotLockHolder:     ErrNotLockHolder,
	CodeAssetNotLocked:    ErrAssetNotLocked,
	CodeOwnerMismatch:     ErrOwnerMismatch,
	CodeSwapFinalized:     ErrSwapFinalized,
	CodeInvalidAttributes: ErrInvalidAttributes,
}

// ErrorCode returns the receipt error code for err, empty string when err
// is not one of the contract errors.
func ErrorCode(err error) string {
	for code, e := range codeErrors {
		if errors.Is(err, e) {
			return code
		}
	}
	return ""
}

// TxError is returned when the ledger executed the transaction and the
// contract rejected it.
type TxError struct {
	TxID    ledger.TxID
	Code    string
	Message string
}

func newTxError(rec *ledger.Receipt) *TxError {
	return &TxError{TxID: rec.TxID, Code: rec.ErrorCode, Message: rec.Error}
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s: %s", e.TxID, e.Code, e.Message)
}

func (e *TxError) Unwrap() error {
	return codeErrors[e.Code]
}

/*
UnconfirmedTxError is returned when the transaction may have reached the
ledger but its outcome is not known. The ledger can still execute it until
the Timeout round has passed.
*/
type UnconfirmedTxError struct {
	TxID    ledger.TxID
	Timeout uint64
	Err     error
}

func (e *UnconfirmedTxError) Error() string {
	return e.Err.Error()
}

func (e *UnconfirmedTxError) Unwrap() error {
	return e.Err
}

/*
Rejected reports whether err proves that the transaction was not executed,
ie the contract rejected it or the ledger passed its timeout round. For any
other error the outcome of the transaction is unknown.
*/
func Rejected(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr) || errors.Is(err, ledger.ErrTxExpired)
}
