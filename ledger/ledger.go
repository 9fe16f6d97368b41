package ledger

import (
	"context"
	"errors"
)

var (
	ErrTxNotFound   = errors.New("transaction not found")
	ErrUnitNotFound = errors.New("unit not found")
	// ErrConfirmationTimeout is returned when a submitted transaction was not
	// confirmed in time, it may still be executed by the ledger.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrTxExpired is returned when ledger passed the timeout round of a
	// transaction without executing it, such transaction is never executed.
	ErrTxExpired = errors.New("transaction expired")
)

// Client is the minimal API of the ledger the swap engine depends on.
type Client interface {
	// SubmitTransaction sends transaction to the ledger and returns the ID
	// assigned to it. Transaction is executed asynchronously.
	SubmitTransaction(ctx context.Context, tx *TransactionOrder) (TxID, error)
	// QueryTransaction returns receipt of the transaction, ErrTxNotFound
	// when the ledger does not know the transaction.
	QueryTransaction(ctx context.Context, txID TxID) (*Receipt, error)
	// GetUnit returns current state of the unit, ErrUnitNotFound when
	// the unit does not exist.
	GetUnit(ctx context.Context, unitID UnitID) (*Unit, error)
	GetRoundNumber(ctx context.Context) (uint64, error)
}
