package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookingswap/swapengine/logger"
)

const DefaultPollInterval = 100 * time.Millisecond

type ConfirmOptions struct {
	// PollInterval is the delay between receipt queries.
	PollInterval time.Duration
	// Timeout is the round number after which the transaction is not executed
	// anymore, zero means do not check.
	Timeout uint64
	Log     *slog.Logger
}

/*
AwaitReceipt polls the ledger until the transaction has a final receipt.

Returns ErrConfirmationTimeout when the ctx is done before the transaction is
final and ErrTxExpired when ledger reached the timeout round and the transaction
is still unknown. Receipt of a failed transaction is returned without error.
*/
func AwaitReceipt(ctx context.Context, c Client, txID TxID, opts ConfirmOptions) (*Receipt, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := opts.Log
	if log == nil {
		log = logger.NOP()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := c.QueryTransaction(ctx, txID)
		switch {
		case err == nil:
			if rec.Final() {
				log.DebugContext(ctx, fmt.Sprintf("transaction confirmed in round %d", rec.Round), logger.TxID(string(txID)))
				return rec, nil
			}
		case errors.Is(err, ErrTxNotFound):
			if opts.Timeout > 0 {
				roundNr, err := c.GetRoundNumber(ctx)
				if err != nil && ctx.Err() == nil {
					return nil, fmt.Errorf("reading round number: %w", err)
				}
				if err == nil && roundNr > opts.Timeout {
					log.DebugContext(ctx, fmt.Sprintf("transaction timeout reached, round %d", roundNr), logger.TxID(string(txID)))
					return nil, fmt.Errorf("transaction %s, timeout %d, round %d: %w", txID, opts.Timeout, roundNr, ErrTxExpired)
				}
			}
		case ctx.Err() != nil:
			// request failed because ctx was cancelled, handled below
		default:
			return nil, fmt.Errorf("querying transaction %s: %w", txID, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirming transaction %s interrupted: %w", txID, errors.Join(ErrConfirmationTimeout, ctx.Err()))
		case <-ticker.C:
		}
	}
}
