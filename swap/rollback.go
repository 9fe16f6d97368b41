package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
)

/*
rollback releases the assets locked by the execution in reverse lock order.
The cause is the failure which triggered the rollback and is returned as the
error of the result unless the rollback itself fails.

The execution is rolled back only after every lock transaction with unknown
outcome has become final or expired and no asset is locked by the swap
anymore, a lock executed after its unlock is released again.
*/
func (s *Service) rollback(ctx context.Context, e *execution, cause *ExecutionError) *SwapExecutionResult {
	e.log.WarnContext(ctx, "rolling back swap execution", logger.AssetID(e.locked...), logger.Error(cause))
	if err := s.transition(ctx, e, StateRollingBack, ""); err != nil {
		return s.abort(ctx, e, err)
	}

	var rollbackTx ledger.TxID
	release := func(assetID string) error {
		txID, err := s.unlock(ctx, e, assetID)
		if txID != "" {
			rollbackTx = txID
		}
		return err
	}

	for i := len(e.locked) - 1; i >= 0; i-- {
		if err := release(e.locked[i]); err != nil {
			return s.rollbackFailed(ctx, e, cause, err, rollbackTx)
		}
	}
	if err := s.settleLocks(ctx, e); err != nil {
		return s.rollbackFailed(ctx, e, cause, err, rollbackTx)
	}
	for i := len(e.locked) - 1; i >= 0; i-- {
		assetID := e.locked[i]
		held, err := s.lockedBySwap(ctx, e, assetID)
		if err == nil && held {
			e.log.WarnContext(ctx, "asset was locked after it had been unlocked, unlocking again", logger.AssetID(assetID))
			if err = release(assetID); err == nil {
				if held, err = s.lockedBySwap(ctx, e, assetID); err == nil && held {
					err = fmt.Errorf("asset %q is still locked by the swap", assetID)
				}
			}
		}
		if err != nil {
			return s.rollbackFailed(ctx, e, cause, err, rollbackTx)
		}
	}

	if err := s.transition(ctx, e, StateRolledBack, rollbackTx); err != nil {
		return s.abort(ctx, e, err)
	}
	s.metrics.recordRollback(ctx, e.state)
	e.log.InfoContext(ctx, "swap execution rolled back", logger.TxID(string(rollbackTx)))
	res := e.result(cause, OutcomeFailed)
	res.RollbackTransactionID = rollbackTx
	return res
}

func (s *Service) rollbackFailed(ctx context.Context, e *execution, cause *ExecutionError, err error, rollbackTx ledger.TxID) *SwapExecutionResult {
	if err := s.transition(ctx, e, StateRollbackFailed, ""); err != nil {
		return s.abort(ctx, e, err)
	}
	s.metrics.recordRollback(ctx, e.state)
	e.log.Log(ctx, logger.LevelCritical, "swap rollback failed, assets may remain locked",
		logger.AssetID(e.locked...), logger.TxID(string(e.lastTx)), logger.Error(err))
	res := e.result(newError(CodeRollbackFailed, errors.Join(cause, err), "rolling back swap"), OutcomeRollbackFailed)
	res.RollbackTransactionID = rollbackTx
	return res
}

/*
settleLocks waits until the lock transactions with unknown outcome are final
or can't be executed by the ledger anymore.
*/
func (s *Service) settleLocks(ctx context.Context, e *execution) error {
	if len(e.unconfirmed) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.rollbackCfg.SettleTimeout)
	defer cancel()

	for _, l := range e.unconfirmed {
		log := e.log.With(logger.AssetID(l.assetID), logger.TxID(string(l.txID)))
		rec, err := s.escrow.AwaitTransaction(ctx, l.txID, l.timeout)
		switch {
		case errors.Is(err, ledger.ErrTxExpired):
			log.DebugContext(ctx, "lock transaction expired")
		case err != nil:
			return fmt.Errorf("settling lock of asset %q: %w", l.assetID, err)
		default:
			log.DebugContext(ctx, fmt.Sprintf("lock transaction is final in round %d: %s", rec.Round, rec.Status))
		}
	}
	e.unconfirmed = nil
	return nil
}

// lockedBySwap reads the asset from the ledger and reports whether the swap holds its lock.
func (s *Service) lockedBySwap(ctx context.Context, e *execution, assetID string) (bool, error) {
	var held bool
	err := s.retry(ctx, e.log.With(logger.AssetID(assetID)), "reading asset", func() error {
		asset, err := s.getAsset(ctx, assetID)
		if err != nil {
			return err
		}
		held = asset.IsLocked && asset.LockedBy == e.req.SwapID
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reading asset %q: %w", assetID, err)
	}
	return held, nil
}

/*
unlock releases the lock of the swap on the asset, retrying with exponential
backoff until the unlock is confirmed. Returns ID of the confirmed unlock
transaction, empty when the asset is held by another swap (ie our lock never
took effect).
*/
func (s *Service) unlock(ctx context.Context, e *execution, assetID string) (ledger.TxID, error) {
	log := e.log.With(logger.AssetID(assetID))
	var confirmed ledger.TxID
	err := s.retry(ctx, log, "unlocking asset", func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
		defer cancel()

		txID, err := s.escrow.UnlockAsset(callCtx, e.req.SwapID, assetID)
		if txID != "" {
			e.lastTx = txID
		}
		switch {
		case err == nil:
		case errors.Is(err, escrow.ErrNotLockHolder):
			log.InfoContext(ctx, "asset is not locked by the swap, nothing to unlock")
			return nil
		case escrow.Rejected(err) && !errors.Is(err, ledger.ErrTxExpired):
			return backoff.Permanent(err)
		default:
			return err
		}

		if v := s.verifier.VerifyTransaction(ctx, txID); !v.IsValid {
			return fmt.Errorf("unlock transaction %s was not confirmed, status %s", txID, v.Status)
		}
		confirmed = txID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unlocking asset %q: %w", assetID, err)
	}
	return confirmed, nil
}

// retry calls op with bounded exponential backoff of the rollback configuration.
func (s *Service) retry(ctx context.Context, log *slog.Logger, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.rollbackCfg.InitialInterval
	b.MaxInterval = s.rollbackCfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(op, backoff.WithMaxRetries(b, s.rollbackCfg.MaxRetries), func(err error, d time.Duration) {
		log.WarnContext(ctx, fmt.Sprintf("%s failed, retrying in %s", what, d), logger.Error(err))
	})
}
