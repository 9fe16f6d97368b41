package swap

import (
	"time"

	"github.com/bookingswap/swapengine/ledger"
)

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailed         Outcome = "failed"
	OutcomeRollbackFailed Outcome = "rollback_failed"
	// OutcomeUnknown means the swap transaction may or may not have been
	// executed and the swap requires manual verification.
	OutcomeUnknown Outcome = "unknown"
)

type (
	SwapExecutionRequest struct {
		SwapID          string `json:"swapId"`
		SourceAssetID   string `json:"sourceAssetId"`
		TargetAssetID   string `json:"targetAssetId"`
		ProposerAccount string `json:"proposerAccount"`
		AcceptorAccount string `json:"acceptorAccount"`
		// AdditionalPayment is recorded by the swap transaction, zero means none.
		AdditionalPayment uint64    `json:"additionalPayment,omitempty"`
		ExpirationTime    time.Time `json:"expirationTime"`
	}

	ActiveSwapExecution struct {
		SwapID            string      `json:"swapId"`
		State             State       `json:"state"`
		StartedAt         time.Time   `json:"startedAt"`
		UpdatedAt         time.Time   `json:"updatedAt"`
		LastTransactionID ledger.TxID `json:"lastTransactionId,omitempty"`
		// LockedAssets are the assets the execution (possibly) locked, in lock order.
		LockedAssets []string `json:"lockedAssets,omitempty"`
	}

	Outcome string

	SwapExecutionResult struct {
		SwapID  string `json:"swapId"`
		Success bool   `json:"success"`
		// TransactionID of the swap transaction.
		TransactionID      ledger.TxID `json:"transactionId,omitempty"`
		ConsensusTimestamp *time.Time  `json:"consensusTimestamp,omitempty"`
		// Error is set when Success is false.
		Error *ExecutionError `json:"error,omitempty"`
		// RollbackTransactionID is the last compensating transaction.
		RollbackTransactionID ledger.TxID `json:"rollbackTransactionId,omitempty"`
		Outcome               Outcome     `json:"outcome"`
		FinalState            State       `json:"finalState"`
	}
)

func (r *SwapExecutionRequest) valid() *ExecutionError {
	switch {
	case r == nil:
		return newError(CodeInvalidRequest, nil, "request is nil")
	case r.SwapID == "":
		return newError(CodeInvalidRequest, nil, "swap id is required")
	case r.SourceAssetID == "" || r.TargetAssetID == "":
		return newError(CodeInvalidRequest, nil, "source and target asset ids are required")
	case r.SourceAssetID == r.TargetAssetID:
		return newError(CodeInvalidRequest, nil, "source and target asset must be different, got %q for both", r.SourceAssetID)
	case r.ProposerAccount == "" || r.AcceptorAccount == "":
		return newError(CodeInvalidRequest, nil, "proposer and acceptor accounts are required")
	case r.ProposerAccount == r.AcceptorAccount:
		return newError(CodeInvalidRequest, nil, "proposer and acceptor must be different accounts")
	case r.ExpirationTime.IsZero():
		return newError(CodeInvalidRequest, nil, "expiration time is required")
	}
	return nil
}

// lockOrder returns the asset ids in the order they must be locked.
func (r *SwapExecutionRequest) lockOrder() (first, second string) {
	if r.TargetAssetID < r.SourceAssetID {
		return r.TargetAssetID, r.SourceAssetID
	}
	return r.SourceAssetID, r.TargetAssetID
}
