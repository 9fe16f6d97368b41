package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/swap"
	"github.com/bookingswap/swapengine/verifier"
)

// SwapAPINamespace is the JSON-RPC namespace of the SwapAPI methods, ie "swap_executeAtomicSwap".
const SwapAPINamespace = "swap"

const errCodeInvalidParams = -32602

// SwapAPI exposes the swap engine as JSON-RPC service.
type SwapAPI struct {
	svc      SwapService
	verifier TxVerifier
}

// invalidParamsError implements the go-ethereum rpc.Error interface.
type invalidParamsError struct{ err error }

func (e *invalidParamsError) Error() string  { return e.err.Error() }
func (e *invalidParamsError) ErrorCode() int { return errCodeInvalidParams }

func NewSwapAPI(svc SwapService, v TxVerifier) *SwapAPI {
	return &SwapAPI{svc: svc, verifier: v}
}

// ExecuteAtomicSwap executes the swap. Failed swap is not an RPC error, outcome is reported in the result.
func (a *SwapAPI) ExecuteAtomicSwap(ctx context.Context, req *swap.SwapExecutionRequest) (*swap.SwapExecutionResult, error) {
	if req == nil {
		return nil, &invalidParamsError{errors.New("swap execution request is required")}
	}
	return a.svc.ExecuteAtomicSwap(ctx, req), nil
}

func (a *SwapAPI) GetActiveSwaps() []swap.ActiveSwapExecution {
	active := a.svc.GetActiveSwaps()
	if active == nil {
		return []swap.ActiveSwapExecution{}
	}
	return active
}

// CleanupExpiredExecutions accepts maxAge as Go duration string, ie "1h30m".
func (a *SwapAPI) CleanupExpiredExecutions(maxAge string) (int, error) {
	d, err := parseMaxAge(maxAge)
	if err != nil {
		return 0, &invalidParamsError{fmt.Errorf("invalid maxAge: %w", err)}
	}
	return a.svc.CleanupExpiredExecutions(d), nil
}

func (a *SwapAPI) VerifyTransaction(ctx context.Context, txID string) (*verifier.Verification, error) {
	id, err := ledger.ParseTxID(txID)
	if err != nil {
		return nil, &invalidParamsError{fmt.Errorf("invalid transaction id: %w", err)}
	}
	v := a.verifier.VerifyTransaction(ctx, id)
	return &v, nil
}
