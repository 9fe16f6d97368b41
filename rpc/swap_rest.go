package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/pkg/restapi"
	"github.com/bookingswap/swapengine/swap"
	"github.com/bookingswap/swapengine/verifier"
)

type (
	SwapService interface {
		ExecuteAtomicSwap(ctx context.Context, req *swap.SwapExecutionRequest) *swap.SwapExecutionResult
		GetActiveSwaps() []swap.ActiveSwapExecution
		CleanupExpiredExecutions(maxAge time.Duration) int
	}

	TxVerifier interface {
		VerifyTransaction(ctx context.Context, txID ledger.TxID) verifier.Verification
	}

	CleanupResponse struct {
		Removed int `json:"removed"`
	}
)

var (
	_ SwapService = (*swap.Service)(nil)
	_ TxVerifier  = (*verifier.Verifier)(nil)
)

/*
SwapEndpoints registers the swap engine REST API:
  - POST /swaps executes the swap described by the JSON body;
  - GET /swaps/active lists executions currently in progress;
  - POST /maintenance/cleanup?maxAge=1h drops registry entries older than maxAge;
  - GET /transactions/{txId}/verification verifies transaction against the ledger.
*/
func SwapEndpoints(svc SwapService, v TxVerifier, log *slog.Logger) RegistrarFunc {
	rw := restapi.NewResponseWriter(func(err error) {
		log.Error("swap REST API", logger.Error(err))
	})
	return func(r *mux.Router) {
		r.HandleFunc("/swaps", executeSwapHandler(svc, rw)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc("/swaps/active", activeSwapsHandler(svc, rw)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/maintenance/cleanup", cleanupHandler(svc, rw)).Methods(http.MethodPost, http.MethodOptions)
		r.HandleFunc("/transactions/{txId}/verification", verifyTxHandler(v, rw)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func executeSwapHandler(svc SwapService, rw *restapi.ResponseWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &swap.SwapExecutionRequest{}
		if !rw.DecodeRequest(w, r, req) {
			return
		}
		res := svc.ExecuteAtomicSwap(r.Context(), req)
		rw.WriteResponseStatus(w, ResultStatusCode(res), res)
	}
}

func activeSwapsHandler(svc SwapService, rw *restapi.ResponseWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := svc.GetActiveSwaps()
		if active == nil {
			active = []swap.ActiveSwapExecution{}
		}
		rw.WriteResponse(w, active)
	}
}

func cleanupHandler(svc SwapService, rw *restapi.ResponseWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxAge, err := parseMaxAge(r.URL.Query().Get("maxAge"))
		if err != nil {
			rw.InvalidParamResponse(w, "maxAge", err)
			return
		}
		rw.WriteResponse(w, CleanupResponse{Removed: svc.CleanupExpiredExecutions(maxAge)})
	}
}

func verifyTxHandler(v TxVerifier, rw *restapi.ResponseWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID, err := ledger.ParseTxID(mux.Vars(r)["txId"])
		if err != nil {
			rw.InvalidParamResponse(w, "txId", err)
			return
		}
		rw.WriteResponse(w, v.VerifyTransaction(r.Context(), txID))
	}
}

func parseMaxAge(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("parameter is required")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}

/*
ResultStatusCode maps the outcome of the swap execution to HTTP status code.
Execution with unknown outcome is reported as "202 Accepted" as the swap may
still complete on the ledger and the caller is expected to query it later.
*/
func ResultStatusCode(res *swap.SwapExecutionResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Outcome == swap.OutcomeUnknown:
		return http.StatusAccepted
	case res.Outcome == swap.OutcomeRollbackFailed:
		return http.StatusInternalServerError
	case res.Error == nil:
		return http.StatusUnprocessableEntity
	case res.Error.Code.Contention():
		return http.StatusConflict
	case res.Error.Code.Precondition():
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}
