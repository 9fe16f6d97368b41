package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/pkg/restapi"
	"github.com/bookingswap/swapengine/swap"
	testobserve "github.com/bookingswap/swapengine/testutils/observability"
	"github.com/bookingswap/swapengine/verifier"
)

const testTxID = ledger.TxID("0x0101010101010101010101010101010101010101010101010101010101010101")

type mockSwapService struct {
	mu        sync.Mutex
	result    *swap.SwapExecutionResult
	active    []swap.ActiveSwapExecution
	removed   int
	gotReq    *swap.SwapExecutionRequest
	gotMaxAge time.Duration
}

func (m *mockSwapService) ExecuteAtomicSwap(_ context.Context, req *swap.SwapExecutionRequest) *swap.SwapExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gotReq = req
	return m.result
}

func (m *mockSwapService) GetActiveSwaps() []swap.ActiveSwapExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *mockSwapService) setActive(active ...swap.ActiveSwapExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

func (m *mockSwapService) lastRequest() *swap.SwapExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gotReq
}

func (m *mockSwapService) lastMaxAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gotMaxAge
}

func (m *mockSwapService) CleanupExpiredExecutions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gotMaxAge = maxAge
	return m.removed
}

type mockVerifier struct {
	verification verifier.Verification
}

func (m *mockVerifier) VerifyTransaction(_ context.Context, txID ledger.TxID) verifier.Verification {
	v := m.verification
	v.TxID = txID
	return v
}

func newTestHandler(t *testing.T, svc SwapService, v TxVerifier) http.Handler {
	t.Helper()
	obs := testobserve.Default(t)
	conf := &ServerConfiguration{
		APIs: []API{{Namespace: SwapAPINamespace, Service: NewSwapAPI(svc, v)}},
	}
	srv, err := NewHTTPServer(conf, obs,
		SwapEndpoints(svc, v, obs.Logger()),
		InfoEndpoints(svc, "swap engine", "v0.0.1", obs.Logger()),
	)
	require.NoError(t, err)
	return srv.Handler
}

func serve(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set(restapi.ContentType, restapi.ApplicationJson)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResultStatusCode(t *testing.T) {
	failed := func(code swap.ErrorCode) *swap.SwapExecutionResult {
		return &swap.SwapExecutionResult{Outcome: swap.OutcomeFailed, Error: &swap.ExecutionError{Code: code}}
	}
	tests := []struct {
		name string
		res  *swap.SwapExecutionResult
		want int
	}{
		{"success", &swap.SwapExecutionResult{Success: true, Outcome: swap.OutcomeSuccess}, http.StatusOK},
		{"unknown", &swap.SwapExecutionResult{Outcome: swap.OutcomeUnknown, Error: &swap.ExecutionError{Code: swap.CodeExecutionUnknownState}}, http.StatusAccepted},
		{"rollback failed", &swap.SwapExecutionResult{Outcome: swap.OutcomeRollbackFailed, Error: &swap.ExecutionError{Code: swap.CodeRollbackFailed}}, http.StatusInternalServerError},
		{"invalid request", failed(swap.CodeInvalidRequest), http.StatusBadRequest},
		{"asset not found", failed(swap.CodeAssetNotFound), http.StatusBadRequest},
		{"expired", failed(swap.CodeRequestExpired), http.StatusBadRequest},
		{"asset unavailable", failed(swap.CodeAssetUnavailable), http.StatusConflict},
		{"in progress", failed(swap.CodeExecutionInProgress), http.StatusConflict},
		{"ledger failure", failed(swap.CodeLedgerFailure), http.StatusUnprocessableEntity},
		{"rolled back", failed(swap.CodeSwapRolledBack), http.StatusUnprocessableEntity},
		{"no error", &swap.SwapExecutionResult{Outcome: swap.OutcomeFailed}, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResultStatusCode(tc.res))
		})
	}
}

func TestSwapEndpoints_ExecuteSwap(t *testing.T) {
	req := &swap.SwapExecutionRequest{
		SwapID:          "s1",
		SourceAssetID:   "A",
		TargetAssetID:   "B",
		ProposerAccount: "U1",
		AcceptorAccount: "U2",
		ExpirationTime:  time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		svc := &mockSwapService{result: &swap.SwapExecutionResult{
			SwapID:        "s1",
			Success:       true,
			TransactionID: testTxID,
			Outcome:       swap.OutcomeSuccess,
			FinalState:    swap.StateCompleted,
		}}
		rec := serve(newTestHandler(t, svc, &mockVerifier{}), http.MethodPost, "/api/v1/swaps", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, restapi.ApplicationJson, rec.Header().Get(restapi.ContentType))

		res := &swap.SwapExecutionResult{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(res))
		require.Equal(t, svc.result, res)
		require.Equal(t, req, svc.lastRequest())
	})

	t.Run("contention", func(t *testing.T) {
		svc := &mockSwapService{result: &swap.SwapExecutionResult{
			SwapID:     "s1",
			Outcome:    swap.OutcomeFailed,
			FinalState: swap.StateInitiated,
			Error:      &swap.ExecutionError{Code: swap.CodeExecutionInProgress, Message: "swap is being executed"},
		}}
		rec := serve(newTestHandler(t, svc, &mockVerifier{}), http.MethodPost, "/api/v1/swaps", body)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), `"code":"ExecutionInProgress"`)
	})

	t.Run("invalid body", func(t *testing.T) {
		svc := &mockSwapService{}
		rec := serve(newTestHandler(t, svc, &mockVerifier{}), http.MethodPost, "/api/v1/swaps", []byte("{not json"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), `invalid parameter \"body\"`)
		require.Nil(t, svc.lastRequest())
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := serve(newTestHandler(t, &mockSwapService{}, &mockVerifier{}), http.MethodGet, "/api/v1/swaps", nil)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestSwapEndpoints_ActiveSwaps(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		rec := serve(newTestHandler(t, &mockSwapService{}, &mockVerifier{}), http.MethodGet, "/api/v1/swaps/active", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("some", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		svc := &mockSwapService{active: []swap.ActiveSwapExecution{
			{SwapID: "s1", State: swap.StateSourceLocked, StartedAt: now, UpdatedAt: now, LastTransactionID: testTxID, LockedAssets: []string{"A"}},
		}}
		rec := serve(newTestHandler(t, svc, &mockVerifier{}), http.MethodGet, "/api/v1/swaps/active", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"state":"SOURCE_LOCKED"`)

		var active []swap.ActiveSwapExecution
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&active))
		require.Equal(t, svc.active, active)
	})
}

func TestSwapEndpoints_Cleanup(t *testing.T) {
	svc := &mockSwapService{removed: 3}
	h := newTestHandler(t, svc, &mockVerifier{})

	rec := serve(h, http.MethodPost, "/api/v1/maintenance/cleanup", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "parameter is required")

	rec = serve(h, http.MethodPost, "/api/v1/maintenance/cleanup?maxAge=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, "/api/v1/maintenance/cleanup?maxAge=-1m", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "must not be negative")

	rec = serve(h, http.MethodPost, "/api/v1/maintenance/cleanup?maxAge=1h30m", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rsp := &CleanupResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(rsp))
	require.Equal(t, 3, rsp.Removed)
	require.Equal(t, 90*time.Minute, svc.lastMaxAge())
}

func TestSwapEndpoints_VerifyTransaction(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &mockVerifier{verification: verifier.Verification{IsValid: true, Status: verifier.StatusSuccess, ConsensusTimestamp: ts, Round: 7, Index: 1}}
	h := newTestHandler(t, &mockSwapService{}, v)

	rec := serve(h, http.MethodGet, "/api/v1/transactions/0x0102/verification", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `invalid parameter \"txId\"`)

	rec = serve(h, http.MethodGet, "/api/v1/transactions/"+string(testTxID)+"/verification", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := verifier.Verification{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, testTxID, got.TxID)
	require.Equal(t, verifier.StatusSuccess, got.Status)
	require.True(t, got.IsValid)
	require.EqualValues(t, 7, got.Round)
	require.True(t, ts.Equal(got.ConsensusTimestamp))
}

func TestInfoEndpoints(t *testing.T) {
	svc := &mockSwapService{active: []swap.ActiveSwapExecution{{SwapID: "s1"}, {SwapID: "s2"}}}
	rec := serve(newTestHandler(t, svc, &mockVerifier{}), http.MethodGet, "/api/v1/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	info := &InfoResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(info))
	require.Equal(t, &InfoResponse{Name: "swap engine", Version: "v0.0.1", ActiveSwaps: 2}, info)
}
