package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/devnet"
	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/keyvaluedb/memorydb"
	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/rpc"
	"github.com/bookingswap/swapengine/swap"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
	testobserve "github.com/bookingswap/swapengine/testutils/observability"
	"github.com/bookingswap/swapengine/verifier"
)

type testEngine struct {
	escrow *escrow.Client
	client *EngineClient
}

// startEngine starts swap engine REST API backed by in-memory devnet.
func startEngine(t *testing.T) *testEngine {
	t.Helper()
	ctx := context.Background()
	log := testlogger.New(t)

	node, err := devnet.New(memorydb.New(), log)
	require.NoError(t, err)
	ec, err := escrow.New(node, log, escrow.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	v, err := verifier.New(node, log, verifier.WithPollInterval(time.Millisecond), verifier.WithMaxAttempts(10), verifier.WithTimeout(time.Second))
	require.NoError(t, err)
	svc, err := swap.New(ec, v, log, swap.WithLedgerTimeout(time.Second))
	require.NoError(t, err)

	for _, a := range []*escrow.AssetRecord{
		{AssetID: "A", Owner: "U1", DeclaredValue: 100},
		{AssetID: "B", Owner: "U2", DeclaredValue: 100},
	} {
		_, err := ec.RegisterAsset(ctx, a)
		require.NoError(t, err)
	}

	obs := testobserve.Default(t)
	srv, err := rpc.NewHTTPServer(&rpc.ServerConfiguration{}, obs,
		rpc.SwapEndpoints(svc, v, log),
		rpc.InfoEndpoints(svc, "swap engine", "test", log),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	return &testEngine{escrow: ec, client: c}
}

func TestNew(t *testing.T) {
	c, err := New("localhost:1234")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:1234", c.BaseUrl.String())

	c, err = New("https://engine.example.com/base")
	require.NoError(t, err)
	require.Equal(t, "https://engine.example.com/base/api/v1/swaps", c.BaseUrl.JoinPath(SwapsPath).String())
}

func TestEngineClient_ExecuteSwap(t *testing.T) {
	ctx := context.Background()
	engine := startEngine(t)

	req := &swap.SwapExecutionRequest{
		SwapID:          "s1",
		SourceAssetID:   "A",
		TargetAssetID:   "B",
		ProposerAccount: "U1",
		AcceptorAccount: "U2",
		ExpirationTime:  time.Now().Add(time.Hour),
	}
	res, err := engine.client.ExecuteSwap(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success, "swap failed: %v", res.Error)
	require.Equal(t, swap.OutcomeSuccess, res.Outcome)
	require.Equal(t, swap.StateCompleted, res.FinalState)
	require.NotEmpty(t, res.TransactionID)
	require.NotNil(t, res.ConsensusTimestamp)

	a, err := engine.escrow.GetAsset(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "U2", a.Owner)
	require.False(t, a.IsLocked)

	v, err := engine.client.VerifyTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, verifier.StatusSuccess, v.Status)
	require.True(t, v.IsValid)

	// failed swap is reported as result, not as error
	req.SwapID = "s2"
	req.TargetAssetID = "missing"
	res, err = engine.client.ExecuteSwap(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, swap.CodeAssetNotFound, res.Error.Code)

	res, err = engine.client.ExecuteSwap(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, swap.CodeInvalidRequest, res.Error.Code)
	require.Equal(t, swap.StateInitiated, res.FinalState)
}

func TestEngineClient_ActiveSwapsAndCleanup(t *testing.T) {
	ctx := context.Background()
	engine := startEngine(t)

	active, err := engine.client.ActiveSwaps(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	n, err := engine.client.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = engine.client.Cleanup(ctx, -time.Hour)
	require.ErrorContains(t, err, "400 Bad Request")

	info, err := engine.client.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, &rpc.InfoResponse{Name: "swap engine", Version: "test"}, info)
}

func TestEngineClient_Errors(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid parameter \"body\": unexpected EOF"}`))
	}))
	t.Cleanup(ts.Close)
	c, err := New(ts.URL)
	require.NoError(t, err)

	_, err = c.ExecuteSwap(ctx, &swap.SwapExecutionRequest{SwapID: "s1"})
	require.EqualError(t, err, `status 400 Bad Request - invalid parameter "body": unexpected EOF`)

	_, err = c.ActiveSwaps(ctx)
	require.EqualError(t, err, `request ActiveSwaps failed: status 400 Bad Request - invalid parameter "body": unexpected EOF`)

	_, err = c.VerifyTransaction(ctx, ledger.TxID("0x01"))
	require.ErrorContains(t, err, "request VerifyTransaction failed")
}
