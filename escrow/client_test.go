package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/testutils/ledgermock"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
)

func newTestClient(t *testing.T, lc ledger.Client) *Client {
	t.Helper()
	c, err := New(lc, testlogger.New(t), WithPollInterval(time.Millisecond), WithTxTimeoutRounds(5))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(nil, testlogger.New(t))
	require.EqualError(t, err, "ledger client is nil")
	_, err = New(&ledgermock.MockClient{}, nil)
	require.EqualError(t, err, "logger is nil")
	_, err = New(&ledgermock.MockClient{}, testlogger.New(t), WithTxTimeoutRounds(0))
	require.EqualError(t, err, "tx timeout must be at least one round")
}

func TestClient_LockAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		var submitted *ledger.TransactionOrder
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(7), nil)
		lc.On("SubmitTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			submitted = args.Get(1).(*ledger.TransactionOrder)
		}).Return(ledger.TxID("0x01"), nil)
		lc.On("QueryTransaction", mock.Anything, mock.Anything).Return(&ledger.Receipt{Status: ledger.TxStatusSuccessful}, nil)

		txID, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.NoError(t, err)
		require.Equal(t, TxTypeLock, submitted.Type)
		require.True(t, submitted.UnitID.Eq(AssetUnitID("A")))
		require.EqualValues(t, 12, submitted.Timeout())
		require.NotEmpty(t, submitted.Nonce)
		expID, err := submitted.ID()
		require.NoError(t, err)
		require.Equal(t, expID, txID)

		attr := &LockAttributes{}
		require.NoError(t, submitted.UnmarshalAttributes(attr))
		require.Equal(t, "s1", attr.SwapID)
		require.Equal(t, "A", attr.AssetID)
		lc.AssertExpectations(t)
	})

	t.Run("rejected by contract", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(1), nil)
		lc.On("SubmitTransaction", mock.Anything, mock.Anything).Return(ledger.TxID("0x01"), nil)
		lc.On("QueryTransaction", mock.Anything, mock.Anything).Return(&ledger.Receipt{TxID: "0x01", Status: ledger.TxStatusFailed, ErrorCode: CodeAssetLocked, Error: "locked by s0"}, nil)

		txID, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.ErrorIs(t, err, ErrAssetLocked)
		require.EqualError(t, err, "transaction 0x01 failed: ASSET_LOCKED: locked by s0")
		require.True(t, Rejected(err))
		require.NotEmpty(t, txID)
	})

	t.Run("submit fails", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(1), nil)
		lc.On("SubmitTransaction", mock.Anything, mock.Anything).Return(ledger.TxID(""), errors.New("connection reset"))

		txID, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.EqualError(t, err, "submitting lock transaction: connection reset")
		require.False(t, Rejected(err))
		// tx id is known even when submission failed
		require.NotEmpty(t, txID)
		var uErr *UnconfirmedTxError
		require.ErrorAs(t, err, &uErr)
		require.Equal(t, txID, uErr.TxID)
		require.EqualValues(t, 6, uErr.Timeout)
	})

	t.Run("receipt not available", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(1), nil)
		lc.On("SubmitTransaction", mock.Anything, mock.Anything).Return(ledger.TxID("0x01"), nil)
		lc.On("QueryTransaction", mock.Anything, mock.Anything).Return(&ledger.Receipt{TxID: "0x01", Status: ledger.TxStatusPending}, nil)

		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		txID, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.ErrorIs(t, err, ledger.ErrConfirmationTimeout)
		require.False(t, Rejected(err))
		var uErr *UnconfirmedTxError
		require.ErrorAs(t, err, &uErr)
		require.Equal(t, txID, uErr.TxID)
		require.EqualValues(t, 6, uErr.Timeout)
	})

	t.Run("expired", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(1), nil).Once()
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(7), nil)
		lc.On("SubmitTransaction", mock.Anything, mock.Anything).Return(ledger.TxID("0x01"), nil)
		lc.On("QueryTransaction", mock.Anything, mock.Anything).Return(nil, ledger.ErrTxNotFound)

		_, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.ErrorIs(t, err, ledger.ErrTxExpired)
		require.True(t, Rejected(err))
		var uErr *UnconfirmedTxError
		require.False(t, errors.As(err, &uErr))
	})

	t.Run("round number fails", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(0), errors.New("unavailable"))

		txID, err := newTestClient(t, lc).LockAsset(ctx, "s1", "A")
		require.EqualError(t, err, "reading round number: unavailable")
		require.Empty(t, txID)
	})
}

func TestClient_GetAsset(t *testing.T) {
	ctx := context.Background()
	data, err := cbor.Marshal(&AssetRecord{AssetID: "A", Owner: "U1", DeclaredValue: 5, IsLocked: true, LockedBy: "s1"})
	require.NoError(t, err)

	lc := &ledgermock.MockClient{}
	lc.On("GetUnit", mock.Anything, AssetUnitID("A")).Return(&ledger.Unit{ID: AssetUnitID("A"), Data: data, Counter: 3}, nil)
	lc.On("GetUnit", mock.Anything, AssetUnitID("B")).Return(nil, ledger.ErrUnitNotFound)
	lc.On("GetUnit", mock.Anything, AssetUnitID("C")).Return(nil, errors.New("timeout"))
	c := newTestClient(t, lc)

	rec, err := c.GetAsset(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, &AssetRecord{AssetID: "A", Owner: "U1", DeclaredValue: 5, IsLocked: true, LockedBy: "s1", Counter: 3}, rec)

	_, err = c.GetAsset(ctx, "B")
	require.ErrorIs(t, err, ErrAssetNotFound)

	_, err = c.GetAsset(ctx, "C")
	require.EqualError(t, err, `reading asset "C": timeout`)
	require.NotErrorIs(t, err, ErrAssetNotFound)
}

func TestClient_GetSwap(t *testing.T) {
	ctx := context.Background()
	data, err := cbor.Marshal(&SwapRecord{SwapID: "s1", Status: SwapStatusRolledBack, RollbackTxID: "0x02"})
	require.NoError(t, err)

	lc := &ledgermock.MockClient{}
	lc.On("GetUnit", mock.Anything, SwapUnitID("s1")).Return(&ledger.Unit{Data: data}, nil)
	lc.On("GetUnit", mock.Anything, SwapUnitID("s2")).Return(nil, ledger.ErrUnitNotFound)
	c := newTestClient(t, lc)

	rec, err := c.GetSwap(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, SwapStatusRolledBack, rec.Status)
	require.Equal(t, ledger.TxID("0x02"), rec.RollbackTxID)

	rec, err = c.GetSwap(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, &SwapRecord{SwapID: "s2", Status: SwapStatusNone}, rec)
}

func TestClient_AwaitTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("final", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, ledger.TxID("0x01")).Return(&ledger.Receipt{TxID: "0x01", Status: ledger.TxStatusPending}, nil).Once()
		lc.On("QueryTransaction", mock.Anything, ledger.TxID("0x01")).Return(&ledger.Receipt{TxID: "0x01", Status: ledger.TxStatusSuccessful, Round: 3}, nil)

		rec, err := newTestClient(t, lc).AwaitTransaction(ctx, "0x01", 5)
		require.NoError(t, err)
		require.True(t, rec.Successful())
		require.EqualValues(t, 3, rec.Round)
	})

	t.Run("expired", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, ledger.TxID("0x01")).Return(nil, ledger.ErrTxNotFound)
		lc.On("GetRoundNumber", mock.Anything).Return(uint64(6), nil)

		_, err := newTestClient(t, lc).AwaitTransaction(ctx, "0x01", 5)
		require.ErrorIs(t, err, ledger.ErrTxExpired)
	})
}
