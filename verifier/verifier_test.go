package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/testutils/ledgermock"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
)

const (
	tx1 = ledger.TxID("0x01")
	tx2 = ledger.TxID("0x02")
	tx3 = ledger.TxID("0x03")
)

func newTestVerifier(t *testing.T, lc ledger.Client, opts ...Option) *Verifier {
	t.Helper()
	v, err := New(lc, testlogger.New(t), append([]Option{WithPollInterval(time.Millisecond), WithMaxAttempts(5)}, opts...)...)
	require.NoError(t, err)
	return v
}

func TestNew(t *testing.T) {
	_, err := New(nil, testlogger.New(t))
	require.EqualError(t, err, "ledger client is nil")
	_, err = New(&ledgermock.MockClient{}, nil)
	require.EqualError(t, err, "logger is nil")
	_, err = New(&ledgermock.MockClient{}, testlogger.New(t), WithMaxAttempts(0))
	require.EqualError(t, err, "max attempts must be positive")
	_, err = New(&ledgermock.MockClient{}, testlogger.New(t), WithTimeout(0))
	require.EqualError(t, err, "timeout must be positive")
}

func TestVerifyTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("success after pending", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, tx1).Return(&ledger.Receipt{TxID: tx1, Status: ledger.TxStatusPending}, nil).Twice()
		lc.On("QueryTransaction", mock.Anything, tx1).Return(&ledger.Receipt{TxID: tx1, Status: ledger.TxStatusSuccessful, Round: 4, Index: 2, Timestamp: 1700000000000}, nil).Once()

		res := newTestVerifier(t, lc).VerifyTransaction(ctx, tx1)
		require.True(t, res.IsValid)
		require.Equal(t, StatusSuccess, res.Status)
		require.EqualValues(t, 4, res.Round)
		require.EqualValues(t, 2, res.Index)
		require.Equal(t, time.UnixMilli(1700000000000).UTC(), res.ConsensusTimestamp)
		lc.AssertExpectations(t)
	})

	t.Run("failed", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, tx1).Return(&ledger.Receipt{TxID: tx1, Status: ledger.TxStatusFailed, ErrorCode: "OWNER_MISMATCH", Round: 1}, nil)

		res := newTestVerifier(t, lc).VerifyTransaction(ctx, tx1)
		require.False(t, res.IsValid)
		require.Equal(t, StatusFailed, res.Status)
		require.Equal(t, "OWNER_MISMATCH", res.ErrorCode)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, tx1).Return(nil, ledger.ErrTxNotFound)

		res := newTestVerifier(t, lc).VerifyTransaction(ctx, tx1)
		require.False(t, res.IsValid)
		require.Equal(t, StatusUnknown, res.Status)
		require.True(t, res.ConsensusTimestamp.IsZero())
		lc.AssertNumberOfCalls(t, "QueryTransaction", 5)
	})

	t.Run("timeout", func(t *testing.T) {
		lc := &ledgermock.MockClient{}
		lc.On("QueryTransaction", mock.Anything, tx1).Return(nil, errors.New("connection refused"))

		v := newTestVerifier(t, lc, WithMaxAttempts(1000), WithPollInterval(5*time.Millisecond), WithTimeout(30*time.Millisecond))
		start := time.Now()
		res := v.VerifyTransaction(ctx, tx1)
		require.Equal(t, StatusUnknown, res.Status)
		require.Less(t, time.Since(start), time.Second)
	})
}

func TestVerifyOrdering(t *testing.T) {
	ctx := context.Background()
	lc := &ledgermock.MockClient{}
	lc.On("QueryTransaction", mock.Anything, tx1).Return(&ledger.Receipt{TxID: tx1, Status: ledger.TxStatusSuccessful, Round: 1, Index: 0}, nil)
	lc.On("QueryTransaction", mock.Anything, tx2).Return(&ledger.Receipt{TxID: tx2, Status: ledger.TxStatusSuccessful, Round: 1, Index: 1}, nil)
	lc.On("QueryTransaction", mock.Anything, tx3).Return(nil, ledger.ErrTxNotFound)
	v := newTestVerifier(t, lc)

	ok, err := v.VerifyOrdering(ctx, tx1, tx2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.VerifyOrdering(ctx, tx2, tx1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.VerifyOrdering(ctx, tx1, tx3)
	require.EqualError(t, err, "transaction 0x03: outcome unknown")
	require.False(t, ok)

	ok, err = v.VerifyOrdering(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}
