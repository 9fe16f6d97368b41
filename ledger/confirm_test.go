package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/ledger"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
	"github.com/bookingswap/swapengine/testutils/ledgermock"
)

const txID = ledger.TxID("0x0101010101010101010101010101010101010101010101010101010101010101")

func TestAwaitReceipt(t *testing.T) {
	opts := ledger.ConfirmOptions{PollInterval: time.Millisecond, Log: testlogger.New(t)}

	t.Run("pending then successful", func(t *testing.T) {
		c := &ledgermock.MockClient{}
		c.On("QueryTransaction", mock.Anything, txID).Return(nil, ledger.ErrTxNotFound).Once()
		c.On("QueryTransaction", mock.Anything, txID).Return(&ledger.Receipt{TxID: txID, Status: ledger.TxStatusPending}, nil).Once()
		c.On("QueryTransaction", mock.Anything, txID).Return(&ledger.Receipt{TxID: txID, Status: ledger.TxStatusSuccessful, Round: 3}, nil).Once()

		rec, err := ledger.AwaitReceipt(context.Background(), c, txID, opts)
		require.NoError(t, err)
		require.True(t, rec.Successful())
		require.EqualValues(t, 3, rec.Round)
		c.AssertExpectations(t)
	})

	t.Run("failed receipt is not an error", func(t *testing.T) {
		c := &ledgermock.MockClient{}
		c.On("QueryTransaction", mock.Anything, txID).Return(&ledger.Receipt{TxID: txID, Status: ledger.TxStatusFailed, ErrorCode: "ASSET_LOCKED"}, nil)

		rec, err := ledger.AwaitReceipt(context.Background(), c, txID, opts)
		require.NoError(t, err)
		require.Equal(t, ledger.TxStatusFailed, rec.Status)
		require.Equal(t, "ASSET_LOCKED", rec.ErrorCode)
	})

	t.Run("ctx timeout", func(t *testing.T) {
		c := &ledgermock.MockClient{}
		c.On("QueryTransaction", mock.Anything, txID).Return(nil, ledger.ErrTxNotFound)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		rec, err := ledger.AwaitReceipt(ctx, c, txID, opts)
		require.ErrorIs(t, err, ledger.ErrConfirmationTimeout)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Nil(t, rec)
	})

	t.Run("timeout round passed", func(t *testing.T) {
		c := &ledgermock.MockClient{}
		c.On("QueryTransaction", mock.Anything, txID).Return(nil, ledger.ErrTxNotFound)
		c.On("GetRoundNumber", mock.Anything).Return(uint64(10), nil).Once()
		c.On("GetRoundNumber", mock.Anything).Return(uint64(11), nil).Once()

		o := opts
		o.Timeout = 10
		rec, err := ledger.AwaitReceipt(context.Background(), c, txID, o)
		require.ErrorIs(t, err, ledger.ErrTxExpired)
		require.Nil(t, rec)
		c.AssertExpectations(t)
	})

	t.Run("query error", func(t *testing.T) {
		expErr := errors.New("connection refused")
		c := &ledgermock.MockClient{}
		c.On("QueryTransaction", mock.Anything, txID).Return(nil, expErr)

		_, err := ledger.AwaitReceipt(context.Background(), c, txID, opts)
		require.ErrorIs(t, err, expErr)
		require.NotErrorIs(t, err, ledger.ErrConfirmationTimeout)
	})
}
