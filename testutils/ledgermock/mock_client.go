// Package ledgermock provides testify based mock of the ledger.Client.
package ledgermock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bookingswap/swapengine/ledger"
)

type MockClient struct {
	mock.Mock
}

var _ ledger.Client = (*MockClient)(nil)

func (m *MockClient) SubmitTransaction(ctx context.Context, tx *ledger.TransactionOrder) (ledger.TxID, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(ledger.TxID), args.Error(1)
}

func (m *MockClient) QueryTransaction(ctx context.Context, txID ledger.TxID) (*ledger.Receipt, error) {
	args := m.Called(ctx, txID)
	rec, _ := args.Get(0).(*ledger.Receipt)
	return rec, args.Error(1)
}

func (m *MockClient) GetUnit(ctx context.Context, unitID ledger.UnitID) (*ledger.Unit, error) {
	args := m.Called(ctx, unitID)
	u, _ := args.Get(0).(*ledger.Unit)
	return u, args.Error(1)
}

func (m *MockClient) GetRoundNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}
