package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testAttr struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value uint64
}

func TestTransactionOrder_ID(t *testing.T) {
	tx := &TransactionOrder{Type: "lock", UnitID: NewUnitID([]byte("A"), 1), Nonce: "n1", ClientMetadata: &ClientMetadata{Timeout: 10}}
	require.NoError(t, tx.SetAttributes(&testAttr{Name: "foo", Value: 42}))

	id1, err := tx.ID()
	require.NoError(t, err)
	require.Len(t, id1, 2+2*txIDLength)
	parsed, err := ParseTxID(string(id1))
	require.NoError(t, err)
	require.Equal(t, id1, parsed)

	// deterministic
	id2, err := tx.ID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// nonce makes otherwise identical orders distinct
	tx.Nonce = "n2"
	id3, err := tx.ID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)

	var attr testAttr
	require.NoError(t, tx.UnmarshalAttributes(&attr))
	require.Equal(t, "foo", attr.Name)
	require.EqualValues(t, 42, attr.Value)
	require.EqualValues(t, 10, tx.Timeout())
}

func TestTransactionOrder_NilMetadata(t *testing.T) {
	tx := &TransactionOrder{}
	require.Zero(t, tx.Timeout())

	var nilTx *TransactionOrder
	require.EqualError(t, nilTx.UnmarshalAttributes(&testAttr{}), "transaction order is nil")
}

func TestParseTxID(t *testing.T) {
	_, err := ParseTxID("")
	require.Error(t, err)
	_, err = ParseTxID("0x0102")
	require.EqualError(t, err, "transaction id must be 32 bytes, got 2")
	_, err = ParseTxID("not hex")
	require.Error(t, err)
}

func TestUnitID(t *testing.T) {
	id := NewUnitID([]byte("asset-1"), 7)
	require.True(t, id.HasType(7))
	require.False(t, id.HasType(8))
	require.Equal(t, []byte("asset-1"), id.UnitPart())
	require.Equal(t, "0x61737365742d3107", id.String())

	b, err := id.MarshalText()
	require.NoError(t, err)
	var back UnitID
	require.NoError(t, back.UnmarshalText(b))
	require.True(t, back.Eq(id))

	parsed, err := ParseUnitID(id.String())
	require.NoError(t, err)
	require.True(t, parsed.Eq(id))

	_, err = ParseUnitID("")
	require.EqualError(t, err, "unit id is required")
	_, err = ParseUnitID("0x01")
	require.EqualError(t, err, "unit id must be at least 2 bytes, got 1")

	var empty UnitID
	require.False(t, empty.HasType(0))
	require.Nil(t, empty.UnitPart())
}

func TestReceipt(t *testing.T) {
	var nilRec *Receipt
	require.False(t, nilRec.Final())
	require.False(t, nilRec.Successful())
	require.True(t, nilRec.ConsensusTime().IsZero())

	r := &Receipt{Status: TxStatusPending}
	require.False(t, r.Final())
	r.Status = TxStatusFailed
	require.True(t, r.Final())
	require.False(t, r.Successful())
	r.Status = TxStatusSuccessful
	require.True(t, r.Successful())

	r.Timestamp = 1700000000123
	require.EqualValues(t, 1700000000123, r.ConsensusTime().UnixMilli())

	a := &Receipt{Round: 1, Index: 5}
	b := &Receipt{Round: 2, Index: 0}
	c := &Receipt{Round: 2, Index: 1}
	require.True(t, a.Before(b))
	require.True(t, b.Before(c))
	require.False(t, c.Before(b))
	require.False(t, b.Before(b))
}
