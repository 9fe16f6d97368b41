package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fxamacker/cbor/v2"
)

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusSuccessful TxStatus = "successful"
	TxStatusFailed     TxStatus = "failed"

	txIDLength = sha256.Size
)

type (
	// UnitID identifies a ledger unit, the last byte of the ID is the unit type.
	UnitID []byte

	// TxID is the 0x prefixed hex encoding of the transaction order hash.
	TxID string

	TxStatus string

	TransactionOrder struct {
		_              struct{} `cbor:",toarray"`
		Type           string
		UnitID         UnitID
		Attributes     cbor.RawMessage
		Nonce          string
		ClientMetadata *ClientMetadata
	}

	ClientMetadata struct {
		_ struct{} `cbor:",toarray"`
		// Timeout is the last round number in which the transaction may be executed.
		Timeout uint64
	}

	// Receipt describes the outcome of a transaction known to the ledger.
	Receipt struct {
		_      struct{} `cbor:",toarray"`
		TxID   TxID
		Status TxStatus
		Round  uint64
		// Index is the position of the transaction in the round.
		Index uint32
		// Timestamp is the consensus timestamp of the round in unix milliseconds.
		Timestamp uint64
		ErrorCode string
		Error     string
	}

	Unit struct {
		_       struct{} `cbor:",toarray"`
		ID      UnitID
		Data    cbor.RawMessage
		Counter uint64
	}
)

func NewUnitID(unitPart []byte, typePart byte) UnitID {
	id := make(UnitID, 0, len(unitPart)+1)
	id = append(id, unitPart...)
	return append(id, typePart)
}

func (uid UnitID) HasType(typePart byte) bool {
	return len(uid) > 0 && uid[len(uid)-1] == typePart
}

// UnitPart returns the ID without the type byte.
func (uid UnitID) UnitPart() []byte {
	if len(uid) == 0 {
		return nil
	}
	return uid[:len(uid)-1]
}

func (uid UnitID) Eq(id UnitID) bool {
	return bytes.Equal(uid, id)
}

func (uid UnitID) String() string {
	return hexutil.Encode(uid)
}

func (uid UnitID) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(uid)), nil
}

func (uid *UnitID) UnmarshalText(src []byte) error {
	res, err := hexutil.Decode(string(src))
	if err == nil {
		*uid = res
	}
	return err
}

func ParseUnitID(s string) (UnitID, error) {
	if s == "" {
		return nil, errors.New("unit id is required")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("unit id must be at least 2 bytes, got %d", len(b))
	}
	return b, nil
}

func ParseTxID(s string) (TxID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return "", err
	}
	if len(b) != txIDLength {
		return "", fmt.Errorf("transaction id must be %d bytes, got %d", txIDLength, len(b))
	}
	return TxID(hexutil.Encode(b)), nil
}

func (id TxID) String() string {
	return string(id)
}

func (t *TransactionOrder) Timeout() uint64 {
	if t.ClientMetadata == nil {
		return 0
	}
	return t.ClientMetadata.Timeout
}

/*
SetAttributes serializes "attr" and assigns the result to the Attributes field.
UnmarshalAttributes can be used to decode the attributes.
*/
func (t *TransactionOrder) SetAttributes(attr any) error {
	b, err := cbor.Marshal(attr)
	if err != nil {
		return fmt.Errorf("marshaling %T as tx attributes: %w", attr, err)
	}
	t.Attributes = b
	return nil
}

func (t *TransactionOrder) UnmarshalAttributes(v any) error {
	if t == nil {
		return errors.New("transaction order is nil")
	}
	return cbor.Unmarshal(t.Attributes, v)
}

func (t *TransactionOrder) Bytes() ([]byte, error) {
	return cbor.Marshal(t)
}

func (t *TransactionOrder) Hash() ([]byte, error) {
	b, err := t.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction order: %w", err)
	}
	h := sha256.Sum256(b)
	return h[:], nil
}

// ID returns the identifier the ledger assigns to the transaction.
func (t *TransactionOrder) ID() (TxID, error) {
	h, err := t.Hash()
	if err != nil {
		return "", err
	}
	return TxID(hexutil.Encode(h)), nil
}

func (r *Receipt) Final() bool {
	return r != nil && r.Status != TxStatusPending
}

func (r *Receipt) Successful() bool {
	return r != nil && r.Status == TxStatusSuccessful
}

func (r *Receipt) ConsensusTime() time.Time {
	if r == nil || r.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(r.Timestamp)).UTC()
}

// Before reports whether r was ordered before o by consensus.
func (r *Receipt) Before(o *Receipt) bool {
	if r.Round != o.Round {
		return r.Round < o.Round
	}
	return r.Index < o.Index
}

func (u *Unit) UnmarshalData(v any) error {
	if u == nil {
		return errors.New("unit is nil")
	}
	return cbor.Unmarshal(u.Data, v)
}
