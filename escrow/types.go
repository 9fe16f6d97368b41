package escrow

import (
	"fmt"
	"strings"

	"github.com/bookingswap/swapengine/ledger"
)

const (
	UnitTypeAsset byte = 0x01
	UnitTypeSwap  byte = 0x02

	TxTypeRegister = "register"
	TxTypeLock     = "lock"
	TxTypeUnlock   = "unlock"
	TxTypeSwap     = "swap"
)

const (
	SwapStatusNone SwapStatus = iota
	SwapStatusPending
	SwapStatusCompleted
	SwapStatusRolledBack
)

var swapStatusNames = [...]string{"NONE", "PENDING", "COMPLETED", "ROLLED_BACK"}

type (
	// AssetRecord is the escrow contract's view of a registered asset.
	AssetRecord struct {
		AssetID       string `json:"assetId"`
		Owner         string `json:"owner"`
		DeclaredValue uint64 `json:"declaredValue,string"`
		MetadataRef   string `json:"metadataRef,omitempty"`
		IsLocked      bool   `json:"isLocked"`
		// LockedBy is the ID of the swap holding the lock.
		LockedBy string `json:"lockedBy,omitempty"`
		// Counter is the state change counter of the ledger unit.
		Counter uint64 `json:"counter,string" cbor:"-"`
	}

	SwapStatus uint8

	SwapRecord struct {
		SwapID            string     `json:"swapId"`
		Status            SwapStatus `json:"status"`
		SourceAssetID     string     `json:"sourceAssetId,omitempty"`
		TargetAssetID     string     `json:"targetAssetId,omitempty"`
		Proposer          string     `json:"proposer,omitempty"`
		Acceptor          string     `json:"acceptor,omitempty"`
		AdditionalPayment uint64     `json:"additionalPayment,string"`
		// LockedAssets are the assets currently locked by the swap.
		LockedAssets []string    `json:"lockedAssets,omitempty"`
		SwapTxID     ledger.TxID `json:"swapTxId,omitempty"`
		// Timestamp is the consensus time of the swap tx in unix milliseconds.
		Timestamp    uint64      `json:"timestamp,string"`
		RollbackTxID ledger.TxID `json:"rollbackTxId,omitempty"`
	}

	RegisterAttributes struct {
		_             struct{} `cbor:",toarray"`
		AssetID       string
		Owner         string
		DeclaredValue uint64
		MetadataRef   string
	}

	LockAttributes struct {
		_       struct{} `cbor:",toarray"`
		SwapID  string
		AssetID string
	}

	UnlockAttributes struct {
		_       struct{} `cbor:",toarray"`
		SwapID  string
		AssetID string
	}

	SwapAttributes struct {
		_                 struct{} `cbor:",toarray"`
		SwapID            string
		SourceAssetID     string
		TargetAssetID     string
		Proposer          string
		Acceptor          string
		AdditionalPayment uint64
	}
)

func AssetUnitID(assetID string) ledger.UnitID {
	return ledger.NewUnitID([]byte(assetID), UnitTypeAsset)
}

func SwapUnitID(swapID string) ledger.UnitID {
	return ledger.NewUnitID([]byte(swapID), UnitTypeSwap)
}

func (s SwapStatus) String() string {
	if int(s) < len(swapStatusNames) {
		return swapStatusNames[s]
	}
	return fmt.Sprintf("SwapStatus(%d)", s)
}

func (s SwapStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SwapStatus) UnmarshalText(b []byte) error {
	for i, n := range swapStatusNames {
		if strings.EqualFold(n, string(b)) {
			*s = SwapStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown swap status %q", b)
}

// Final reports whether the swap can not change anymore.
func (s SwapStatus) Final() bool {
	return s == SwapStatusCompleted || s == SwapStatusRolledBack
}

func (r *SwapRecord) IsLocked(assetID string) bool {
	for _, id := range r.LockedAssets {
		if id == assetID {
			return true
		}
	}
	return false
}

func (a *SwapAttributes) Valid() error {
	switch {
	case a.SwapID == "":
		return fmt.Errorf("%w: swap id is empty", ErrInvalidAttributes)
	case a.SourceAssetID == "" || a.TargetAssetID == "":
		return fmt.Errorf("%w: asset id is empty", ErrInvalidAttributes)
	case a.SourceAssetID == a.TargetAssetID:
		return fmt.Errorf("%w: source and target asset must differ", ErrInvalidAttributes)
	case a.Proposer == "" || a.Acceptor == "":
		return fmt.Errorf("%w: counterparty account is empty", ErrInvalidAttributes)
	}
	return nil
}
