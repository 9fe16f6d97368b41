package devnet

import (
	"fmt"
	"slices"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/ledger"
)

type (
	// contractError rejects the transaction, it is recorded in the failed receipt.
	contractError struct {
		code string
		msg  string
	}

	execContext struct {
		txID      ledger.TxID
		round     uint64
		timestamp uint64
	}

	txHandler func(s *unitState, tx *ledger.TransactionOrder, exeCtx *execContext) error
)

var txHandlers = map[string]txHandler{
	escrow.TxTypeRegister: handleRegisterTx,
	escrow.TxTypeLock:     handleLockTx,
	escrow.TxTypeUnlock:   handleUnlockTx,
	escrow.TxTypeSwap:     handleSwapTx,
}

func (e *contractError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func reject(code, format string, args ...any) error {
	return &contractError{code: code, msg: fmt.Sprintf(format, args...)}
}

func decodeAttributes(tx *ledger.TransactionOrder, attr any) error {
	if err := tx.UnmarshalAttributes(attr); err != nil {
		return reject(escrow.CodeInvalidAttributes, "failed to unmarshal %s attributes: %v", tx.Type, err)
	}
	return nil
}

func checkAssetUnit(tx *ledger.TransactionOrder, assetID string) error {
	if assetID == "" {
		return reject(escrow.CodeInvalidAttributes, "asset id is empty")
	}
	if !tx.UnitID.Eq(escrow.AssetUnitID(assetID)) {
		return reject(escrow.CodeInvalidAttributes, "unit id %s does not match asset %q", tx.UnitID, assetID)
	}
	return nil
}

func handleRegisterTx(s *unitState, tx *ledger.TransactionOrder, _ *execContext) error {
	attr := &escrow.RegisterAttributes{}
	if err := decodeAttributes(tx, attr); err != nil {
		return err
	}
	if err := validateRegisterTx(s, tx, attr); err != nil {
		return err
	}
	return s.setAsset(&escrow.AssetRecord{
		AssetID:       attr.AssetID,
		Owner:         attr.Owner,
		DeclaredValue: attr.DeclaredValue,
		MetadataRef:   attr.MetadataRef,
	})
}

func validateRegisterTx(s *unitState, tx *ledger.TransactionOrder, attr *escrow.RegisterAttributes) error {
	if err := checkAssetUnit(tx, attr.AssetID); err != nil {
		return err
	}
	if attr.Owner == "" {
		return reject(escrow.CodeInvalidAttributes, "owner is empty")
	}
	asset, err := s.getAsset(attr.AssetID)
	if err != nil {
		return err
	}
	if asset != nil {
		return reject(escrow.CodeAssetExists, "asset %q is already registered", attr.AssetID)
	}
	return nil
}

func handleLockTx(s *unitState, tx *ledger.TransactionOrder, _ *execContext) error {
	attr := &escrow.LockAttributes{}
	if err := decodeAttributes(tx, attr); err != nil {
		return err
	}
	asset, swap, err := validateLockTx(s, tx, attr)
	if err != nil {
		return err
	}

	asset.IsLocked = true
	asset.LockedBy = attr.SwapID
	if err := s.setAsset(asset); err != nil {
		return fmt.Errorf("lock tx: failed to update asset: %w", err)
	}
	// first lock creates the swap record
	swap.Status = escrow.SwapStatusPending
	swap.LockedAssets = append(swap.LockedAssets, attr.AssetID)
	if err := s.setSwap(swap); err != nil {
		return fmt.Errorf("lock tx: failed to update swap: %w", err)
	}
	return nil
}

func validateLockTx(s *unitState, tx *ledger.TransactionOrder, attr *escrow.LockAttributes) (*escrow.AssetRecord, *escrow.SwapRecord, error) {
	if err := checkAssetUnit(tx, attr.AssetID); err != nil {
		return nil, nil, err
	}
	if attr.SwapID == "" {
		return nil, nil, reject(escrow.CodeInvalidAttributes, "swap id is empty")
	}
	asset, err := s.getAsset(attr.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil {
		return nil, nil, reject(escrow.CodeAssetNotFound, "asset %q does not exist", attr.AssetID)
	}
	if asset.IsLocked {
		return nil, nil, reject(escrow.CodeAssetLocked, "asset %q is already locked by swap %q", attr.AssetID, asset.LockedBy)
	}
	swap, err := s.getSwap(attr.SwapID)
	if err != nil {
		return nil, nil, err
	}
	if swap.Status.Final() {
		return nil, nil, reject(escrow.CodeSwapFinalized, "swap %q is %s", attr.SwapID, swap.Status)
	}
	if len(swap.LockedAssets) >= 2 {
		return nil, nil, reject(escrow.CodeInvalidAttributes, "swap %q already holds two locks", attr.SwapID)
	}
	return asset, swap, nil
}

func handleUnlockTx(s *unitState, tx *ledger.TransactionOrder, exeCtx *execContext) error {
	attr := &escrow.UnlockAttributes{}
	if err := decodeAttributes(tx, attr); err != nil {
		return err
	}
	asset, err := validateUnlockTx(s, tx, attr)
	if err != nil {
		return err
	}
	if !asset.IsLocked {
		// unlocking unlocked asset succeeds without effect
		return nil
	}

	asset.IsLocked = false
	asset.LockedBy = ""
	if err := s.setAsset(asset); err != nil {
		return fmt.Errorf("unlock tx: failed to update asset: %w", err)
	}
	swap, err := s.getSwap(attr.SwapID)
	if err != nil {
		return err
	}
	swap.LockedAssets = slices.DeleteFunc(swap.LockedAssets, func(id string) bool { return id == attr.AssetID })
	if swap.Status == escrow.SwapStatusPending && len(swap.LockedAssets) == 0 {
		swap.Status = escrow.SwapStatusRolledBack
		swap.RollbackTxID = exeCtx.txID
	}
	if err := s.setSwap(swap); err != nil {
		return fmt.Errorf("unlock tx: failed to update swap: %w", err)
	}
	return nil
}

func validateUnlockTx(s *unitState, tx *ledger.TransactionOrder, attr *escrow.UnlockAttributes) (*escrow.AssetRecord, error) {
	if err := checkAssetUnit(tx, attr.AssetID); err != nil {
		return nil, err
	}
	if attr.SwapID == "" {
		return nil, reject(escrow.CodeInvalidAttributes, "swap id is empty")
	}
	asset, err := s.getAsset(attr.AssetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, reject(escrow.CodeAssetNotFound, "asset %q does not exist", attr.AssetID)
	}
	if asset.IsLocked && asset.LockedBy != attr.SwapID {
		return nil, reject(escrow.CodeNotLockHolder, "asset %q is locked by swap %q", attr.AssetID, asset.LockedBy)
	}
	return asset, nil
}

func handleSwapTx(s *unitState, tx *ledger.TransactionOrder, exeCtx *execContext) error {
	attr := &escrow.SwapAttributes{}
	if err := decodeAttributes(tx, attr); err != nil {
		return err
	}
	source, target, swap, err := validateSwapTx(s, tx, attr)
	if err != nil {
		return err
	}

	source.Owner, target.Owner = attr.Acceptor, attr.Proposer
	for _, asset := range []*escrow.AssetRecord{source, target} {
		asset.IsLocked = false
		asset.LockedBy = ""
		if err := s.setAsset(asset); err != nil {
			return fmt.Errorf("swap tx: failed to update asset: %w", err)
		}
	}
	swap.Status = escrow.SwapStatusCompleted
	swap.SourceAssetID = attr.SourceAssetID
	swap.TargetAssetID = attr.TargetAssetID
	swap.Proposer = attr.Proposer
	swap.Acceptor = attr.Acceptor
	swap.AdditionalPayment = attr.AdditionalPayment
	swap.LockedAssets = nil
	swap.SwapTxID = exeCtx.txID
	swap.Timestamp = exeCtx.timestamp
	if err := s.setSwap(swap); err != nil {
		return fmt.Errorf("swap tx: failed to update swap: %w", err)
	}
	return nil
}

func validateSwapTx(s *unitState, tx *ledger.TransactionOrder, attr *escrow.SwapAttributes) (source, target *escrow.AssetRecord, swap *escrow.SwapRecord, err error) {
	if err := attr.Valid(); err != nil {
		return nil, nil, nil, reject(escrow.CodeInvalidAttributes, "%v", err)
	}
	if !tx.UnitID.Eq(escrow.SwapUnitID(attr.SwapID)) {
		return nil, nil, nil, reject(escrow.CodeInvalidAttributes, "unit id %s does not match swap %q", tx.UnitID, attr.SwapID)
	}
	if swap, err = s.getSwap(attr.SwapID); err != nil {
		return nil, nil, nil, err
	}
	if swap.Status.Final() {
		return nil, nil, nil, reject(escrow.CodeSwapFinalized, "swap %q is %s", attr.SwapID, swap.Status)
	}

	assets := make([]*escrow.AssetRecord, 2)
	for i, id := range []string{attr.SourceAssetID, attr.TargetAssetID} {
		if assets[i], err = s.getAsset(id); err != nil {
			return nil, nil, nil, err
		}
		if assets[i] == nil {
			return nil, nil, nil, reject(escrow.CodeAssetNotFound, "asset %q does not exist", id)
		}
		if !assets[i].IsLocked {
			return nil, nil, nil, reject(escrow.CodeAssetNotLocked, "asset %q is not locked", id)
		}
		if assets[i].LockedBy != attr.SwapID {
			return nil, nil, nil, reject(escrow.CodeNotLockHolder, "asset %q is locked by swap %q", id, assets[i].LockedBy)
		}
	}
	source, target = assets[0], assets[1]
	if source.Owner != attr.Proposer {
		return nil, nil, nil, reject(escrow.CodeOwnerMismatch, "asset %q is not owned by proposer %q", source.AssetID, attr.Proposer)
	}
	if target.Owner != attr.Acceptor {
		return nil, nil, nil, reject(escrow.CodeOwnerMismatch, "asset %q is not owned by acceptor %q", target.AssetID, attr.Acceptor)
	}
	return source, target, swap, nil
}
