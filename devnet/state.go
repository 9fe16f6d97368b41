package devnet

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/keyvaluedb"
	"github.com/bookingswap/swapengine/ledger"
)

var (
	roundKey         = []byte("round")
	unitKeyPrefix    = []byte("u:")
	receiptKeyPrefix = []byte("r:")
)

type roundInfo struct {
	Round uint64
	// Timestamp of the round in unix milliseconds.
	Timestamp uint64
}

func unitKey(id ledger.UnitID) []byte {
	return append(append([]byte{}, unitKeyPrefix...), id...)
}

func receiptKey(id ledger.TxID) []byte {
	return append(append([]byte{}, receiptKeyPrefix...), id...)
}

// unitState gives typed access to the escrow units stored in the db.
type unitState struct {
	rw keyvaluedb.ReadWriter
}

func (s *unitState) getUnit(id ledger.UnitID) (*ledger.Unit, error) {
	unit := &ledger.Unit{}
	found, err := s.rw.Read(unitKey(id), unit)
	if err != nil {
		return nil, fmt.Errorf("reading unit %s: %w", id, err)
	}
	if !found {
		return nil, ledger.ErrUnitNotFound
	}
	return unit, nil
}

// setUnitData stores data as the new state of the unit and increments unit's counter.
func (s *unitState) setUnitData(id ledger.UnitID, data any) error {
	unit, err := s.getUnit(id)
	switch {
	case err == nil:
		unit.Counter++
	case errors.Is(err, ledger.ErrUnitNotFound):
		unit = &ledger.Unit{ID: id}
	default:
		return err
	}
	if unit.Data, err = cbor.Marshal(data); err != nil {
		return fmt.Errorf("encoding unit %s data: %w", id, err)
	}
	if err := s.rw.Write(unitKey(id), unit); err != nil {
		return fmt.Errorf("writing unit %s: %w", id, err)
	}
	return nil
}

// getAsset returns nil when the asset does not exist.
func (s *unitState) getAsset(assetID string) (*escrow.AssetRecord, error) {
	unit, err := s.getUnit(escrow.AssetUnitID(assetID))
	if err != nil {
		if errors.Is(err, ledger.ErrUnitNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec := &escrow.AssetRecord{}
	if err := unit.UnmarshalData(rec); err != nil {
		return nil, fmt.Errorf("decoding asset %q: %w", assetID, err)
	}
	rec.Counter = unit.Counter
	return rec, nil
}

func (s *unitState) setAsset(rec *escrow.AssetRecord) error {
	return s.setUnitData(escrow.AssetUnitID(rec.AssetID), rec)
}

// getSwap returns swap record with status NONE when the swap does not exist.
func (s *unitState) getSwap(swapID string) (*escrow.SwapRecord, error) {
	unit, err := s.getUnit(escrow.SwapUnitID(swapID))
	if err != nil {
		if errors.Is(err, ledger.ErrUnitNotFound) {
			return &escrow.SwapRecord{SwapID: swapID, Status: escrow.SwapStatusNone}, nil
		}
		return nil, err
	}
	rec := &escrow.SwapRecord{}
	if err := unit.UnmarshalData(rec); err != nil {
		return nil, fmt.Errorf("decoding swap %q: %w", swapID, err)
	}
	return rec, nil
}

func (s *unitState) setSwap(rec *escrow.SwapRecord) error {
	return s.setUnitData(escrow.SwapUnitID(rec.SwapID), rec)
}
