package memorydb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/bookingswap/swapengine/keyvaluedb"
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	// MemoryDB keeps encoded values in a map, so values read back are copies
	// of what was written.
	MemoryDB struct {
		lock    sync.RWMutex
		db      map[string][]byte
		encoder EncodeFn
		decoder DecodeFn
	}
)

func New() *MemoryDB {
	return &MemoryDB{
		db:      make(map[string][]byte),
		encoder: cbor.Marshal,
		decoder: cbor.Unmarshal,
	}
}

func (db *MemoryDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckReadTarget(key, v); err != nil {
		return false, err
	}
	db.lock.RLock()
	defer db.lock.RUnlock()
	data, found := db.db[string(key)]
	if !found {
		return false, nil
	}
	return true, db.decoder(data, v)
}

func (db *MemoryDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	db.db[string(key)] = b
	return nil
}

func (db *MemoryDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	delete(db.db, string(key))
	return nil
}

// Len returns number of keys stored.
func (db *MemoryDB) Len() int {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return len(db.db)
}

func (db *MemoryDB) StartTx() (keyvaluedb.DBTransaction, error) {
	if db.db == nil {
		return nil, errors.New("memory db is nil")
	}
	return &memTx{db: db, writes: make(map[string][]byte)}, nil
}

func (db *MemoryDB) Close() error {
	return nil
}

/*
memTx buffers writes and deletes (nil value) until Commit. Reads see the
buffered changes first and fall back to the committed state.
*/
type memTx struct {
	db       *MemoryDB
	writes   map[string][]byte
	finished bool
}

func (tx *memTx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckReadTarget(key, v); err != nil {
		return false, err
	}
	if tx.finished {
		return false, keyvaluedb.ErrTxIsFinished
	}
	if data, ok := tx.writes[string(key)]; ok {
		if data == nil {
			return false, nil
		}
		return true, tx.db.decoder(data, v)
	}
	return tx.db.Read(key, v)
}

func (tx *memTx) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if tx.finished {
		return keyvaluedb.ErrTxIsFinished
	}
	b, err := tx.db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	tx.writes[string(key)] = b
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if tx.finished {
		return keyvaluedb.ErrTxIsFinished
	}
	tx.writes[string(key)] = nil
	return nil
}

func (tx *memTx) Commit() error {
	if tx.finished {
		return keyvaluedb.ErrTxIsFinished
	}
	tx.finished = true
	tx.db.lock.Lock()
	defer tx.db.lock.Unlock()
	for k, v := range tx.writes {
		if v == nil {
			delete(tx.db.db, k)
			continue
		}
		tx.db.db[k] = v
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.finished {
		return keyvaluedb.ErrTxIsFinished
	}
	tx.finished = true
	tx.writes = nil
	return nil
}
