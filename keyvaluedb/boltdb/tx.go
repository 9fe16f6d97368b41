package boltdb

import (
	"errors"

	bolt "go.etcd.io/bbolt"

	"github.com/bookingswap/swapengine/keyvaluedb"
)

// BoltTx wraps writable bolt transaction, it must be finished with either Commit or Rollback.
type BoltTx struct {
	tx      *bolt.Tx
	bucket  []byte
	encoder EncodeFn
	decoder DecodeFn
}

func NewBoltTx(db *bolt.DB, bucket []byte, e EncodeFn, d DecodeFn) (*BoltTx, error) {
	if db == nil {
		return nil, errors.New("bolt db is nil")
	}
	tx, err := db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &BoltTx{tx: tx, bucket: bucket, encoder: e, decoder: d}, nil
}

func (t *BoltTx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckReadTarget(key, v); err != nil {
		return false, err
	}
	if t.tx.DB() == nil {
		return false, keyvaluedb.ErrTxIsFinished
	}
	return readValue(t.tx.Bucket(t.bucket), t.decoder, key, v)
}

func (t *BoltTx) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if t.tx.DB() == nil {
		return keyvaluedb.ErrTxIsFinished
	}
	b, err := t.encoder(v)
	if err != nil {
		return err
	}
	return t.tx.Bucket(t.bucket).Put(key, b)
}

func (t *BoltTx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if t.tx.DB() == nil {
		return keyvaluedb.ErrTxIsFinished
	}
	return t.tx.Bucket(t.bucket).Delete(key)
}

func (t *BoltTx) Commit() error {
	return t.tx.Commit()
}

func (t *BoltTx) Rollback() error {
	return t.tx.Rollback()
}
