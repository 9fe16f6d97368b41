package boltdb

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/bookingswap/swapengine/keyvaluedb"
)

func initBoltDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "sub", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func isEmpty(t *testing.T, db *BoltDB) bool {
	t.Helper()
	empty := true
	require.NoError(t, db.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(db.bucket).Cursor().First()
		empty = k == nil
		return nil
	}))
	return empty
}

func TestBoltTx_Nil(t *testing.T) {
	tx, err := NewBoltTx(nil, []byte("test"), json.Marshal, json.Unmarshal)
	require.Error(t, err)
	require.Nil(t, tx)
}

func TestBoltTx_StartAndRollback(t *testing.T) {
	db := initBoltDB(t)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("test1"), "1"))
	require.NoError(t, tx.Rollback())
	require.True(t, isEmpty(t, db))
}

func TestBoltTx_SimpleCommit(t *testing.T) {
	db := initBoltDB(t)
	require.True(t, isEmpty(t, db))
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("test1"), "1"))
	require.NoError(t, tx.Write([]byte("test2"), "2"))
	// tx sees its own writes
	var res string
	f, err := tx.Read([]byte("test2"), &res)
	require.NoError(t, err)
	require.True(t, f)
	require.Equal(t, "2", res)
	require.NoError(t, tx.Delete([]byte("test2")))
	require.NoError(t, tx.Commit())

	f, err = db.Read([]byte("test1"), &res)
	require.NoError(t, err)
	require.True(t, f)
	require.Equal(t, "1", res)
	f, err = db.Read([]byte("test2"), &res)
	require.NoError(t, err)
	require.False(t, f)
}

func TestBoltTx_UseAfterCommit(t *testing.T) {
	db := initBoltDB(t)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	var val string
	_, err = tx.Read([]byte("test"), &val)
	require.ErrorIs(t, err, keyvaluedb.ErrTxIsFinished)
	require.ErrorIs(t, tx.Write([]byte("test"), "1"), keyvaluedb.ErrTxIsFinished)
	require.ErrorIs(t, tx.Delete([]byte("test")), keyvaluedb.ErrTxIsFinished)
}

func TestBoltDB_InvalidParams(t *testing.T) {
	db := initBoltDB(t)
	var val string
	_, err := db.Read(nil, &val)
	require.ErrorIs(t, err, keyvaluedb.ErrInvalidKey)
	_, err = db.Read([]byte("k"), val)
	require.ErrorIs(t, err, keyvaluedb.ErrValueNotPtr)
	require.ErrorIs(t, db.Write([]byte("k"), nil), keyvaluedb.ErrValueIsNil)
	require.ErrorIs(t, db.Delete([]byte{}), keyvaluedb.ErrInvalidKey)
}

func TestBoltDB_Reopen(t *testing.T) {
	type record struct {
		Name  string
		Value uint64
	}
	fn := filepath.Join(t.TempDir(), "reopen.db")
	db, err := New(fn)
	require.NoError(t, err)
	require.NoError(t, db.Write([]byte("rec"), &record{Name: "A", Value: 10}))
	require.NoError(t, db.Close())

	db, err = New(fn)
	require.NoError(t, err)
	defer db.Close()
	var r record
	found, err := db.Read([]byte("rec"), &r)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record{Name: "A", Value: 10}, r)
}

func TestBoltDB_Options(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "shared.db")

	t.Run("invalid", func(t *testing.T) {
		db, err := New(fn, WithBucket(""))
		require.EqualError(t, err, "bucket name must not be empty")
		require.Nil(t, db)

		db, err = New(fn, WithCodec(json.Marshal, nil))
		require.EqualError(t, err, "both encoder and decoder must be set")
		require.Nil(t, db)
	})

	t.Run("buckets are separate", func(t *testing.T) {
		db, err := New(fn, WithBucket("units"), WithCodec(json.Marshal, json.Unmarshal))
		require.NoError(t, err)
		require.NoError(t, db.Write([]byte("k"), "unit"))
		require.NoError(t, db.Close())

		db, err = New(fn, WithBucket("receipts"), WithOpenTimeout(time.Second))
		require.NoError(t, err)
		defer db.Close()
		var s string
		found, err := db.Read([]byte("k"), &s)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("decode error", func(t *testing.T) {
		db, err := New(fn, WithBucket("units"))
		require.NoError(t, err)
		defer db.Close()
		// value was written as JSON, reading it as CBOR number must fail
		var n uint64
		found, err := db.Read([]byte("k"), &n)
		require.True(t, found)
		require.ErrorContains(t, err, "decoding value of key 6b")
	})
}
