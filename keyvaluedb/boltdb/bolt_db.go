package boltdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/bookingswap/swapengine/keyvaluedb"
)

const (
	defaultBucket      = "default"
	defaultOpenTimeout = 3 * time.Second
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	// BoltDB stores all values in a single bucket of the database file.
	BoltDB struct {
		db      *bolt.DB
		bucket  []byte
		encoder EncodeFn
		decoder DecodeFn
	}

	Option func(*options)

	options struct {
		bucket      string
		openTimeout time.Duration
		encoder     EncodeFn
		decoder     DecodeFn
	}
)

// WithBucket makes the DB use bucket other than the default one, allows
// different components to share the database file.
func WithBucket(name string) Option {
	return func(o *options) {
		o.bucket = name
	}
}

// WithOpenTimeout sets how long to wait for the file lock held by another process.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		o.openTimeout = d
	}
}

// WithCodec replaces the default CBOR encoding of the values.
func WithCodec(enc EncodeFn, dec DecodeFn) Option {
	return func(o *options) {
		o.encoder = enc
		o.decoder = dec
	}
}

/*
New opens (or creates) the bolt database file, directories on the path are
created when missing. By default the values are stored CBOR encoded.
*/
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	o := &options{
		bucket:      defaultBucket,
		openTimeout: defaultOpenTimeout,
		encoder:     cbor.Marshal,
		decoder:     cbor.Unmarshal,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, errors.New("bucket name must not be empty")
	}
	if o.encoder == nil || o.decoder == nil {
		return nil, errors.New("both encoder and decoder must be set")
	}

	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: o.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt DB %s: %w", dbFile, err)
	}
	bucket := []byte(o.bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("creating bucket %q: %w", o.bucket, err), db.Close())
	}
	return &BoltDB{db: db, bucket: bucket, encoder: o.encoder, decoder: o.decoder}, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) Read(key []byte, v any) (found bool, err error) {
	if err := keyvaluedb.CheckReadTarget(key, v); err != nil {
		return false, err
	}
	err = db.db.View(func(tx *bolt.Tx) error {
		found, err = readValue(tx.Bucket(db.bucket), db.decoder, key, v)
		return err
	})
	if err != nil {
		return found, fmt.Errorf("bolt db read: %w", err)
	}
	return found, nil
}

func (db *BoltDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	if err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Put(key, b)
	}); err != nil {
		return fmt.Errorf("bolt db write: %w", err)
	}
	return nil
}

func (db *BoltDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(db.bucket).Delete(key)
	}); err != nil {
		return fmt.Errorf("bolt db delete: %w", err)
	}
	return nil
}

func (db *BoltDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := NewBoltTx(db.db, db.bucket, db.encoder, db.decoder)
	if err != nil {
		return nil, fmt.Errorf("starting bolt tx: %w", err)
	}
	return tx, nil
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

func readValue(b *bolt.Bucket, decode DecodeFn, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := decode(data, v); err != nil {
		return true, fmt.Errorf("decoding value of key %x: %w", key, err)
	}
	return true, nil
}
