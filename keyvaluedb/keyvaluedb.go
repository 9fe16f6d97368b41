package keyvaluedb

import (
	"errors"
	"reflect"
)

var (
	ErrInvalidKey   = errors.New("invalid key")
	ErrValueIsNil   = errors.New("value is nil")
	ErrValueNotPtr  = errors.New("value must be a pointer")
	ErrTxIsFinished = errors.New("transaction is already committed or rolled back")
)

type (
	// Reader reads single value by key, returns false when key was not found.
	Reader interface {
		Read(key []byte, v any) (bool, error)
	}

	Writer interface {
		Write(key []byte, v any) error
		Delete(key []byte) error
	}

	ReadWriter interface {
		Reader
		Writer
	}

	/*
	DBTransaction groups writes so that they are persisted atomically. Reads
	done using the transaction see the writes made in the same transaction.
	*/
	DBTransaction interface {
		ReadWriter
		Commit() error
		Rollback() error
	}

	KeyValueDB interface {
		ReadWriter
		StartTx() (DBTransaction, error)
		Close() error
	}
)

func CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

func CheckKeyAndValue(key []byte, v any) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if v == nil {
		return ErrValueIsNil
	}
	return nil
}

// CheckReadTarget validates that v can be used as decoding target.
func CheckReadTarget(key []byte, v any) error {
	if err := CheckKeyAndValue(key, v); err != nil {
		return err
	}
	if rv := reflect.ValueOf(v); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrValueNotPtr
	}
	return nil
}
