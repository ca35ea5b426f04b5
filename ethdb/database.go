// Package ethdb defines the key-value storage interface rawdb builds its
// namespaced accessors on, plus a goleveldb-backed implementation and an
// in-memory one for tests.
package ethdb

import "errors"

// ErrNotFound is returned by KeyValueReader.Get when the key does not exist.
var ErrNotFound = errors.New("ethdb: not found")

// KeyValueReader wraps the read side of a key-value store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the write side of a key-value store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterator walks a contiguous range of key-value pairs in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Iteratee wraps the NewIterator method, which constructs a binary-alphabetical
// iterator over a subset of the database content starting at a particular
// key (or the prefix start, if prefix is empty).
type Iteratee interface {
	NewIterator(prefix, start []byte) Iterator
}

// Batch is a write-only buffer that commits its writes atomically when Write
// is called; it is the wire-compatible grounding for how rawdb applies
// multi-key updates (e.g. persisting a block's header+body+td+number-index
// together).
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// Batcher wraps the NewBatch method.
type Batcher interface {
	NewBatch() Batch
}

// Database is the full interface rawdb and its callers depend on.
type Database interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	Iteratee
	Close() error
}
