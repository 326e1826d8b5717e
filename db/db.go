// Package db defines the key-value storage contract used by the trie node
// database and the chain's header/body/receipt indices, plus an in-memory
// and a LevelDB-backed implementation of it.
package db

import "errors"

// ErrNotFound is returned when a key has no associated value.
var ErrNotFound = errors.New("db: key not found")

// KeyValueReader reads values by key.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter writes and deletes values by key.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Batch accumulates writes to be applied atomically.
type Batch interface {
	KeyValueWriter
	// ValueSize returns the amount of data queued for writing.
	ValueSize() int
	// Write flushes the batch to the underlying database.
	Write() error
	// Reset clears the batch for reuse.
	Reset()
}

// Batcher constructs write batches.
type Batcher interface {
	NewBatch() Batch
}

// KeyValueStore is the full storage contract: read, write, batch, and an
// iteration primitive restricted to a key prefix (used to enumerate a
// column family without a full keyspace scan).
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	// Iterate calls fn for every key with the given prefix, in key order,
	// stopping early if fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Column families partition the keyspace by record kind, each realized as
// a fixed key prefix (spec §4.7's "column families").
const (
	ColHeaders  = "h" // block number/hash -> header
	ColBodies   = "b" // block hash -> transaction list
	ColReceipts = "r" // block hash -> receipts
	ColExtra    = "e" // canonical-hash and head-pointer bookkeeping
	ColBlocks   = "k" // block hash -> full block metadata
	ColTrieNode = "t" // trie node hash -> RLP-encoded node
)

// Key builds a column-prefixed key.
func Key(col string, parts ...[]byte) []byte {
	n := len(col)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, col...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}
