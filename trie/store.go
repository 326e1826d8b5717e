package trie

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/db"
)

// storeAdapter adapts a db.KeyValueStore into the NodeReader/NodeWriter
// pair over the trie-node column family, so the trie's dirty-cache-over-
// disk-reader NodeDatabase (§4.7/§12) can sit directly on a LevelDB or
// in-memory store without a closure-based indirection layer.
type storeAdapter struct {
	store db.KeyValueStore
}

// NewStoreNodeDB returns NodeReader and NodeWriter views of store, scoped
// to the trie-node column family.
func NewStoreNodeDB(store db.KeyValueStore) (NodeReader, NodeWriter) {
	a := &storeAdapter{store: store}
	return a, a
}

func (a *storeAdapter) Node(hash common.Hash) ([]byte, error) {
	v, err := a.store.Get(db.Key(db.ColTrieNode, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrNodeNotFound
	}
	return v, err
}

func (a *storeAdapter) Put(hash common.Hash, data []byte) error {
	return a.store.Put(db.Key(db.ColTrieNode, hash.Bytes()), data)
}
