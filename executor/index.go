package executor

import (
	"encoding/binary"
	"fmt"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/rlp"
)

// The executor keeps a private header/hash index distinct from the Chain
// facade's COL_HEADERS/COL_EXTRA families (spec §5: "headers/bodies/
// receipts are written only by Chain"). These four column prefixes share
// the same underlying KeyValueStore as Chain's columns but never collide
// with them, since they live in their own namespace; the executor needs
// this index only to resolve BlockTag/BLOCKHASH lookups and to reconstruct
// a historical State root on Exit, not to serve RPC reads.
const (
	colExecHeader   = "xh" // height -> rlp(Header), this service's own copy
	colExecHash     = "xn" // height -> hash
	colExecCurrent  = "xc" // single key -> current height||hash
	colExecReceipts = "xr" // block hash -> rlp([]Receipt), this service's own copy
)

func heightKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}

// putHeader writes height's header and its height->hash pointer.
func (s *Service) putHeader(batch db.Batch, height uint64, h *types.Header) error {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		return fmt.Errorf("executor: encode header %d: %w", height, err)
	}
	if err := batch.Put(db.Key(colExecHeader, heightKey(height)), enc); err != nil {
		return err
	}
	return batch.Put(db.Key(colExecHash, heightKey(height)), h.Hash().Bytes())
}

// setCurrent records the chain head the executor has advanced to.
func (s *Service) setCurrent(batch db.Batch, height uint64, hash common.Hash) error {
	v := append(heightKey(height), hash.Bytes()...)
	return batch.Put([]byte(colExecCurrent), v)
}

// loadCurrent reads back the persisted chain head, used on startup.
func (s *Service) loadCurrent() (uint64, common.Hash, bool, error) {
	v, err := s.store.Get([]byte(colExecCurrent))
	if err == db.ErrNotFound {
		return 0, common.Hash{}, false, nil
	}
	if err != nil {
		return 0, common.Hash{}, false, err
	}
	if len(v) != 8+len(common.Hash{}) {
		return 0, common.Hash{}, false, fmt.Errorf("executor: corrupt current-head record")
	}
	height := binary.BigEndian.Uint64(v[:8])
	hash := common.BytesToHash(v[8:])
	return height, hash, true, nil
}

// headerAt loads the persisted header for height, or ErrUnknownBlock.
func (s *Service) headerAt(height uint64) (*types.Header, error) {
	enc, err := s.store.Get(db.Key(colExecHeader, heightKey(height)))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	h := new(types.Header)
	if err := rlp.DecodeBytes(enc, h); err != nil {
		return nil, fmt.Errorf("executor: decode header %d: %w", height, err)
	}
	return h, nil
}

// hashAt loads the canonical hash at height, used to serve BLOCKHASH.
func (s *Service) hashAt(height uint64) (common.Hash, error) {
	v, err := s.store.Get(db.Key(colExecHash, heightKey(height)))
	if err == db.ErrNotFound {
		return common.Hash{}, ErrUnknownBlock
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

// heightOf scans the hash index for hash, the slow path BlockTag(Hash)
// resolution falls back to; the executor's own index is small enough
// (one entry per block it has grown) that a linear Iterate is adequate and
// keeps this package free of a second reverse index to maintain.
func (s *Service) heightOf(hash common.Hash) (uint64, error) {
	var found uint64
	var ok bool
	err := s.store.Iterate([]byte(colExecHash), func(key, value []byte) bool {
		if common.BytesToHash(value) == hash {
			found = binary.BigEndian.Uint64(key[len(colExecHash):])
			ok = true
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUnknownBlock
	}
	return found, nil
}
