// Package chain implements the read-only block/header/receipt facade
// (spec §4.7): it owns the canonical, persisted index the rest of the
// system reads from -- distinct from the executor's own private index
// used only to resolve its BlockTag/BLOCKHASH lookups (spec §5).
package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/log"
	"github.com/citahub/cita-sub002/rlp"
)

// Column families, distinct from the executor's private xh/xn/xc/xr
// prefixes (spec §4.7 "COL_HEADERS, COL_BODIES, COL_EXTRA, COL_BLOCKS").
const (
	colHeight2Hash = db.ColExtra + "n" // height -> hash, the canonical chain
	colTxAddress   = db.ColExtra + "t" // tx hash -> block hash || index
	colCurrent     = db.ColExtra + "c" // single key -> current height||hash
	colBloomGroups = db.ColExtra + "g" // (level||groupIndex) -> 16 packed blooms
)

// ErrUnknownBlock is returned when a BlockTag resolves to no stored block.
var ErrUnknownBlock = fmt.Errorf("chain: unknown block")

// Chain owns the header/body/receipt/bloom index over a KeyValueStore and
// serves read-only block/log queries (spec §4.7). It is the sole writer of
// these column families; the executor's own index under xh/xn/xc/xr is a
// private, disjoint namespace it never touches.
type Chain struct {
	store db.KeyValueStore
	log   *log.Logger

	mu            sync.RWMutex
	currentHeight uint64
	currentHash   common.Hash
}

// New opens a Chain over store, loading whatever chain head was
// previously persisted (an empty Chain if none).
func New(store db.KeyValueStore, logger *log.Logger) (*Chain, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Chain{store: store, log: logger.Module("chain")}
	height, hash, ok, err := c.loadCurrent()
	if err != nil {
		return nil, err
	}
	if ok {
		c.currentHeight = height
		c.currentHash = hash
	}
	return c, nil
}

func heightKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}

func (c *Chain) loadCurrent() (uint64, common.Hash, bool, error) {
	v, err := c.store.Get([]byte(colCurrent))
	if err == db.ErrNotFound {
		return 0, common.Hash{}, false, nil
	}
	if err != nil {
		return 0, common.Hash{}, false, err
	}
	if len(v) != 8+common.HashLength {
		return 0, common.Hash{}, false, fmt.Errorf("chain: corrupt current-head record")
	}
	return binary.BigEndian.Uint64(v[:8]), common.BytesToHash(v[8:]), true, nil
}

// CurrentHeight returns the height of the most recently committed block.
func (c *Chain) CurrentHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentHeight
}

// CurrentHash returns the hash of the most recently committed block.
func (c *Chain) CurrentHash() common.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentHash
}

// SaveGenesis commits block 0 directly, bypassing the height-linkage check
// CommitBlock enforces for every later height (spec §4.7 bootstrap).
func (c *Chain) SaveGenesis(closed *types.ClosedBlock) error {
	if closed.Header.Height != 0 {
		return fmt.Errorf("chain: genesis must be height 0, got %d", closed.Header.Height)
	}
	return c.commit(closed)
}

// CommitBlock persists closed (spec §4.7's writer side: "1. block
// including transactions 2. transaction address 3. receipts 4. bloom"),
// rejecting anything that does not chain onto the current head. It is
// intended as the postman.ExecutedResultSink Postman calls after every
// successful Grow.
func (c *Chain) CommitBlock(closed *types.ClosedBlock) error {
	c.mu.RLock()
	expect := c.currentHeight + 1
	parent := c.currentHash
	hasGenesis := c.currentHeight != 0 || c.hasBlock(0)
	c.mu.RUnlock()
	if hasGenesis && closed.Header.Height != expect {
		return fmt.Errorf("chain: commit height %d, want %d", closed.Header.Height, expect)
	}
	if hasGenesis && closed.Header.ParentHash != parent {
		return fmt.Errorf("chain: commit height %d has parent %s, want %s", closed.Header.Height, closed.Header.ParentHash, parent)
	}
	return c.commit(closed)
}

// Notify adapts CommitBlock to postman.ExecutedResultSink's signature, so
// a supervisor can wire a *Chain directly as Postman's Notify option
// (spec §4.6 "Postman grows chain height, broadcasts ExecutedResult to
// Chain"). The ExecutedResult itself carries nothing CommitBlock needs
// beyond what closed already has.
func (c *Chain) Notify(_ context.Context, closed *types.ClosedBlock, _ *types.ExecutedResult) error {
	return c.CommitBlock(closed)
}

func (c *Chain) hasBlock(height uint64) bool {
	ok, _ := c.store.Has(db.Key(colHeight2Hash, heightKey(height)))
	return ok
}

// writeBlock encodes and batches closed's header/body/receipts/tx-address/
// bloom writes, without touching the current-head pointer -- shared by
// the sequential commit path and the snapshot restore path, which must
// insert blocks out of growth order (spec §4.8, mirroring
// insert_unordered_block).
func (c *Chain) writeBlock(batch db.Batch, closed *types.ClosedBlock) error {
	height := closed.Header.Height
	hash := closed.Hash()

	headerEnc, err := rlp.EncodeToBytes(closed.Header)
	if err != nil {
		return fmt.Errorf("chain: encode header %d: %w", height, err)
	}
	if err := batch.Put(db.Key(db.ColHeaders, hash.Bytes()), headerEnc); err != nil {
		return err
	}
	if err := batch.Put(db.Key(colHeight2Hash, heightKey(height)), hash.Bytes()); err != nil {
		return err
	}

	bodyEnc, err := rlp.EncodeToBytes(closed.Transactions)
	if err != nil {
		return fmt.Errorf("chain: encode body %d: %w", height, err)
	}
	if err := batch.Put(db.Key(db.ColBodies, hash.Bytes()), bodyEnc); err != nil {
		return err
	}

	receiptsEnc, err := rlp.EncodeToBytes(closed.Receipts)
	if err != nil {
		return fmt.Errorf("chain: encode receipts %d: %w", height, err)
	}
	if err := batch.Put(db.Key(db.ColReceipts, hash.Bytes()), receiptsEnc); err != nil {
		return err
	}

	for i, tx := range closed.Transactions {
		addr := make([]byte, common.HashLength+8)
		copy(addr, hash.Bytes())
		binary.BigEndian.PutUint64(addr[common.HashLength:], uint64(i))
		if err := batch.Put(db.Key(colTxAddress, tx.Hash().Bytes()), addr); err != nil {
			return err
		}
	}

	return c.indexBloom(batch, height, closed.LogsBloom)
}

func (c *Chain) commit(closed *types.ClosedBlock) error {
	height := closed.Header.Height
	hash := closed.Hash()
	batch := c.store.NewBatch()

	if err := c.writeBlock(batch, closed); err != nil {
		return err
	}

	v := append(heightKey(height), hash.Bytes()...)
	if err := batch.Put([]byte(colCurrent), v); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	c.mu.Lock()
	c.currentHeight = height
	c.currentHash = hash
	c.mu.Unlock()
	c.log.Info("chain committed block", "height", height, "hash", hash.Hex())
	return nil
}

// InsertBlockUnordered writes closed's header/body/receipts/bloom/tx
// addresses without CommitBlock's sequential height/parent check or
// advancing the current-head pointer, the way a snapshot restore rebuilds
// history one out-of-order chunk at a time (spec §4.8 Restore).
func (c *Chain) InsertBlockUnordered(closed *types.ClosedBlock) error {
	batch := c.store.NewBatch()
	if err := c.writeBlock(batch, closed); err != nil {
		return err
	}
	return batch.Write()
}

// Finalize sets the persisted chain head directly, the step a snapshot
// restore takes once every block chunk has been fed (spec §4.8 "finalize
// by reinstating genesis body and CurrentProof").
func (c *Chain) Finalize(height uint64, hash common.Hash) error {
	batch := c.store.NewBatch()
	v := append(heightKey(height), hash.Bytes()...)
	if err := batch.Put([]byte(colCurrent), v); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	c.mu.Lock()
	c.currentHeight = height
	c.currentHash = hash
	c.mu.Unlock()
	return nil
}

// HashAt returns the canonical hash stored at height.
func (c *Chain) HashAt(height uint64) (common.Hash, error) { return c.hashAt(height) }

// HeaderByHash returns the header stored at hash directly.
func (c *Chain) HeaderByHash(hash common.Hash) (*types.Header, error) { return c.headerByHash(hash) }

// BodyByHash returns the transaction list stored at hash directly.
func (c *Chain) BodyByHash(hash common.Hash) ([]*types.Transaction, error) {
	return c.blockBodyByHash(hash)
}

// ReceiptsByHash returns the receipts stored at hash directly.
func (c *Chain) ReceiptsByHash(hash common.Hash) ([]*types.Receipt, error) {
	return c.blockReceiptsByHash(hash)
}

// resolve maps a BlockTag to a concrete height. Chain has no live "Pending"
// state of its own (that belongs to the executor), so TagPending resolves
// the same as TagLatest here: the most recently persisted block.
func (c *Chain) resolve(tag types.BlockTag) (uint64, error) {
	switch tag.Kind {
	case types.TagByHeight:
		return tag.Height, nil
	case types.TagByHash:
		h, err := c.heightOf(tag.Hash)
		if err != nil {
			return 0, err
		}
		return h, nil
	case types.TagByName:
		switch tag.Name {
		case types.TagEarliest:
			return 0, nil
		case types.TagLatest, types.TagPending:
			return c.CurrentHeight(), nil
		}
	}
	return 0, fmt.Errorf("chain: unresolvable block tag")
}

func (c *Chain) heightOf(hash common.Hash) (uint64, error) {
	enc, err := c.store.Get(db.Key(db.ColHeaders, hash.Bytes()))
	if err == db.ErrNotFound {
		return 0, ErrUnknownBlock
	}
	if err != nil {
		return 0, err
	}
	h := new(types.Header)
	if err := rlp.DecodeBytes(enc, h); err != nil {
		return 0, fmt.Errorf("chain: decode header: %w", err)
	}
	return h.Height, nil
}

func (c *Chain) hashAt(height uint64) (common.Hash, error) {
	v, err := c.store.Get(db.Key(colHeight2Hash, heightKey(height)))
	if err == db.ErrNotFound {
		return common.Hash{}, ErrUnknownBlock
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

// BlockHeader returns tag's header.
func (c *Chain) BlockHeader(tag types.BlockTag) (*types.Header, error) {
	height, err := c.resolve(tag)
	if err != nil {
		return nil, err
	}
	hash, err := c.hashAt(height)
	if err != nil {
		return nil, err
	}
	return c.headerByHash(hash)
}

func (c *Chain) headerByHash(hash common.Hash) (*types.Header, error) {
	enc, err := c.store.Get(db.Key(db.ColHeaders, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	h := new(types.Header)
	if err := rlp.DecodeBytes(enc, h); err != nil {
		return nil, fmt.Errorf("chain: decode header: %w", err)
	}
	return h, nil
}

// BlockBody returns tag's ordered transaction list.
func (c *Chain) BlockBody(tag types.BlockTag) ([]*types.Transaction, error) {
	height, err := c.resolve(tag)
	if err != nil {
		return nil, err
	}
	hash, err := c.hashAt(height)
	if err != nil {
		return nil, err
	}
	enc, err := c.store.Get(db.Key(db.ColBodies, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	var txs []*types.Transaction
	if err := rlp.DecodeBytes(enc, &txs); err != nil {
		return nil, fmt.Errorf("chain: decode body: %w", err)
	}
	return txs, nil
}

// BlockReceipts returns tag's per-transaction receipts.
func (c *Chain) BlockReceipts(tag types.BlockTag) ([]*types.Receipt, error) {
	height, err := c.resolve(tag)
	if err != nil {
		return nil, err
	}
	hash, err := c.hashAt(height)
	if err != nil {
		return nil, err
	}
	enc, err := c.store.Get(db.Key(db.ColReceipts, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	var receipts []*types.Receipt
	if err := rlp.DecodeBytes(enc, &receipts); err != nil {
		return nil, fmt.Errorf("chain: decode receipts: %w", err)
	}
	return receipts, nil
}

// Block returns tag's full block: header, body, and receipts assembled
// into a ClosedBlock (spec §4.7 "block(tag)").
func (c *Chain) Block(tag types.BlockTag) (*types.ClosedBlock, error) {
	header, err := c.BlockHeader(tag)
	if err != nil {
		return nil, err
	}
	hash := header.Hash()
	txs, err := c.blockBodyByHash(hash)
	if err != nil {
		return nil, err
	}
	receipts, err := c.blockReceiptsByHash(hash)
	if err != nil {
		return nil, err
	}
	var bloom common.Bloom
	for _, r := range receipts {
		for i := range bloom {
			bloom[i] |= r.LogsBloom[i]
		}
	}
	return &types.ClosedBlock{Header: header, Transactions: txs, Receipts: receipts, LogsBloom: bloom}, nil
}

func (c *Chain) blockBodyByHash(hash common.Hash) ([]*types.Transaction, error) {
	enc, err := c.store.Get(db.Key(db.ColBodies, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	var txs []*types.Transaction
	if err := rlp.DecodeBytes(enc, &txs); err != nil {
		return nil, fmt.Errorf("chain: decode body: %w", err)
	}
	return txs, nil
}

func (c *Chain) blockReceiptsByHash(hash common.Hash) ([]*types.Receipt, error) {
	enc, err := c.store.Get(db.Key(db.ColReceipts, hash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	var receipts []*types.Receipt
	if err := rlp.DecodeBytes(enc, &receipts); err != nil {
		return nil, fmt.Errorf("chain: decode receipts: %w", err)
	}
	return receipts, nil
}

// TransactionAddress is the (block, index) location a transaction was
// included at, recovered via colTxAddress.
type TransactionAddress struct {
	BlockHash common.Hash
	Index     uint64
}

// TransactionAddress looks up where txHash was included (spec §4.7
// "transaction_address(tx_hash)").
func (c *Chain) TransactionAddress(txHash common.Hash) (*TransactionAddress, error) {
	v, err := c.store.Get(db.Key(colTxAddress, txHash.Bytes()))
	if err == db.ErrNotFound {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	if len(v) != common.HashLength+8 {
		return nil, fmt.Errorf("chain: corrupt transaction address record")
	}
	return &TransactionAddress{
		BlockHash: common.BytesToHash(v[:common.HashLength]),
		Index:     binary.BigEndian.Uint64(v[common.HashLength:]),
	}, nil
}

// BlocksWithBloom returns every block height in [from, to] whose block
// bloom could contain target (spec §4.7 "blocks_with_bloom(bloom, from,
// to)").
func (c *Chain) BlocksWithBloom(target common.Bloom, from, to uint64) ([]uint64, error) {
	return c.blocksWithBloom(target, from, to)
}

// Filter selects the log entries Logs returns (spec §4.7 "logs(filter)").
type Filter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash // Topics[i] is the set of acceptable values at position i; empty means wildcard
	Limit     int             // 0 means unlimited
}

// LocalizedLog is a Log plus the block/transaction coordinates it was
// found at.
type LocalizedLog struct {
	types.Log
	BlockHeight      uint64
	BlockHash        common.Hash
	TransactionHash  common.Hash
	TransactionIndex int
	LogIndex         int
}

func (f *Filter) matches(l *types.Log) bool {
	if len(f.Addresses) > 0 {
		found := false
		for _, a := range f.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Topics) > len(l.Topics) {
		return false
	}
	for i, wanted := range f.Topics {
		if len(wanted) == 0 {
			continue
		}
		found := false
		for _, w := range wanted {
			if w == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// bloomPossibilities builds one target bloom per address/topic value the
// filter could match on, each evaluated independently against the group
// chain and unioned, mirroring the Rust filter's bloom_possibilities
// (an AND of address/topics collapses to OR across the index, since a
// given block's bloom must satisfy all terms anyway -- Logs re-checks the
// exact match once a candidate block is loaded).
func (f *Filter) bloomPossibilities() []common.Bloom {
	var out []common.Bloom
	for _, a := range f.Addresses {
		var b common.Bloom
		b.Add(addressKeccak(a))
		out = append(out, b)
	}
	for _, topicSet := range f.Topics {
		for _, t := range topicSet {
			var b common.Bloom
			b.Add(hashKeccak(t))
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		out = append(out, common.Bloom{})
	}
	return out
}

// Logs scans blocks in reverse within filter's range, collecting matching
// log entries up to Limit (spec §4.7 "logs(filter) iterates candidate
// blocks in reverse... returns at most limit entries").
func (c *Chain) Logs(filter Filter) ([]LocalizedLog, error) {
	candidates := make(map[uint64]struct{})
	for _, bloom := range filter.bloomPossibilities() {
		heights, err := c.blocksWithBloom(bloom, filter.FromBlock, filter.ToBlock)
		if err != nil {
			return nil, err
		}
		for _, h := range heights {
			candidates[h] = struct{}{}
		}
	}
	heights := make([]uint64, 0, len(candidates))
	for h := range candidates {
		heights = append(heights, h)
	}
	sortDescending(heights)

	limit := filter.Limit
	if limit == 0 {
		limit = -1
	}

	var out []LocalizedLog
	for _, height := range heights {
		if limit == 0 {
			break
		}
		hash, err := c.hashAt(height)
		if err != nil {
			continue
		}
		receipts, err := c.blockReceiptsByHash(hash)
		if err != nil {
			continue
		}
		txs, err := c.blockBodyByHash(hash)
		if err != nil {
			continue
		}
		logIndex := 0
		for _, r := range receipts {
			logIndex += len(r.Logs)
		}
		for txIdx := len(receipts) - 1; txIdx >= 0; txIdx-- {
			r := receipts[txIdx]
			var txHash common.Hash
			if txIdx < len(txs) {
				txHash = txs[txIdx].Hash()
			}
			for i := len(r.Logs) - 1; i >= 0; i-- {
				logIndex--
				l := r.Logs[i]
				if !filter.matches(l) {
					continue
				}
				out = append(out, LocalizedLog{
					Log:              *l,
					BlockHeight:      height,
					BlockHash:        hash,
					TransactionHash:  txHash,
					TransactionIndex: txIdx,
					LogIndex:         logIndex,
				})
				if limit > 0 {
					limit--
					if limit == 0 {
						break
					}
				}
			}
			if limit == 0 {
				break
			}
		}
	}
	return out, nil
}

// addressKeccak and hashKeccak reproduce Log.AddToBloom's own hashing so a
// filter's bloom_possibilities probe the identical bit positions a stored
// block bloom would have set for that address/topic.
func addressKeccak(a common.Address) []byte { return crypto.Keccak256(a.Bytes()) }
func hashKeccak(h common.Hash) []byte       { return crypto.Keccak256(h.Bytes()) }

func sortDescending(heights []uint64) {
	for i := 1; i < len(heights); i++ {
		for j := i; j > 0 && heights[j-1] < heights[j]; j-- {
			heights[j-1], heights[j] = heights[j], heights[j-1]
		}
	}
}
