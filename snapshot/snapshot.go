// Package snapshot implements take/restore of a compressed, chunked
// backup of the chain's block history (spec §4.8): Take walks a chain's
// headers from a given height back to genesis, packing consecutive
// blocks into preferred-size chunks; Restore feeds those chunks back in,
// validating the best-block chunk against the manifest before finalizing
// the chain head.
package snapshot

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/snappy"

	"github.com/citahub/cita-sub002/chain"
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/log"
	"github.com/citahub/cita-sub002/rlp"
)

// preferredChunkSize is the uncompressed size a block chunk is cut off
// at (spec §4.8 "≤4MB chunks").
const preferredChunkSize = 4 * 1024 * 1024

// ChunkWriter receives each compressed block chunk as Take produces it,
// keyed by the chunk's content hash (the same hash recorded in the
// resulting Manifest).
type ChunkWriter interface {
	WriteBlockChunk(hash common.Hash, compressed []byte) error
}

// ChunkReader serves a chunk back by its content hash, the counterpart
// ChunkWriter wrote it under.
type ChunkReader interface {
	ReadBlockChunk(hash common.Hash) ([]byte, error)
}

// Manifest is the snapshot's top-level record: every chunk's hash, plus
// enough of the snapshotted block's own identity to validate a restore
// against (spec §4.8 manifest).
type Manifest struct {
	BlockHashes []common.Hash
	StateRoot   common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	LastProof   []byte
}

// Encode returns the manifest's RLP encoding.
func (m *Manifest) Encode() ([]byte, error) { return rlp.EncodeToBytes(m) }

// DecodeManifest restores a Manifest from its RLP encoding.
func DecodeManifest(b []byte) (*Manifest, error) {
	m := new(Manifest)
	if err := rlp.DecodeBytes(b, m); err != nil {
		return nil, fmt.Errorf("snapshot: decode manifest: %w", err)
	}
	return m, nil
}

// chunkEntry is one block's worth of data packed into a chunk.
type chunkEntry struct {
	Header       *types.Header
	Receipts     []*types.Receipt
	Transactions []*types.Transaction
}

// blockChunk is a chunk's uncompressed wire shape: the height/hash of the
// block just beneath the oldest entry it carries (so a restore can
// cross-check its own block-number bookkeeping), followed by one entry
// per block, ordered oldest-first.
type blockChunk struct {
	ParentNumber uint64
	ParentHash   common.Hash
	Entries      []chunkEntry
}

// Take walks c backwards from blockAt to genesis, packing consecutive
// blocks into ~preferredChunkSize chunks, snappy-compressing each, and
// handing it to w (spec §4.8 Take). The returned Manifest's BlockHashes
// lists chunks with the one nearest blockAt first.
func Take(c *chain.Chain, blockAt uint64, w ChunkWriter) (*Manifest, error) {
	startHash, err := c.HashAt(blockAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve starting block %d: %w", blockAt, err)
	}
	startHeader, err := c.HeaderByHash(startHash)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load starting header: %w", err)
	}
	genesisHash, err := c.HashAt(0)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load genesis hash: %w", err)
	}

	var chunkHashes []common.Hash
	var buf []chunkEntry
	bufSize := 0
	lastHeader := startHeader
	currentHash := startHash

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		raw, err := rlp.EncodeToBytes(&blockChunk{
			ParentNumber: lastHeader.Height - 1,
			ParentHash:   lastHeader.ParentHash,
			Entries:      buf,
		})
		if err != nil {
			return fmt.Errorf("snapshot: encode chunk: %w", err)
		}
		compressed := snappy.Encode(nil, raw)
		hash := crypto.Keccak256Hash(compressed)
		if err := w.WriteBlockChunk(hash, compressed); err != nil {
			return fmt.Errorf("snapshot: write chunk %s: %w", hash, err)
		}
		chunkHashes = append(chunkHashes, hash)
		buf = nil
		bufSize = 0
		return nil
	}

	for currentHash != genesisHash {
		header, err := c.HeaderByHash(currentHash)
		if err != nil {
			return nil, fmt.Errorf("snapshot: load header %s: %w", currentHash, err)
		}
		receipts, err := c.ReceiptsByHash(currentHash)
		if err != nil {
			return nil, fmt.Errorf("snapshot: load receipts %s: %w", currentHash, err)
		}
		txs, err := c.BodyByHash(currentHash)
		if err != nil {
			return nil, fmt.Errorf("snapshot: load body %s: %w", currentHash, err)
		}
		entry := chunkEntry{Header: header, Receipts: receipts, Transactions: txs}
		entryEnc, err := rlp.EncodeToBytes(&entry)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode entry: %w", err)
		}

		if bufSize+len(entryEnc) > preferredChunkSize && len(buf) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			lastHeader = header
		}

		buf = append([]chunkEntry{entry}, buf...)
		bufSize += len(entryEnc)
		lastHeader = header

		currentHash = header.ParentHash
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &Manifest{
		BlockHashes: chunkHashes,
		StateRoot:   startHeader.StateRoot,
		BlockNumber: blockAt,
		BlockHash:   startHash,
		LastProof:   startHeader.Proof,
	}, nil
}

// Restorer feeds compressed block chunks into a Chain being rebuilt from
// a snapshot (spec §4.8 Restore).
type Restorer struct {
	chain    *chain.Chain
	manifest *Manifest
	log      *log.Logger

	abort atomic.Bool
	fed   int
}

// NewRestorer prepares to restore manifest into c.
func NewRestorer(c *chain.Chain, manifest *Manifest, logger *log.Logger) *Restorer {
	if logger == nil {
		logger = log.Default()
	}
	return &Restorer{chain: c, manifest: manifest, log: logger.Module("snapshot")}
}

// Abort requests that an in-progress Feed stop at its next block
// boundary, returning ErrAborted.
func (r *Restorer) Abort() { r.abort.Store(true) }

// ErrAborted is returned by Feed once Abort has been called.
var ErrAborted = fmt.Errorf("snapshot: restoration aborted")

// Feed decodes one compressed chunk and inserts its blocks, validating
// the best-block entry's hash and state root against the manifest (spec
// §4.8 "validate best-block chunk's header.hash == manifest.block_hash
// and header.state_root == manifest.state_root").
func (r *Restorer) Feed(compressed []byte) error {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("snapshot: decompress chunk: %w", err)
	}
	var chunk blockChunk
	if err := rlp.DecodeBytes(raw, &chunk); err != nil {
		return fmt.Errorf("snapshot: decode chunk: %w", err)
	}

	for _, entry := range chunk.Entries {
		if r.abort.Load() {
			return ErrAborted
		}
		header := entry.Header
		if header.Height == r.manifest.BlockNumber {
			if header.Hash() != r.manifest.BlockHash {
				return fmt.Errorf("snapshot: best block hash mismatch at height %d", header.Height)
			}
			if header.StateRoot != r.manifest.StateRoot {
				return fmt.Errorf("snapshot: best block state root mismatch at height %d", header.Height)
			}
		}
		var bloom common.Bloom
		for _, rc := range entry.Receipts {
			for i := range bloom {
				bloom[i] |= rc.LogsBloom[i]
			}
		}
		closed := &types.ClosedBlock{
			Header:       header,
			Transactions: entry.Transactions,
			Receipts:     entry.Receipts,
			LogsBloom:    bloom,
		}
		if err := r.chain.InsertBlockUnordered(closed); err != nil {
			return fmt.Errorf("snapshot: insert block %d: %w", header.Height, err)
		}
		r.fed++
	}
	r.log.Info("snapshot fed block chunk", "blocks", len(chunk.Entries), "total", r.fed)
	return nil
}

// Finalize reinstates the chain head at the manifest's best block, the
// last step of a restore once every chunk has been fed (spec §4.8
// "finalize by reinstating genesis body and CurrentProof").
func (r *Restorer) Finalize() error {
	return r.chain.Finalize(r.manifest.BlockNumber, r.manifest.BlockHash)
}
