package snapshot

import (
	"testing"

	"github.com/citahub/cita-sub002/chain"
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/db"
)

// memChunkStore is an in-memory ChunkWriter/ChunkReader for round-trip tests.
type memChunkStore struct {
	chunks map[common.Hash][]byte
}

func newMemChunkStore() *memChunkStore { return &memChunkStore{chunks: make(map[common.Hash][]byte)} }

func (m *memChunkStore) WriteBlockChunk(hash common.Hash, compressed []byte) error {
	m.chunks[hash] = compressed
	return nil
}

func (m *memChunkStore) ReadBlockChunk(hash common.Hash) ([]byte, error) {
	c, ok := m.chunks[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func buildChain(t *testing.T, height uint64) *chain.Chain {
	t.Helper()
	c, err := chain.New(db.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	genesis := &types.ClosedBlock{Header: &types.Header{Height: 0}}
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}
	parent := genesis.Hash()
	for h := uint64(1); h <= height; h++ {
		block := &types.ClosedBlock{
			Header: &types.Header{ParentHash: parent, Height: h, QuotaLimit: 1_000_000},
			Transactions: []*types.Transaction{
				{Nonce: h},
			},
			Receipts: []*types.Receipt{{}},
		}
		if err := c.CommitBlock(block); err != nil {
			t.Fatalf("commit block %d: %v", h, err)
		}
		parent = block.Hash()
	}
	return c
}

func TestTakeThenRestoreRoundTrip(t *testing.T) {
	src := buildChain(t, 5)
	store := newMemChunkStore()

	manifest, err := Take(src, 5, store)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if len(manifest.BlockHashes) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if manifest.BlockNumber != 5 {
		t.Fatalf("manifest block number = %d, want 5", manifest.BlockNumber)
	}

	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	decoded, err := DecodeManifest(encoded)
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if decoded.BlockHash != manifest.BlockHash || decoded.StateRoot != manifest.StateRoot {
		t.Fatal("manifest did not round-trip through RLP")
	}

	dst, err := chain.New(db.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("new destination chain: %v", err)
	}
	r := NewRestorer(dst, decoded, nil)
	for _, hash := range decoded.BlockHashes {
		compressed, err := store.ReadBlockChunk(hash)
		if err != nil {
			t.Fatalf("read chunk %s: %v", hash, err)
		}
		if err := r.Feed(compressed); err != nil {
			t.Fatalf("feed chunk %s: %v", hash, err)
		}
	}
	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if dst.CurrentHeight() != 5 {
		t.Fatalf("restored height = %d, want 5", dst.CurrentHeight())
	}
	if dst.CurrentHash() != src.CurrentHash() {
		t.Fatal("restored head hash does not match source chain")
	}

	header, err := dst.HeaderByHash(dst.CurrentHash())
	if err != nil {
		t.Fatalf("header by hash: %v", err)
	}
	if header.Height != 5 {
		t.Fatalf("restored header height = %d, want 5", header.Height)
	}
}

func TestFeedRejectsBestBlockMismatch(t *testing.T) {
	src := buildChain(t, 3)
	store := newMemChunkStore()

	manifest, err := Take(src, 3, store)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	manifest.StateRoot = common.HexToHash("0xdeadbeef")

	dst, err := chain.New(db.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("new destination chain: %v", err)
	}
	r := NewRestorer(dst, manifest, nil)
	var sawErr bool
	for _, hash := range manifest.BlockHashes {
		compressed, err := store.ReadBlockChunk(hash)
		if err != nil {
			t.Fatalf("read chunk %s: %v", hash, err)
		}
		if err := r.Feed(compressed); err != nil {
			sawErr = true
			break
		}
	}
	if !sawErr {
		t.Fatal("expected a state root mismatch against the tampered manifest")
	}
}

func TestFeedHonorsAbort(t *testing.T) {
	src := buildChain(t, 3)
	store := newMemChunkStore()

	manifest, err := Take(src, 3, store)
	if err != nil {
		t.Fatalf("take: %v", err)
	}

	dst, err := chain.New(db.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("new destination chain: %v", err)
	}
	r := NewRestorer(dst, manifest, nil)
	r.Abort()
	for _, hash := range manifest.BlockHashes {
		compressed, err := store.ReadBlockChunk(hash)
		if err != nil {
			t.Fatalf("read chunk %s: %v", hash, err)
		}
		if err := r.Feed(compressed); err != ErrAborted {
			t.Fatalf("feed after abort = %v, want ErrAborted", err)
		}
		break
	}
}
