package chain

import (
	"testing"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/db"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(db.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	return c
}

func closedBlockAt(height uint64, parent common.Hash, logs []*types.Log) *types.ClosedBlock {
	var bloom common.Bloom
	for _, l := range logs {
		l.AddToBloom(&bloom)
	}
	return &types.ClosedBlock{
		Header: &types.Header{
			ParentHash: parent,
			Height:     height,
			QuotaLimit: 1_000_000,
		},
		Transactions: nil,
		Receipts: []*types.Receipt{
			{LogsBloom: bloom, Logs: logs},
		},
		LogsBloom: bloom,
	}
}

func TestChainCommitsGenesisThenLinksSubsequentBlocks(t *testing.T) {
	c := newTestChain(t)
	genesis := closedBlockAt(0, common.Hash{}, nil)
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}
	if c.CurrentHeight() != 0 {
		t.Fatalf("current height = %d, want 0", c.CurrentHeight())
	}

	block1 := closedBlockAt(1, genesis.Hash(), nil)
	if err := c.CommitBlock(block1); err != nil {
		t.Fatalf("commit block 1: %v", err)
	}
	if c.CurrentHeight() != 1 {
		t.Fatalf("current height = %d, want 1", c.CurrentHeight())
	}
	if c.CurrentHash() != block1.Hash() {
		t.Fatal("current hash did not advance to block 1")
	}
}

func TestChainRejectsNonLinkingBlock(t *testing.T) {
	c := newTestChain(t)
	genesis := closedBlockAt(0, common.Hash{}, nil)
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	wrongParent := closedBlockAt(1, common.HexToHash("0xdead"), nil)
	if err := c.CommitBlock(wrongParent); err == nil {
		t.Fatal("expected commit with mismatched parent hash to fail")
	}

	skippedHeight := closedBlockAt(2, genesis.Hash(), nil)
	if err := c.CommitBlock(skippedHeight); err == nil {
		t.Fatal("expected commit at height 2 to fail before height 1 exists")
	}
}

func TestChainBlockHeaderAndBodyRoundTrip(t *testing.T) {
	c := newTestChain(t)
	genesis := closedBlockAt(0, common.Hash{}, nil)
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	header, err := c.BlockHeader(types.TagHeight(0))
	if err != nil {
		t.Fatalf("block header: %v", err)
	}
	if header.Height != 0 {
		t.Fatalf("header height = %d, want 0", header.Height)
	}

	block, err := c.Block(types.TagLatestBlock())
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if block.Header.Height != 0 {
		t.Fatalf("block height = %d, want 0", block.Header.Height)
	}

	if _, err := c.BlockHeader(types.TagHeight(99)); err == nil {
		t.Fatal("expected unknown height to fail")
	}
}

func TestChainTransactionAddressLookup(t *testing.T) {
	c := newTestChain(t)
	tx := &types.Transaction{Nonce: 1}
	genesis := closedBlockAt(0, common.Hash{}, nil)
	genesis.Transactions = []*types.Transaction{tx}
	genesis.Receipts = []*types.Receipt{{}}
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	addr, err := c.TransactionAddress(tx.Hash())
	if err != nil {
		t.Fatalf("transaction address: %v", err)
	}
	if addr.BlockHash != genesis.Hash() || addr.Index != 0 {
		t.Fatalf("unexpected transaction address: %+v", addr)
	}
}

func TestChainLogsFiltersByAddressAndTopic(t *testing.T) {
	c := newTestChain(t)
	target := common.HexToAddress("0x0102030405060708090a0b0c0d0e0f1011121314")
	other := common.HexToAddress("0xff02030405060708090a0b0c0d0e0f1011121314")
	topic := common.HexToHash("0x01")

	genesis := closedBlockAt(0, common.Hash{}, nil)
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	matching := &types.Log{Address: target, Topics: []common.Hash{topic}}
	nonMatching := &types.Log{Address: other}
	block1 := closedBlockAt(1, genesis.Hash(), []*types.Log{matching, nonMatching})
	if err := c.CommitBlock(block1); err != nil {
		t.Fatalf("commit block 1: %v", err)
	}

	logs, err := c.Logs(Filter{
		FromBlock: 0,
		ToBlock:   1,
		Addresses: []common.Address{target},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d matching logs, want 1", len(logs))
	}
	if logs[0].BlockHeight != 1 || logs[0].Address != target {
		t.Fatalf("unexpected log match: %+v", logs[0])
	}
}

func TestChainBlocksWithBloomSkipsNonMatchingRanges(t *testing.T) {
	c := newTestChain(t)
	genesis := closedBlockAt(0, common.Hash{}, nil)
	if err := c.SaveGenesis(genesis); err != nil {
		t.Fatalf("save genesis: %v", err)
	}

	addr := common.HexToAddress("0xaa02030405060708090a0b0c0d0e0f1011121314")
	var target common.Bloom
	target.Add(addressKeccak(addr))

	parent := genesis.Hash()
	var wantedHeight uint64 = 5
	for h := uint64(1); h <= 8; h++ {
		var logs []*types.Log
		if h == wantedHeight {
			logs = []*types.Log{{Address: addr}}
		}
		block := closedBlockAt(h, parent, logs)
		if err := c.CommitBlock(block); err != nil {
			t.Fatalf("commit block %d: %v", h, err)
		}
		parent = block.Hash()
	}

	heights, err := c.BlocksWithBloom(target, 1, 8)
	if err != nil {
		t.Fatalf("blocks with bloom: %v", err)
	}
	if len(heights) != 1 || heights[0] != wantedHeight {
		t.Fatalf("blocks with bloom = %v, want [%d]", heights, wantedHeight)
	}
}
