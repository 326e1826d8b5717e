package core

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/rlp"
	"github.com/citahub/cita-sub002/trie"
)

// BlockProcessor applies an ordered transaction list to a shared State to
// produce a ClosedBlock (spec §4.4): one Executive per transaction,
// running gas-pool and cumulative-gas/bloom aggregation, a single State
// commit once every transaction has run.
type BlockProcessor struct {
	state           *state.State
	schedule        *vm.Schedule
	precompiles     *PrecompileRegistry
	natives         *NativeRegistry
	permission      *PermissionManager
	blockHash       func(uint64) (common.Hash, error)
	accountGasLimit uint64
}

// NewBlockProcessor builds a processor over st; blockHash resolves the
// BLOCKHASH opcode's ancestor lookups and accountGasLimit is the
// per-transaction quota cap (0 disables it).
func NewBlockProcessor(
	st *state.State,
	schedule *vm.Schedule,
	precompiles *PrecompileRegistry,
	natives *NativeRegistry,
	permission *PermissionManager,
	blockHash func(uint64) (common.Hash, error),
	accountGasLimit uint64,
) *BlockProcessor {
	return &BlockProcessor{
		state:           st,
		schedule:        schedule,
		precompiles:     precompiles,
		natives:         natives,
		permission:      permission,
		blockHash:       blockHash,
		accountGasLimit: accountGasLimit,
	}
}

// Process applies block's transactions in order and returns the resulting
// ClosedBlock. Transactions execute strictly in the order supplied; a
// failing transaction still advances its sender's nonce and pays gas, and
// its receipt carries a non-empty Exception with no logs (spec §4.4
// "Ordering and tie-breaks"). A rejected-at-admission transaction (nonce
// mismatch, missing permission, quota exhaustion) aborts the whole block,
// since the processor has no way to skip a transaction and still report
// the index-aligned receipt the caller expects; callers that need
// best-effort inclusion must pre-filter transactions before calling
// Process (spec §4.5's proposal-building path, out of this package's
// scope).
func (p *BlockProcessor) Process(block *types.OpenBlock, opts TransactOptions) (*types.ClosedBlock, error) {
	header := block.Header
	gasPool := new(GasPool).AddGas(header.QuotaLimit)
	env := &vm.EnvInfo{
		Number:     header.Height,
		Timestamp:  header.Timestamp,
		GasLimit:   header.QuotaLimit,
		Coinbase:   header.Proposer,
		Difficulty: common.ZeroU256(),
	}

	receipts := make([]*types.Receipt, 0, len(block.Transactions))
	var cumulativeGas uint64
	var blockBloom common.Bloom

	for _, tx := range block.Transactions {
		exec := NewExecutive(p.state, p.schedule, p.precompiles, p.natives, p.permission, env, p.blockHash, gasPool, p.accountGasLimit)
		executed, err := exec.Transact(tx, opts)
		if err != nil {
			return nil, err
		}

		cumulativeGas += executed.GasUsed

		var receiptBloom common.Bloom
		for _, l := range executed.Logs {
			l.AddToBloom(&receiptBloom)
		}
		orBloom(&blockBloom, &receiptBloom)

		receipts = append(receipts, &types.Receipt{
			CumulativeGas:   cumulativeGas,
			LogsBloom:       receiptBloom,
			Logs:            executed.Logs,
			Exception:       executed.Exception,
			ContractAddress: executed.ContractAddress,
		})
	}

	root, err := p.state.Commit()
	if err != nil {
		return nil, err
	}

	header.StateRoot = root
	header.GasUsed = cumulativeGas
	header.QuotaUsed = cumulativeGas
	header.TransactionsRoot = transactionsRoot(block.Transactions)
	header.ReceiptsRoot = receiptsRoot(receipts)

	return &types.ClosedBlock{
		Header:       header,
		Transactions: block.Transactions,
		Receipts:     receipts,
		LogsBloom:    blockBloom,
	}, nil
}

// orBloom ORs src's bits into dst in place. Bloom.Bytes has a value
// receiver (it copies the array), so this indexes the arrays directly
// through their pointers rather than going through that accessor.
func orBloom(dst, src *common.Bloom) {
	for i := range dst {
		dst[i] |= src[i]
	}
}

// transactionsRoot and receiptsRoot build a throwaway Merkle-Patricia
// trie keyed by RLP-encoded index (spec §6); the trie is never persisted,
// only hashed.
func transactionsRoot(txs []*types.Transaction) common.Hash {
	t := trie.New()
	for i, tx := range txs {
		key, _ := rlp.EncodeToBytes(uint(i))
		val, err := rlp.EncodeToBytes(tx)
		if err != nil {
			continue
		}
		t.Put(key, val)
	}
	return t.Hash()
}

func receiptsRoot(receipts []*types.Receipt) common.Hash {
	t := trie.New()
	for i, r := range receipts {
		key, _ := rlp.EncodeToBytes(uint(i))
		val, err := rlp.EncodeToBytes(r)
		if err != nil {
			continue
		}
		t.Put(key, val)
	}
	return t.Hash()
}
