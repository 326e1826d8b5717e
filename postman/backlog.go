// Package postman implements the height-indexed reconciliation layer
// between inbound consensus/sync messages and the executor (spec §4.6):
// Backlog buffers the three asynchronous sources of a block (Proposal,
// Synchronized, BlockWithProof) per height, and Postman drives the
// executor once a height's entry is complete and its previous-height
// proof validates.
package postman

import (
	"fmt"
	"sort"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
)

// Priority orders the three sources a Backlog entry can arrive from; a
// later, lower-priority message for a height already holding a
// higher-priority entry is dropped rather than overwriting it (spec §13
// "priority-gated backlog insertion").
type Priority uint8

const (
	PriorityProposal Priority = iota + 1
	PrioritySynchronized
	PriorityBlockWithProof
)

// ProofValidator checks a consensus proof for height against the
// validator set in effect at height-1. Consensus signature verification
// itself is out of scope (spec Non-goals: "new consensus algorithm"), so
// a nil ProofValidator treats any non-empty validator set as satisfied
// and any empty one (e.g. in tests with no configured validators) as
// automatically valid, mirroring backlogs.rs's own test bypass.
type ProofValidator func(height uint64, proof []byte, validators []common.Address) bool

// Backlog is one height's reconciliation buffer (spec §3 "Backlog
// Entry"): the open block as it arrived, the proof validating the
// *previous* height's finality embedded in it, and the closed block once
// the executor has applied it.
type Backlog struct {
	openBlock   *types.OpenBlock
	proof       []byte
	closedBlock *types.ClosedBlock
	priority    Priority
	hasPriority bool
}

// IsCompleted reports whether this entry has an open block, a proof, and
// a matching closed block.
func (b *Backlog) IsCompleted() bool {
	return b.allExist() && b.IsMatched()
}

func (b *Backlog) allExist() bool {
	return b.openBlock != nil && b.proof != nil && b.closedBlock != nil
}

// IsMatched reports whether the closed block is the executed form of the
// open block (spec §3: "equivalent").
func (b *Backlog) IsMatched() bool {
	if b.openBlock == nil || b.closedBlock == nil {
		return false
	}
	return b.closedBlock.Equivalent(b.openBlock)
}

// IsBlockOk reports whether the open block links to the chain's current
// head: its parent hash matches currentHash and its height is exactly
// currentHeight+1.
func (b *Backlog) IsBlockOk(currentHash common.Hash, currentHeight uint64) bool {
	if b.openBlock == nil || b.openBlock.Header == nil {
		return false
	}
	h := b.openBlock.Header
	return h.ParentHash == currentHash && h.Height == currentHeight+1
}

// Complete consumes the entry and returns its closed block with the
// previous-height proof attached (spec §4.6: a grown block's Header.Proof
// records the finality proof of the block beneath it). Panics if the
// entry is not actually completed, mirroring backlogs.rs's own assertion
// since callers must check IsCompleted first.
func (b *Backlog) Complete() *types.ClosedBlock {
	if !b.IsCompleted() {
		panic("postman: Complete called on an incomplete backlog entry")
	}
	b.closedBlock.Header.Proof = b.proof
	return b.closedBlock
}

// InsertOpen attaches an open block (and, except for Proposal, the proof
// of the previous height it embeds) to this entry, subject to the
// priority gate: a message with priority lower than what is already
// present is dropped.
func (b *Backlog) InsertOpen(priority Priority, open *types.OpenBlock, proof []byte) bool {
	if b.hasPriority && b.priority > priority {
		return false
	}
	b.priority = priority
	b.hasPriority = true
	b.openBlock = open
	b.proof = proof
	return true
}

// GetOpenBlock returns the entry's open block, if any.
func (b *Backlog) GetOpenBlock() *types.OpenBlock { return b.openBlock }

// GetProof returns the entry's embedded previous-height proof, if any.
func (b *Backlog) GetProof() []byte { return b.proof }

// Backlogs is the full height-indexed reconciliation buffer Postman owns
// exclusively (spec §4.6 "Postman is the only writer to the Backlog").
type Backlogs struct {
	currentHeight uint64
	currentHash   common.Hash
	entries       map[uint64]*Backlog
	completed     map[uint64]*types.ExecutedResult
}

// NewBacklogs creates an empty Backlogs rooted at currentHeight/currentHash.
func NewBacklogs(currentHeight uint64, currentHash common.Hash) *Backlogs {
	return &Backlogs{
		currentHeight: currentHeight,
		currentHash:   currentHash,
		entries:       make(map[uint64]*Backlog),
		completed:     make(map[uint64]*types.ExecutedResult),
	}
}

// CurrentHeight returns the height of the chain Backlogs believes is
// persisted (kept in lock-step with the executor via Complete/Grow).
func (bs *Backlogs) CurrentHeight() uint64 { return bs.currentHeight }

// CurrentHash returns the hash of CurrentHeight.
func (bs *Backlogs) CurrentHash() common.Hash { return bs.currentHash }

// GetCompletedResult returns the cached ExecutedResult for height, if
// still within the prune window.
func (bs *Backlogs) GetCompletedResult(height uint64) (*types.ExecutedResult, bool) {
	r, ok := bs.completed[height]
	return r, ok
}

// InsertCompletedResult caches result, most recently populated by Grow's
// return value (spec §4.6 "prune caches keeping the last 3 heights").
func (bs *Backlogs) InsertCompletedResult(height uint64, result *types.ExecutedResult) {
	bs.completed[height] = result
}

func (bs *Backlogs) entry(height uint64) *Backlog {
	e, ok := bs.entries[height]
	if !ok {
		e = &Backlog{}
		bs.entries[height] = e
	}
	return e
}

// insertOpen discards messages at or below the current height before
// delegating to the per-height entry's priority gate.
func (bs *Backlogs) insertOpen(height uint64, priority Priority, open *types.OpenBlock, proof []byte) bool {
	if height <= bs.currentHeight {
		return false
	}
	return bs.entry(height).InsertOpen(priority, open, proof)
}

// InsertProposal inserts an unproofed consensus proposal (spec §4.6
// "Proposal (no proof, open block only)").
func (bs *Backlogs) InsertProposal(open *types.OpenBlock) bool {
	return bs.insertOpen(open.Header.Height, PriorityProposal, open, nil)
}

// InsertSynchronized inserts a block recovered via catch-up sync, whose
// own header already embeds the previous height's finality proof. The
// proof slice is normalized to non-nil so "proof present but empty" (a
// genesis-adjacent block whose embedded proof is legitimately empty)
// stays distinguishable from "no proof attached at all" (a Proposal).
func (bs *Backlogs) InsertSynchronized(open *types.OpenBlock) bool {
	return bs.insertOpen(open.Header.Height, PrioritySynchronized, open, nonNilProof(open.Header.Proof))
}

func nonNilProof(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}

// InsertBlockWithProof inserts a consensus-committed block, after
// checking presentProof (the proof *for* this height, used to validate
// the *next* height once it arrives) against the validator set recorded
// in ExecutedResult(height-1) (spec §4.6 "BlockWithProof... validate
// present proof against validator set from ExecutedResult(h-1)").
func (bs *Backlogs) InsertBlockWithProof(open *types.OpenBlock, presentProof []byte, validate ProofValidator) bool {
	height := open.Header.Height
	if !bs.isProofOk(height, presentProof, validate) {
		return false
	}
	return bs.insertOpen(height, PriorityBlockWithProof, open, nonNilProof(open.Header.Proof))
}

// InsertClosed attaches the executor's result for an in-flight height.
func (bs *Backlogs) InsertClosed(height uint64, closed *types.ClosedBlock) bool {
	if height <= bs.currentHeight {
		return false
	}
	bs.entry(height).closedBlock = closed
	return true
}

// CheckCompleted reports why height is not yet growable, or nil if it is.
func (bs *Backlogs) CheckCompleted(height uint64) error {
	e, ok := bs.entries[height]
	if !ok {
		return fmt.Errorf("postman: %d-th backlog has no open block yet", height)
	}
	if !e.IsCompleted() {
		return fmt.Errorf("postman: %d-th backlog is not completed", height)
	}
	if !bs.isProofOk(height-1, e.proof, nil) {
		return fmt.Errorf("postman: %d-th backlog's proof of height %d is invalid", height, height-1)
	}
	return nil
}

// Ready returns height's open block if it links to the current chain
// head and has not already been executed.
func (bs *Backlogs) Ready(height uint64) (*types.OpenBlock, error) {
	e, ok := bs.entries[height]
	if !ok || e.openBlock == nil {
		return nil, fmt.Errorf("postman: %d-th open block not found", height)
	}
	if !e.IsBlockOk(bs.currentHash, bs.currentHeight) {
		return nil, fmt.Errorf("postman: %d-th open block is invalid", height)
	}
	if e.IsMatched() {
		return nil, fmt.Errorf("postman: %d-th open block already executed", height)
	}
	return e.openBlock, nil
}

// isProofOk validates proof for height against the validators recorded
// in ExecutedResult(height-1); height 0's proof is always valid, and a
// missing or empty validator set passes (no consensus configured, e.g.
// in tests), mirroring backlogs.rs's is_proof_ok.
func (bs *Backlogs) isProofOk(height uint64, proof []byte, validate ProofValidator) bool {
	if height == 0 {
		return true
	}
	result, ok := bs.completed[height-1]
	if !ok {
		return false
	}
	validators := result.Config.Validators
	if len(validators) == 0 || validate == nil {
		return true
	}
	return validate(height, proof, validators)
}

// Complete removes height's entry, attaches its previous-height proof,
// and advances the chain head (spec §4.6 growth step).
func (bs *Backlogs) Complete(height uint64) (*types.ClosedBlock, error) {
	if err := bs.CheckCompleted(height); err != nil {
		return nil, err
	}
	e := bs.entries[height]
	delete(bs.entries, height)
	closed := e.Complete()
	bs.currentHeight = height
	bs.currentHash = closed.Hash()
	return closed, nil
}

// IsCompletedAt reports whether height's entry is ready to grow, without
// consuming it.
func (bs *Backlogs) IsCompletedAt(height uint64) bool {
	return bs.CheckCompleted(height) == nil
}

// CompletedKeys returns the cached ExecutedResult heights in ascending
// order, used to replay cached results to Chain on a StateSignal catch-up.
func (bs *Backlogs) CompletedKeys() []uint64 {
	keys := make([]uint64, 0, len(bs.completed))
	for h := range bs.completed {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Prune drops cached ExecutedResults older than the last 3 heights (spec
// §4.6 "prune caches keeping the last 3 heights... needed to validate
// proofs of late-arriving sync blocks").
func (bs *Backlogs) Prune(height uint64) {
	if bs.currentHeight <= 2 {
		return
	}
	keepFrom := bs.currentHeight - 2
	if height < keepFrom {
		keepFrom = height
	}
	for h := range bs.completed {
		if h < keepFrom {
			delete(bs.completed, h)
		}
	}
}
