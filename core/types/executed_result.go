package types

import "github.com/citahub/cita-sub002/common"

// ConsensusConfig is the subset of system-contract-controlled parameters
// the executor surfaces back to consensus: the active validator set and
// block production interval. Re-read at Pending whenever a Grow detects a
// permission-affecting write (spec §4.5).
type ConsensusConfig struct {
	Validators   []common.Address
	BlockInterval uint64
}

// ExecutedResult is the message crossing Executor -> Chain after a block
// closes: the consensus config in effect after it, plus the executed
// header and per-transaction receipts needed to validate and persist it.
type ExecutedResult struct {
	Config   ConsensusConfig
	Header   *Header
	Receipts []*Receipt
}
