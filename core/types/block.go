package types

import "github.com/citahub/cita-sub002/common"

// OpenBlock is a block delivered for execution: a header and its ordered
// transactions, not yet applied to any state (spec §3).
type OpenBlock struct {
	Header       *Header
	Transactions []*Transaction
}

// ClosedBlock is an OpenBlock plus the results of applying it: one receipt
// per transaction, the aggregate logs bloom, and the post-state root
// written back into Header.StateRoot.
type ClosedBlock struct {
	Header       *Header
	Transactions []*Transaction
	Receipts     []*Receipt
	LogsBloom    common.Bloom
}

// Equivalent reports whether c could be the closed form of o: matching
// transactions root, parent hash, height, and timestamp (spec §3).
func (c *ClosedBlock) Equivalent(o *OpenBlock) bool {
	if c == nil || o == nil || c.Header == nil || o.Header == nil {
		return false
	}
	return c.Header.TransactionsRoot == o.Header.TransactionsRoot &&
		c.Header.ParentHash == o.Header.ParentHash &&
		c.Header.Height == o.Header.Height &&
		c.Header.Timestamp == o.Header.Timestamp
}

// Hash returns the hash of the closed block's header.
func (c *ClosedBlock) Hash() common.Hash { return c.Header.Hash() }
