// Package types defines the on-wire and in-memory record shapes shared by
// the executor, chain, and postman subsystems: block headers, receipts,
// logs, transactions, and the action parameters a call or create is
// dispatched with.
package types

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/rlp"
)

// Header is a block header's on-wire fields (spec §6).
type Header struct {
	ParentHash       common.Hash
	Timestamp        uint64 // milliseconds since epoch
	Height           uint64
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	GasUsed          uint64
	QuotaUsed        uint64
	QuotaLimit       uint64
	Proposer         common.Address
	Proof            []byte
	Proof1           []byte // embedded proof of height-1, present on proposals
}

// Hash returns the Keccak256 hash of the header's canonical RLP encoding.
func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic("types: header rlp encode: " + err.Error())
	}
	return crypto.Keccak256Hash(enc)
}
