package types

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
)

// Log is a single event emitted by LOG0..LOG4 during execution.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// AddToBloom ORs this log's contribution (address + each topic) into b, the
// same accumulation a block's receipts perform to build header.LogsBloom.
func (l *Log) AddToBloom(b *common.Bloom) {
	b.Add(crypto.Keccak256(l.Address.Bytes()))
	for _, t := range l.Topics {
		b.Add(crypto.Keccak256(t.Bytes()))
	}
}
