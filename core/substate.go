package core

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
)

// Substate accumulates one call/create frame's side effects that only take
// real effect once the frame (and every enclosing frame up to the
// top-level transaction) completes successfully: logs, addresses marked
// for suicide (with their refund beneficiary), the running sstore-clear
// count that feeds the refund formula, touched addresses (for the
// finalize garbage sweep), and addresses of newly created contracts
// (spec §4.2 "suicide adds to substate suicides", §4.3 finalize).
type Substate struct {
	Logs             []*types.Log
	Suicides         map[common.Address]common.Address // killed address -> refund beneficiary
	Touched          map[common.Address]struct{}
	SstoreClears     uint64
	ContractsCreated []common.Address
}

// NewSubstate returns an empty substate ready for one frame's accounting.
func NewSubstate() *Substate {
	return &Substate{
		Suicides: make(map[common.Address]common.Address),
		Touched:  make(map[common.Address]struct{}),
	}
}

// Touch records addr as having been referenced during this frame.
func (s *Substate) Touch(addr common.Address) {
	s.Touched[addr] = struct{}{}
}

// AddLog appends one emitted log.
func (s *Substate) AddLog(l *types.Log) {
	s.Logs = append(s.Logs, l)
}

// AddSuicide marks addr for deletion at finalize, with refundTo as the
// beneficiary of its remaining balance.
func (s *Substate) AddSuicide(addr, refundTo common.Address) {
	s.Suicides[addr] = refundTo
}

// AddContractCreated records a successfully created contract's address.
func (s *Substate) AddContractCreated(addr common.Address) {
	s.ContractsCreated = append(s.ContractsCreated, addr)
}

// Accrue merges a completed child frame's substate into s, the parent
// (spec §4.3: "on success discard_checkpoint and accrue substate").
func (s *Substate) Accrue(child *Substate) {
	if child == nil {
		return
	}
	s.Logs = append(s.Logs, child.Logs...)
	for addr, refundTo := range child.Suicides {
		s.Suicides[addr] = refundTo
	}
	for addr := range child.Touched {
		s.Touched[addr] = struct{}{}
	}
	s.SstoreClears += child.SstoreClears
	s.ContractsCreated = append(s.ContractsCreated, child.ContractsCreated...)
}
