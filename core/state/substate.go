package state

import "github.com/citahub/cita-sub002/common"

// Substate is the per-call-frame accumulator of side effects that only
// become durable once the frame that produced them returns successfully
// (spec §3).
type Substate struct {
	Logs             []Log
	ContractsCreated  []common.Address
	Suicides          map[common.Address]common.Address // killed addr -> refund target
	SstoreClears      int
	Touched           map[common.Address]struct{}
}

// Log is the log entry this package's Substate collects. The executive
// does not use this Substate: it accumulates *types.Log values in
// core.Substate.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// NewSubstate returns an empty accumulator for a new call/create frame.
func NewSubstate() *Substate {
	return &Substate{
		Suicides: make(map[common.Address]common.Address),
		Touched:  make(map[common.Address]struct{}),
	}
}

// Accrue folds a completed child frame's substate into the parent (spec
// §3: "the child substate accrues into the parent"). Only called when the
// child frame returned successfully; a reverted child's substate is
// discarded by the caller instead.
func (s *Substate) Accrue(child *Substate) {
	s.Logs = append(s.Logs, child.Logs...)
	s.ContractsCreated = append(s.ContractsCreated, child.ContractsCreated...)
	for addr, refund := range child.Suicides {
		s.Suicides[addr] = refund
	}
	s.SstoreClears += child.SstoreClears
	for addr := range child.Touched {
		s.Touched[addr] = struct{}{}
	}
}

// Touch marks addr as having been observed by this frame (used to decide
// garbage collection of newly-empty accounts at finalize).
func (s *Substate) Touch(addr common.Address) {
	s.Touched[addr] = struct{}{}
}
