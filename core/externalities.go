package core

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
)

// frame is the Externalities the interpreter runs one CALL/CREATE level
// against: it binds an Executive's shared, block-level state to the
// current level's address, origin, depth, static flag and substate (spec
// §4.2 "capability object... bound to the current frame"). A fresh frame
// is built for every nested call/create (core/executive.go's doCall /
// doCreate); frame itself never pushes or pops checkpoints, that is the
// caller's (Executive's) responsibility around exec_vm.
type frame struct {
	exec     *Executive
	self     common.Address
	origin   common.Address
	depth    int
	static   bool
	substate *Substate
}

var _ vm.Externalities = (*frame)(nil)

func (f *frame) StorageAt(key common.Hash) (common.Hash, error) {
	return f.exec.state.StorageAt(f.self, key)
}

func (f *frame) SetStorage(key, value common.Hash) error {
	if err := f.exec.state.SetStorage(f.self, key, value); err != nil {
		return err
	}
	f.substate.Touch(f.self)
	return nil
}

func (f *frame) Balance(addr common.Address) (*common.U256, error) {
	return f.exec.state.Balance(addr)
}

func (f *frame) BlockHash(number uint64) (common.Hash, error) {
	return f.exec.blockHash(number)
}

func (f *frame) Create(gas uint64, value *common.U256, code []byte) (vm.ContractCreateResult, error) {
	return f.exec.doCreate(f, gas, value, code)
}

func (f *frame) Call(gas uint64, sender, receiver common.Address, value *common.U256, input []byte, codeAddress common.Address, callType types.CallType) (vm.MessageCallResult, error) {
	return f.exec.doCall(f, gas, sender, receiver, value, input, codeAddress, callType)
}

func (f *frame) ExtCode(addr common.Address) ([]byte, error) {
	return f.exec.state.CodeAt(addr)
}

func (f *frame) ExtCodeSize(addr common.Address) (int, error) {
	code, err := f.exec.state.CodeAt(addr)
	if err != nil {
		return 0, err
	}
	return len(code), nil
}

func (f *frame) Log(topics []common.Hash, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.substate.AddLog(&types.Log{Address: f.self, Topics: topics, Data: cp})
	return nil
}

// Suicide moves self's balance to refundAddr immediately (a self-suicide
// simply leaves it in place) and records self for deletion at finalize
// (spec §4.2 "suicide adds to substate suicides; actual account deletion
// happens at finalize").
func (f *frame) Suicide(refundAddr common.Address) error {
	bal, err := f.exec.state.Balance(f.self)
	if err != nil {
		return err
	}
	if refundAddr != f.self && !bal.IsZero() {
		// Balance returns the account's live balance pointer, not a copy:
		// subtracting it from itself would zero the very value about to be
		// credited elsewhere, so snapshot it first.
		amount := new(common.U256).Set(bal)
		if err := f.exec.state.SubBalance(f.self, amount); err != nil {
			return err
		}
		if err := f.exec.state.AddBalance(refundAddr, amount); err != nil {
			return err
		}
	}
	f.substate.AddSuicide(f.self, refundAddr)
	f.substate.Touch(refundAddr)
	return nil
}

func (f *frame) IncSstoreClears() { f.substate.SstoreClears++ }

func (f *frame) Schedule() *vm.Schedule { return f.exec.schedule }
func (f *frame) EnvInfo() *vm.EnvInfo   { return f.exec.env }
func (f *frame) Depth() int             { return f.depth }
func (f *frame) IsStatic() bool         { return f.static }
func (f *frame) Origin() common.Address { return f.origin }
