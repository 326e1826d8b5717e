package vm

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
)

// CreateOutcomeKind tags which variant of ContractCreateResult is valid.
type CreateOutcomeKind uint8

const (
	Created CreateOutcomeKind = iota
	CreateReverted
	CreateFailed
	CreateFailedInStaticCall
)

// ContractCreateResult is the outcome of Externalities.Create (spec §4.2).
type ContractCreateResult struct {
	Kind    CreateOutcomeKind
	Address common.Address // valid iff Kind == Created
	GasLeft uint64         // valid iff Kind == Created or CreateReverted
	Data    []byte         // valid iff Kind == CreateReverted
}

// CallOutcomeKind tags which variant of MessageCallResult is valid.
type CallOutcomeKind uint8

const (
	CallSuccess CallOutcomeKind = iota
	CallReverted
	CallFailed
)

// MessageCallResult is the outcome of Externalities.Call (spec §4.2).
type MessageCallResult struct {
	Kind    CallOutcomeKind
	GasLeft uint64
	Data    []byte
}

// EnvInfo is the subset of block context the interpreter may read.
type EnvInfo struct {
	Number     uint64
	Timestamp  uint64
	GasLimit   uint64
	Coinbase   common.Address
	Difficulty *common.U256
}

// Externalities is the capability object the interpreter is given for a
// single frame; the Executive implements it over the shared State (spec
// §4.2). Every method operates on the current frame's address unless the
// parameter list says otherwise.
type Externalities interface {
	StorageAt(key common.Hash) (common.Hash, error)
	SetStorage(key, value common.Hash) error

	Balance(addr common.Address) (*common.U256, error)
	BlockHash(number uint64) (common.Hash, error)

	Create(gas uint64, value *common.U256, code []byte) (ContractCreateResult, error)
	Call(gas uint64, sender, receiver common.Address, value *common.U256, input []byte, codeAddress common.Address, callType types.CallType) (MessageCallResult, error)

	ExtCode(addr common.Address) ([]byte, error)
	ExtCodeSize(addr common.Address) (int, error)

	Log(topics []common.Hash, data []byte) error
	Suicide(refundAddr common.Address) error

	IncSstoreClears()

	Schedule() *Schedule
	EnvInfo() *EnvInfo
	Depth() int
	IsStatic() bool

	Origin() common.Address
}
