package types

import "github.com/citahub/cita-sub002/common"

// CallType distinguishes how a sub-frame was entered (spec §3 ActionParams).
type CallType uint8

const (
	CallNone CallType = iota
	CallCall
	CallCallCode
	CallDelegateCall
	CallStaticCall
)

// ValueKind distinguishes a genuine balance transfer from an apparent
// value carried only for CALLVALUE visibility (DELEGATECALL/CALLCODE).
type ValueKind uint8

const (
	ValueTransfer ValueKind = iota
	ValueApparent
)

// ActionValue pairs a value with how it should be applied to balances.
type ActionValue struct {
	Kind   ValueKind
	Amount *common.U256
}

// ActionParams is the full parameter set a call or create frame is
// dispatched with (spec §3).
type ActionParams struct {
	Sender      common.Address
	Origin      common.Address
	CodeAddress common.Address
	Address     common.Address
	Gas         uint64
	GasPrice    *common.U256
	Value       ActionValue
	Code        []byte // nil means "load from state by CodeAddress"
	CodeHash    common.Hash
	Data        []byte
	CallType    CallType
}
