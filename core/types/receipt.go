package types

import "github.com/citahub/cita-sub002/common"

// ExceptionKind names an execution-class error surfaced in a receipt
// (spec §7 "Execution" errors).
type ExceptionKind string

const (
	ExcNone                       ExceptionKind = ""
	ExcOutOfGas                   ExceptionKind = "OutOfGas"
	ExcBadJumpDestination         ExceptionKind = "BadJumpDestination"
	ExcBadInstruction             ExceptionKind = "BadInstruction"
	ExcStackUnderflow             ExceptionKind = "StackUnderflow"
	ExcOutOfStack                 ExceptionKind = "OutOfStack"
	ExcBuiltIn                    ExceptionKind = "BuiltIn"
	ExcMutableCallInStaticContext ExceptionKind = "MutableCallInStaticContext"
	ExcOutOfBounds                ExceptionKind = "OutOfBounds"
	ExcReverted                   ExceptionKind = "Reverted"
)

// Receipt is the outcome of applying one transaction within a block.
type Receipt struct {
	PostStateRoot   common.Hash
	CumulativeGas   uint64
	LogsBloom       common.Bloom
	Logs            []*Log
	Exception       ExceptionKind
	ContractAddress common.Address // set only for successful Create
}

// Failed reports whether the transaction's execution raised one of the
// execution-class errors in spec §7 (as opposed to being rejected pre-nonce-
// bump at admission, which never produces a receipt at all).
func (r *Receipt) Failed() bool { return r.Exception != ExcNone }
