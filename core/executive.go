package core

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/crypto"
)

// TxBaseGas is the small fixed charge every non-Store transaction pays
// before its action runs (spec §4.3 step 3), grounded on original_source's
// `base_gas_required = U256::from(100)`.
const TxBaseGas = 100

// TransactOptions toggles the admission checks a block's consensus rules
// may or may not require (spec §4.4 "apply options"), mirroring
// original_source's TransactOptions{check_permission, check_quota} minus
// the tracing flags this module does not implement.
type TransactOptions struct {
	CheckPermission bool
	CheckQuota      bool
}

// Executed is the outcome of a successful Transact call: everything
// finalize computed before a Receipt is built (spec §4.3 "finalize").
type Executed struct {
	GasUsed          uint64
	Refunded         uint64
	Output           []byte
	Logs             []*types.Log
	ContractsCreated []common.Address
	ContractAddress  common.Address
	Exception        types.ExceptionKind
}

// Executive runs one transaction to completion against a shared,
// block-scoped state and gas pool (spec §4.3). A fresh Executive is
// constructed per transaction by BlockProcessor; schedule, registries,
// permission set, env and gas pool are shared across every transaction in
// the block.
type Executive struct {
	state           *state.State
	schedule        *vm.Schedule
	precompiles     *PrecompileRegistry
	natives         *NativeRegistry
	permission      *PermissionManager
	env             *vm.EnvInfo
	blockHash       func(uint64) (common.Hash, error)
	gasPool         *GasPool
	accountGasLimit uint64

	txGasPrice *common.U256
}

// NewExecutive builds an Executive over st. gasPool and accountGasLimit are
// only consulted when TransactOptions.CheckQuota is set; accountGasLimit
// of zero means "no per-account cap".
func NewExecutive(
	st *state.State,
	schedule *vm.Schedule,
	precompiles *PrecompileRegistry,
	natives *NativeRegistry,
	permission *PermissionManager,
	env *vm.EnvInfo,
	blockHash func(uint64) (common.Hash, error),
	gasPool *GasPool,
	accountGasLimit uint64,
) *Executive {
	return &Executive{
		state:           st,
		schedule:        schedule,
		precompiles:     precompiles,
		natives:         natives,
		permission:      permission,
		env:             env,
		blockHash:       blockHash,
		gasPool:         gasPool,
		accountGasLimit: accountGasLimit,
	}
}

// Transact runs tx's full seven-step pipeline (spec §4.3): nonce check,
// permission check, base gas check, quota check, nonce increment, action
// dispatch, finalize. A non-nil error here means tx was rejected before
// its nonce was bumped (no receipt is produced, spec §7 "Admission"); once
// the nonce increments, Transact always returns an Executed (with
// Exception set on a failed/reverted run) UNLESS the run raised an
// Internal error, in which case the transaction's mutations are kept
// (spec §7 "Internal ... keeps the frame's writes") but Transact itself
// still reports a hard error, matching original_source's
// `Err(Internal(msg)) => Err(ExecutionError::Internal(msg))`: an Internal
// failure is never represented as an ordinary receipt.
func (e *Executive) Transact(tx *types.Transaction, opts TransactOptions) (*Executed, error) {
	sender, err := tx.Sender()
	if err != nil {
		return nil, err
	}

	nonce, err := e.state.Nonce(sender)
	if err != nil {
		return nil, err
	}
	if nonceUint64(nonce) != tx.Nonce {
		return nil, ErrInvalidNonce
	}

	if opts.CheckPermission && !sender.IsZero() {
		if tx.Action == types.ActionCreate {
			if !e.permission.CanCreate(sender) {
				return nil, ErrNoContractPermission
			}
		} else if !e.permission.CanSend(sender) {
			return nil, ErrNoTransactionPermission
		}
	}

	if !sender.IsZero() && tx.Action != types.ActionStore && tx.Gas < TxBaseGas {
		return nil, ErrNotEnoughBaseGas
	}

	if opts.CheckQuota && !sender.IsZero() {
		if err := e.gasPool.SubGas(tx.Gas); err != nil {
			return nil, err
		}
		if e.accountGasLimit != 0 && tx.Gas > e.accountGasLimit {
			e.gasPool.AddGas(tx.Gas)
			return nil, ErrAccountGasLimitReached
		}
	}

	// Past this point no outcome rejects the transaction outright: every
	// path below produces an Executed (or the Internal hard-error case).
	if err := e.state.IncNonce(sender); err != nil {
		return nil, err
	}
	// Charge the full gas allowance up front; finalize refunds the unused
	// part to the sender.
	if err := e.state.SubBalance(sender, mulU256(tx.Gas, tx.GasPrice)); err != nil {
		return nil, err
	}

	e.txGasPrice = tx.GasPrice
	substate := NewSubstate()

	var (
		gasLeftPrerefund uint64
		output           []byte
		contractAddr     common.Address
		runErr           error
	)

	switch tx.Action {
	case types.ActionStore:
		gasLeftPrerefund = tx.Gas

	case types.ActionCreate:
		contractAddr = crypto.ContractAddress(sender, tx.Nonce)
		gasLeftPrerefund, output, runErr = e.execCreate(0, sender, false, sender, contractAddr, tx.Value, tx.GasPrice, tx.Gas-TxBaseGas, tx.Data, substate)

	case types.ActionCall:
		code, err := e.state.CodeAt(tx.To)
		if err != nil {
			return nil, err
		}
		gasLeftPrerefund, output, runErr = e.execCall(0, sender, false, sender, tx.To, tx.To, tx.Value, tx.GasPrice, tx.Gas-TxBaseGas, code, tx.Data, substate, types.CallCall)
	}

	if runErr != nil && !vm.IsRevertible(runErr) && runErr != vm.ErrReverted {
		// Internal (or an unclassified I/O error bubbling out of state):
		// the nonce bump and any discarded-checkpoint writes already made
		// are kept, but the transaction itself is not committed to a
		// receipt.
		return nil, runErr
	}

	return e.finalize(sender, tx, substate, gasLeftPrerefund, output, contractAddr, runErr)
}

// finalize computes the refund, sweeps suicides and newly-emptied touched
// accounts, settles gas fees, and builds the Executed record (spec §4.3
// "finalize").
func (e *Executive) finalize(sender common.Address, tx *types.Transaction, substate *Substate, gasLeftPrerefund uint64, output []byte, contractAddr common.Address, runErr error) (*Executed, error) {
	sstoreRefund := substate.SstoreClears * e.schedule.SstoreRefund
	suicideRefund := uint64(len(substate.Suicides)) * e.schedule.SuicideRefund
	refundsBound := sstoreRefund + suicideRefund

	consumedBeforeRefund := tx.Gas - gasLeftPrerefund
	refunded := refundsBound
	if half := consumedBeforeRefund / 2; refunded > half {
		refunded = half
	}
	gasLeft := gasLeftPrerefund + refunded
	gasUsed := tx.Gas - gasLeft

	for addr, refundTo := range substate.Suicides {
		substate.Touch(refundTo)
		if err := e.state.Kill(addr); err != nil {
			return nil, err
		}
	}
	for addr := range substate.Touched {
		empty, err := e.state.IsEmpty(addr)
		if err != nil {
			return nil, err
		}
		if empty {
			if err := e.state.Kill(addr); err != nil {
				return nil, err
			}
		}
	}

	// Refund the sender for unused gas, credit the block's fee recipient
	// for consumed gas (DESIGN.md Open Question #1: original_source leaves
	// both transfers commented out; this module performs them).
	if err := e.state.AddBalance(sender, mulU256(gasLeft, tx.GasPrice)); err != nil {
		return nil, err
	}
	if err := e.state.AddBalance(e.env.Coinbase, mulU256(gasUsed, tx.GasPrice)); err != nil {
		return nil, err
	}

	if runErr == nil {
		return &Executed{
			GasUsed:          gasUsed,
			Refunded:         refunded,
			Output:           output,
			Logs:             substate.Logs,
			ContractsCreated: substate.ContractsCreated,
			ContractAddress:  contractAddr,
			Exception:        types.ExcNone,
		}, nil
	}

	exc := types.ExcReverted
	if runErr != vm.ErrReverted {
		exc = exceptionKindFor(runErr)
	}
	// A failed/reverted run keeps no logs or created-contract records and
	// (per the gas-class branch of enact) has already burned all its gas,
	// so gasUsed/gasLeft above already reflect that; output is kept only
	// for Reverted (spec §4.1 "returns output data and unused gas").
	return &Executed{
		GasUsed:   gasUsed,
		Refunded:  refunded,
		Output:    output,
		Exception: exc,
	}, nil
}

func exceptionKindFor(err error) types.ExceptionKind {
	switch err {
	case vm.ErrOutOfGas:
		return types.ExcOutOfGas
	case vm.ErrBadJumpDestination:
		return types.ExcBadJumpDestination
	case vm.ErrBadInstruction:
		return types.ExcBadInstruction
	case vm.ErrStackUnderflow:
		return types.ExcStackUnderflow
	case vm.ErrOutOfStack:
		return types.ExcOutOfStack
	case vm.ErrBuiltIn:
		return types.ExcBuiltIn
	case vm.ErrMutableCallInStaticContext:
		return types.ExcMutableCallInStaticContext
	case vm.ErrOutOfBounds:
		return types.ExcOutOfBounds
	default:
		return types.ExcOutOfGas
	}
}

func mulU256(a uint64, price *common.U256) *common.U256 {
	return new(common.U256).Mul(common.NewU256(a), price)
}

func nonceUint64(n *common.U256) uint64 {
	if n.IsUint64() {
		return n.Uint64()
	}
	return 0
}

// transferValue moves a real balance transfer between two accounts. Both
// this module and original_source lean on wrapping U256 arithmetic
// throughout (spec §4.1 "wrapping" stack semantics); an insufficient
// sender balance is allowed to wrap rather than being rejected as a
// distinct outcome, since original_source's own value-transfer step for
// CREATE is a dead, commented-out code path with no surviving guard to
// model this module's behavior on.
func (e *Executive) transferValue(from, to common.Address, value *common.U256) error {
	if value == nil || value.IsZero() {
		return nil
	}
	if err := e.state.SubBalance(from, value); err != nil {
		return err
	}
	return e.state.AddBalance(to, value)
}

// enact classifies a frame's VM outcome and resolves its checkpoint (spec
// §4.3 "enact_result"): success discards the checkpoint and accrues the
// child substate into the parent; Reverted discards the frame's gas usage
// but reverts state while keeping gasLeft/output; every other taxonomy
// error reverts the checkpoint and burns all the frame's gas; anything
// else (Internal, or an unclassified state I/O error) discards the
// checkpoint, keeping the frame's writes, but is returned to the caller
// to propagate as a hard failure.
func (e *Executive) enact(vmErr error, parentSubstate, childSubstate *Substate, gasLeft uint64, output []byte) (uint64, []byte, error) {
	switch {
	case vmErr == nil:
		e.state.DiscardCheckpoint()
		parentSubstate.Accrue(childSubstate)
		return gasLeft, output, nil
	case vmErr == vm.ErrReverted:
		e.state.RevertToCheckpoint()
		return gasLeft, output, vm.ErrReverted
	case vm.IsRevertible(vmErr):
		e.state.RevertToCheckpoint()
		return 0, nil, vmErr
	default:
		e.state.DiscardCheckpoint()
		parentSubstate.Accrue(childSubstate)
		return gasLeft, output, vmErr
	}
}

// execCreate runs a CREATE to completion: checkpoint, value transfer,
// account priming, init-code execution, code-deposit charge, and
// enact/commit. It is shared by the top-level Create action in Transact
// and by doCreate's nested CREATE opcode handling.
func (e *Executive) execCreate(depth int, origin common.Address, static bool, sender, newAddr common.Address, value, gasPrice *common.U256, gas uint64, code []byte, parentSubstate *Substate) (uint64, []byte, error) {
	e.state.Checkpoint()

	if err := e.transferValue(sender, newAddr, value); err != nil {
		e.state.RevertToCheckpoint()
		return 0, nil, err
	}
	if err := e.state.NewContract(newAddr, common.ZeroU256()); err != nil {
		e.state.RevertToCheckpoint()
		return 0, nil, err
	}

	childSubstate := NewSubstate()
	f := &frame{exec: e, self: newAddr, origin: origin, depth: depth, static: static, substate: childSubstate}
	contract := vm.NewContract(sender, newAddr, newAddr, origin, value, gasPrice, gas, code, crypto.Keccak256Hash(code), nil, static)
	interp := vm.NewInterpreter(f, depth)

	out, vmErr := interp.Run(contract)
	if vmErr == nil {
		depositCost := e.schedule.CodeDeposit * uint64(len(out))
		if contract.Gas < depositCost {
			vmErr = vm.ErrOutOfGas
		} else {
			contract.Gas -= depositCost
		}
	}

	gasLeft, output, err := e.enact(vmErr, parentSubstate, childSubstate, contract.Gas, out)
	if err != nil {
		return gasLeft, output, err
	}
	if err := e.state.SetCode(newAddr, out); err != nil {
		return 0, nil, err
	}
	parentSubstate.AddContractCreated(newAddr)
	return gasLeft, output, nil
}

// execCall runs a CALL/CALLCODE/DELEGATECALL/STATICCALL to completion: a
// native-contract or precompile match short-circuits before any
// checkpoint work beyond the call itself; a plain call to a no-code
// address returns all its gas without ever building an Interpreter (spec
// §4.3 supplemented by original_source's `params.code.is_none()` branch).
func (e *Executive) execCall(depth int, origin common.Address, static bool, sender, receiver, codeAddress common.Address, value, gasPrice *common.U256, gas uint64, code, input []byte, parentSubstate *Substate, callType types.CallType) (uint64, []byte, error) {
	e.state.Checkpoint()

	if callType == types.CallCall || callType == types.CallCallCode {
		if err := e.transferValue(sender, receiver, value); err != nil {
			e.state.RevertToCheckpoint()
			return 0, nil, err
		}
	}

	if native, ok := e.natives.Lookup(codeAddress); ok {
		params := &types.ActionParams{
			Sender: sender, Origin: origin, CodeAddress: codeAddress, Address: receiver,
			Gas: gas, GasPrice: gasPrice, Value: types.ActionValue{Amount: value}, Data: input, CallType: callType,
		}
		cost := native.GasCost(params)
		if cost > gas {
			e.state.RevertToCheckpoint()
			return 0, nil, vm.ErrOutOfGas
		}
		out, err := native.Run(params)
		if err != nil {
			e.state.RevertToCheckpoint()
			return 0, nil, vm.ErrBuiltIn
		}
		e.state.DiscardCheckpoint()
		return gas - cost, out, nil
	}

	if info, ok := e.precompiles.Lookup(codeAddress); ok {
		cost := info.GasCost(input)
		if cost > gas {
			e.state.RevertToCheckpoint()
			return 0, nil, vm.ErrOutOfGas
		}
		out, err := info.Run(input)
		if err != nil {
			e.state.RevertToCheckpoint()
			return 0, nil, vm.ErrBuiltIn
		}
		e.state.DiscardCheckpoint()
		return gas - cost, out, nil
	}

	if len(code) == 0 {
		e.state.DiscardCheckpoint()
		return gas, nil, nil
	}

	childSubstate := NewSubstate()
	f := &frame{exec: e, self: receiver, origin: origin, depth: depth, static: static, substate: childSubstate}
	contract := vm.NewContract(sender, receiver, codeAddress, origin, value, gasPrice, gas, code, crypto.Keccak256Hash(code), input, static)
	interp := vm.NewInterpreter(f, depth)

	out, vmErr := interp.Run(contract)
	return e.enact(vmErr, parentSubstate, childSubstate, contract.Gas, out)
}

// doCreate implements Externalities.Create for a nested CREATE opcode
// (spec §4.2): it resolves the new address from the creating account's
// current nonce (contract-level CREATE never bumps that nonce in this
// model, matching original_source's `nonce_offset = 0`) and converts
// execCreate's error classification into a ContractCreateResult so the
// parent frame's own execution continues rather than propagating an
// ordinary gas-class failure.
func (e *Executive) doCreate(f *frame, gas uint64, value *common.U256, code []byte) (vm.ContractCreateResult, error) {
	childDepth := f.depth + 1
	if childDepth >= e.schedule.MaxDepth {
		return vm.ContractCreateResult{Kind: vm.CreateFailed}, nil
	}

	nonce, err := e.state.Nonce(f.self)
	if err != nil {
		return vm.ContractCreateResult{}, err
	}
	newAddr := crypto.ContractAddress(f.self, nonceUint64(nonce))

	gasLeft, output, err := e.execCreate(childDepth, f.origin, f.static, f.self, newAddr, value, e.txGasPrice, gas, code, f.substate)
	switch {
	case err == nil:
		return vm.ContractCreateResult{Kind: vm.Created, Address: newAddr, GasLeft: gasLeft}, nil
	case err == vm.ErrReverted:
		return vm.ContractCreateResult{Kind: vm.CreateReverted, GasLeft: gasLeft, Data: output}, nil
	case vm.IsRevertible(err):
		return vm.ContractCreateResult{Kind: vm.CreateFailed}, nil
	default:
		return vm.ContractCreateResult{}, err
	}
}

// doCall implements Externalities.Call for a nested call of any CallType
// (spec §4.2), converting execCall's error classification into a
// MessageCallResult the same way doCreate does for CREATE.
func (e *Executive) doCall(f *frame, gas uint64, sender, receiver common.Address, value *common.U256, input []byte, codeAddress common.Address, callType types.CallType) (vm.MessageCallResult, error) {
	childDepth := f.depth + 1
	if childDepth >= e.schedule.MaxDepth {
		return vm.MessageCallResult{Kind: vm.CallFailed}, nil
	}

	childStatic := f.static || callType == types.CallStaticCall

	code, err := e.state.CodeAt(codeAddress)
	if err != nil {
		return vm.MessageCallResult{}, err
	}

	gasLeft, output, err := e.execCall(childDepth, f.origin, childStatic, sender, receiver, codeAddress, value, e.txGasPrice, gas, code, input, f.substate, callType)
	switch {
	case err == nil:
		return vm.MessageCallResult{Kind: vm.CallSuccess, GasLeft: gasLeft, Data: output}, nil
	case err == vm.ErrReverted:
		return vm.MessageCallResult{Kind: vm.CallReverted, GasLeft: gasLeft, Data: output}, nil
	case vm.IsRevertible(err):
		return vm.MessageCallResult{Kind: vm.CallFailed}, nil
	default:
		return vm.MessageCallResult{}, err
	}
}
