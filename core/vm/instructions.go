package vm

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/crypto"
)

func opStop(ctx *callContext, in *Interpreter) ([]byte, error) { return []byte{}, nil }

func binOp(ctx *callContext, f func(z, x, y *common.U256) *common.U256) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	f(y, x, y)
	return nil, nil
}

func opAdd(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Add) }
func opSub(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Sub) }
func opMul(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Mul) }
func opDiv(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Div) }
func opSdiv(ctx *callContext, in *Interpreter) ([]byte, error) {
	return binOp(ctx, (*common.U256).SDiv)
}
func opMod(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Mod) }
func opSmod(ctx *callContext, in *Interpreter) ([]byte, error) {
	return binOp(ctx, (*common.U256).SMod)
}
func opAnd(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).And) }
func opOr(ctx *callContext, in *Interpreter) ([]byte, error)  { return binOp(ctx, (*common.U256).Or) }
func opXor(ctx *callContext, in *Interpreter) ([]byte, error) { return binOp(ctx, (*common.U256).Xor) }

func opAddmod(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y, m := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Peek()
	m.AddMod(x, y, m)
	return nil, nil
}

func opMulmod(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y, m := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Peek()
	m.MulMod(x, y, m)
	return nil, nil
}

func opExp(ctx *callContext, in *Interpreter) ([]byte, error) {
	base, exponent := ctx.stack.Pop(), ctx.stack.Peek()
	exponent.Exp(base, exponent)
	return nil, nil
}

func opSignExtend(ctx *callContext, in *Interpreter) ([]byte, error) {
	back, num := ctx.stack.Pop(), ctx.stack.Peek()
	num.ExtendSign(num, back)
	return nil, nil
}

func opNot(ctx *callContext, in *Interpreter) ([]byte, error) {
	x := ctx.stack.Peek()
	x.Not(x)
	return nil, nil
}

func setBool(z *common.U256, v bool) {
	z.Clear()
	if v {
		z.SetOne()
	}
}

func opLt(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	setBool(y, x.Lt(y))
	return nil, nil
}

func opGt(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	setBool(y, x.Gt(y))
	return nil, nil
}

func opSlt(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	setBool(y, x.Slt(y))
	return nil, nil
}

func opSgt(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	setBool(y, x.Sgt(y))
	return nil, nil
}

func opEq(ctx *callContext, in *Interpreter) ([]byte, error) {
	x, y := ctx.stack.Pop(), ctx.stack.Peek()
	setBool(y, x.Eq(y))
	return nil, nil
}

func opIsZero(ctx *callContext, in *Interpreter) ([]byte, error) {
	x := ctx.stack.Peek()
	setBool(x, x.IsZero())
	return nil, nil
}

func opByte(ctx *callContext, in *Interpreter) ([]byte, error) {
	th, val := ctx.stack.Pop(), ctx.stack.Peek()
	val.Byte(th)
	return nil, nil
}

// shiftAmount clamps a shift-count operand to [0,256]; shifts of 256 or
// more always yield an all-zero (or all-one, for SAR of a negative value)
// result, which Lsh/Rsh/SRsh already produce for n==256.
func shiftAmount(v *common.U256) uint {
	if !v.IsUint64() {
		return 256
	}
	n := v.Uint64()
	if n > 256 {
		return 256
	}
	return uint(n)
}

func opShl(ctx *callContext, in *Interpreter) ([]byte, error) {
	shift, val := ctx.stack.Pop(), ctx.stack.Peek()
	val.Lsh(val, shiftAmount(shift))
	return nil, nil
}

func opShr(ctx *callContext, in *Interpreter) ([]byte, error) {
	shift, val := ctx.stack.Pop(), ctx.stack.Peek()
	val.Rsh(val, shiftAmount(shift))
	return nil, nil
}

func opSar(ctx *callContext, in *Interpreter) ([]byte, error) {
	shift, val := ctx.stack.Pop(), ctx.stack.Peek()
	val.SRsh(val, shiftAmount(shift))
	return nil, nil
}

func opSha3(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset, size := ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	s, _ := u64OrOOB(size)
	data := ctx.memory.Get(o, s)
	pushHash(ctx, crypto.Keccak256Hash(data))
	return nil, nil
}

func opAddress(ctx *callContext, in *Interpreter) ([]byte, error) {
	pushAddress(ctx, ctx.contract.Address)
	return nil, nil
}

func opBalance(ctx *callContext, in *Interpreter) ([]byte, error) {
	addrWord := ctx.stack.Peek()
	addr := common.Address(addrWord.Bytes20())
	bal, err := in.ext.Balance(addr)
	if err != nil {
		return nil, err
	}
	addrWord.Set(bal)
	return nil, nil
}

func opOrigin(ctx *callContext, in *Interpreter) ([]byte, error) {
	pushAddress(ctx, ctx.contract.Origin)
	return nil, nil
}

func opCaller(ctx *callContext, in *Interpreter) ([]byte, error) {
	pushAddress(ctx, ctx.contract.CallerAddress)
	return nil, nil
}

func opCallValue(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(new(common.U256).Set(ctx.contract.Value))
	return nil, nil
}

func opCallDataLoad(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset := ctx.stack.Peek()
	var word [32]byte
	if o, err := u64OrOOB(offset); err == nil {
		for i := 0; i < 32; i++ {
			if o+uint64(i) < uint64(len(ctx.contract.Input)) {
				word[i] = ctx.contract.Input[o+uint64(i)]
			}
		}
	}
	offset.SetBytes32(word[:])
	return nil, nil
}

func opCallDataSize(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(uint64(len(ctx.contract.Input))))
	return nil, nil
}

func opCallDataCopy(ctx *callContext, in *Interpreter) ([]byte, error) {
	destOffset, offset, size := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop()
	copyToMemory(ctx, destOffset, offset, size, ctx.contract.Input)
	return nil, nil
}

func opCodeSize(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(uint64(len(ctx.contract.Code))))
	return nil, nil
}

func opCodeCopy(ctx *callContext, in *Interpreter) ([]byte, error) {
	destOffset, offset, size := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop()
	copyToMemory(ctx, destOffset, offset, size, ctx.contract.Code)
	return nil, nil
}

func opGasPrice(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(new(common.U256).Set(ctx.contract.GasPrice))
	return nil, nil
}

func opExtCodeSize(ctx *callContext, in *Interpreter) ([]byte, error) {
	addrWord := ctx.stack.Peek()
	addr := common.Address(addrWord.Bytes20())
	size, err := in.ext.ExtCodeSize(addr)
	if err != nil {
		return nil, err
	}
	addrWord.SetUint64(uint64(size))
	return nil, nil
}

func opExtCodeCopy(ctx *callContext, in *Interpreter) ([]byte, error) {
	addrWord, destOffset, offset, size := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop()
	addr := common.Address(addrWord.Bytes20())
	code, err := in.ext.ExtCode(addr)
	if err != nil {
		return nil, err
	}
	copyToMemory(ctx, destOffset, offset, size, code)
	return nil, nil
}

func opReturnDataSize(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(uint64(len(ctx.returnData))))
	return nil, nil
}

func opReturnDataCopy(ctx *callContext, in *Interpreter) ([]byte, error) {
	destOffset, offset, size := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop()
	o, errO := u64OrOOB(offset)
	s, errS := u64OrOOB(size)
	if errO != nil || errS != nil || o+s > uint64(len(ctx.returnData)) {
		return nil, ErrOutOfBounds
	}
	copyToMemory(ctx, destOffset, offset, size, ctx.returnData)
	return nil, nil
}

// copyToMemory implements the CALLDATACOPY/CODECOPY/EXTCODECOPY/
// RETURNDATACOPY family: copy size bytes from src[offset:] into memory at
// destOffset, zero-filling past the end of src.
func copyToMemory(ctx *callContext, destOffset, offset, size *common.U256, src []byte) {
	d, _ := u64OrOOB(destOffset)
	o, _ := u64OrOOB(offset)
	s, _ := u64OrOOB(size)
	if s == 0 {
		return
	}
	buf := make([]byte, s)
	for i := uint64(0); i < s; i++ {
		if o+i < uint64(len(src)) {
			buf[i] = src[o+i]
		}
	}
	ctx.memory.Set(d, s, buf)
}

func opBlockHash(ctx *callContext, in *Interpreter) ([]byte, error) {
	numWord := ctx.stack.Peek()
	h, err := in.ext.BlockHash(numWord.Uint64())
	if err != nil {
		return nil, err
	}
	numWord.SetBytes32(h[:])
	return nil, nil
}

func opCoinbase(ctx *callContext, in *Interpreter) ([]byte, error) {
	pushAddress(ctx, in.env().Coinbase)
	return nil, nil
}

func opTimestamp(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(in.env().Timestamp))
	return nil, nil
}

func opNumber(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(in.env().Number))
	return nil, nil
}

func opDifficulty(ctx *callContext, in *Interpreter) ([]byte, error) {
	d := in.env().Difficulty
	if d == nil {
		d = common.ZeroU256()
	}
	ctx.stack.Push(new(common.U256).Set(d))
	return nil, nil
}

func opGasLimit(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(in.env().GasLimit))
	return nil, nil
}

func opPop(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Pop()
	return nil, nil
}

func opMload(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset := ctx.stack.Peek()
	o, _ := u64OrOOB(offset)
	offset.SetBytes32(ctx.memory.GetPtr(o, 32))
	return nil, nil
}

func opMstore(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset, val := ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	ctx.memory.Set32(o, val)
	return nil, nil
}

func opMstore8(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset, val := ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	ctx.memory.Set(o, 1, []byte{byte(val.Uint64())})
	return nil, nil
}

func opSload(ctx *callContext, in *Interpreter) ([]byte, error) {
	key := ctx.stack.Peek()
	v, err := in.ext.StorageAt(common.Hash(key.Bytes32()))
	if err != nil {
		return nil, err
	}
	key.SetBytes32(v[:])
	return nil, nil
}

func opSstore(ctx *callContext, in *Interpreter) ([]byte, error) {
	if in.ext.IsStatic() {
		return nil, ErrMutableCallInStaticContext
	}
	key, val := ctx.stack.Pop(), ctx.stack.Pop()
	return nil, in.ext.SetStorage(common.Hash(key.Bytes32()), common.Hash(val.Bytes32()))
}

func opJump(ctx *callContext, in *Interpreter) ([]byte, error) {
	dest := ctx.stack.Pop()
	if !ctx.contract.ValidJumpdest(dest) {
		return nil, ErrBadJumpDestination
	}
	ctx.pc = dest.Uint64() - 1 // loop does pc++ after execute
	return nil, nil
}

func opJumpi(ctx *callContext, in *Interpreter) ([]byte, error) {
	dest, cond := ctx.stack.Pop(), ctx.stack.Pop()
	if cond.IsZero() {
		return nil, nil
	}
	if !ctx.contract.ValidJumpdest(dest) {
		return nil, ErrBadJumpDestination
	}
	ctx.pc = dest.Uint64() - 1
	return nil, nil
}

func opPc(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(ctx.pc))
	return nil, nil
}

func opMsize(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(uint64(ctx.memory.Len())))
	return nil, nil
}

func opGas(ctx *callContext, in *Interpreter) ([]byte, error) {
	ctx.stack.Push(common.NewU256(ctx.contract.Gas))
	return nil, nil
}

func opJumpdest(ctx *callContext, in *Interpreter) ([]byte, error) { return nil, nil }

func makePush(size int) executionFunc {
	return func(ctx *callContext, in *Interpreter) ([]byte, error) {
		var buf [32]byte
		start := ctx.pc + 1
		for i := 0; i < size; i++ {
			idx := start + uint64(i)
			if idx < uint64(len(ctx.contract.Code)) {
				buf[32-size+i] = ctx.contract.Code[idx]
			}
		}
		var u common.U256
		ctx.stack.Push(u.SetBytes32(buf[:]))
		ctx.pc += uint64(size)
		return nil, nil
	}
}

func makeDup(n int) executionFunc {
	return func(ctx *callContext, in *Interpreter) ([]byte, error) {
		ctx.stack.Dup(n)
		return nil, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(ctx *callContext, in *Interpreter) ([]byte, error) {
		ctx.stack.Swap(n)
		return nil, nil
	}
}

func makeLog(n int) executionFunc {
	return func(ctx *callContext, in *Interpreter) ([]byte, error) {
		if in.ext.IsStatic() {
			return nil, ErrMutableCallInStaticContext
		}
		offset, size := ctx.stack.Pop(), ctx.stack.Pop()
		o, _ := u64OrOOB(offset)
		s, _ := u64OrOOB(size)
		data := ctx.memory.Get(o, s)
		topics := make([]common.Hash, n)
		for i := 0; i < n; i++ {
			topics[i] = common.Hash(ctx.stack.Pop().Bytes32())
		}
		return nil, in.ext.Log(topics, data)
	}
}

func opCreate(ctx *callContext, in *Interpreter) ([]byte, error) {
	if in.ext.IsStatic() {
		return nil, ErrMutableCallInStaticContext
	}
	value, offset, size := ctx.stack.Pop(), ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	s, _ := u64OrOOB(size)
	code := ctx.memory.Get(o, s)

	result, err := in.ext.Create(ctx.contract.Gas, value, code)
	if err != nil {
		return nil, err
	}
	switch result.Kind {
	case Created:
		ctx.contract.Gas = result.GasLeft
		pushAddress(ctx, result.Address)
		ctx.returnData = nil
	case CreateReverted:
		ctx.contract.Gas = result.GasLeft
		ctx.stack.Push(common.ZeroU256())
		ctx.returnData = result.Data
	default:
		ctx.contract.Gas = 0
		ctx.stack.Push(common.ZeroU256())
		ctx.returnData = nil
	}
	return nil, nil
}

// callCommon implements CALL/CALLCODE/DELEGATECALL/STATICCALL. hasValue
// distinguishes the two stack shapes: CALL and CALLCODE carry an explicit
// value operand, DELEGATECALL and STATICCALL do not.
func callCommon(ctx *callContext, in *Interpreter, callType types.CallType, hasValue bool) ([]byte, error) {
	gasWord := ctx.stack.Pop()
	addrWord := ctx.stack.Pop()
	var value *common.U256
	if hasValue {
		value = ctx.stack.Pop()
	} else {
		value = common.ZeroU256()
	}
	argsOffset, argsSize := ctx.stack.Pop(), ctx.stack.Pop()
	retOffset, retSize := ctx.stack.Pop(), ctx.stack.Pop()

	if in.ext.IsStatic() && hasValue && !value.IsZero() {
		return nil, ErrMutableCallInStaticContext
	}

	addr := common.Address(addrWord.Bytes20())
	ao, _ := u64OrOOB(argsOffset)
	as, _ := u64OrOOB(argsSize)
	input := ctx.memory.Get(ao, as)

	gasCap := ctx.contract.Gas
	gas := gasCap
	if gasWord.IsUint64() && gasWord.Uint64() < gasCap {
		gas = gasWord.Uint64()
	}
	ctx.contract.Gas -= gas
	if hasValue && !value.IsZero() {
		gas += in.schedule.CallStipend
	}

	sender := ctx.contract.Address
	receiver := addr
	codeAddress := addr
	switch callType {
	case types.CallDelegateCall:
		sender = ctx.contract.CallerAddress
		receiver = ctx.contract.Address
		value = ctx.contract.Value
	case types.CallCallCode:
		receiver = ctx.contract.Address
	}

	result, err := in.ext.Call(gas, sender, receiver, value, input, codeAddress, callType)
	if err != nil {
		return nil, err
	}

	ro, _ := u64OrOOB(retOffset)
	rs, _ := u64OrOOB(retSize)

	switch result.Kind {
	case CallSuccess:
		ctx.contract.Gas += result.GasLeft
		copyReturn(ctx, ro, rs, result.Data)
		ctx.returnData = result.Data
		pushBool(ctx, true)
	case CallReverted:
		ctx.contract.Gas += result.GasLeft
		copyReturn(ctx, ro, rs, result.Data)
		ctx.returnData = result.Data
		pushBool(ctx, false)
	default:
		ctx.returnData = nil
		pushBool(ctx, false)
	}
	return nil, nil
}

func copyReturn(ctx *callContext, retOffset, retSize uint64, data []byte) {
	if retSize == 0 {
		return
	}
	n := retSize
	if uint64(len(data)) < n {
		n = uint64(len(data))
	}
	buf := make([]byte, retSize)
	copy(buf, data[:n])
	ctx.memory.Set(retOffset, retSize, buf)
}

func opCall(ctx *callContext, in *Interpreter) ([]byte, error) {
	return callCommon(ctx, in, types.CallCall, true)
}

func opCallCode(ctx *callContext, in *Interpreter) ([]byte, error) {
	return callCommon(ctx, in, types.CallCallCode, true)
}

func opDelegateCall(ctx *callContext, in *Interpreter) ([]byte, error) {
	return callCommon(ctx, in, types.CallDelegateCall, false)
}

func opStaticCall(ctx *callContext, in *Interpreter) ([]byte, error) {
	return callCommon(ctx, in, types.CallStaticCall, false)
}

func opReturn(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset, size := ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	s, _ := u64OrOOB(size)
	return ctx.memory.Get(o, s), nil
}

func opRevert(ctx *callContext, in *Interpreter) ([]byte, error) {
	offset, size := ctx.stack.Pop(), ctx.stack.Pop()
	o, _ := u64OrOOB(offset)
	s, _ := u64OrOOB(size)
	return ctx.memory.Get(o, s), ErrReverted
}

func opSuicide(ctx *callContext, in *Interpreter) ([]byte, error) {
	refundWord := ctx.stack.Pop()
	refundAddr := common.Address(refundWord.Bytes20())
	return nil, in.ext.Suicide(refundAddr)
}
