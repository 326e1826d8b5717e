package vm

import "github.com/citahub/cita-sub002/common"

// memoryGasCost is the total (not incremental) cost of having `words`
// 32-byte words of memory allocated, per the Yellow Paper's quadratic
// memory-expansion formula.
func memoryGasCost(sc *Schedule, wordsN uint64) uint64 {
	return sc.Memory*wordsN + (wordsN*wordsN)/sc.QuadCoeffDiv
}

// memExpansionCost returns the additional gas needed to grow memory from
// its current size up to newSize bytes, or an error if newSize would
// overflow. It does not itself resize memory.
func memExpansionCost(sc *Schedule, mem *Memory, newSize uint64) (uint64, error) {
	if newSize == 0 {
		return 0, nil
	}
	newWords := words(newSize)
	curWords := words(uint64(mem.Len()))
	if newWords <= curWords {
		return 0, nil
	}
	return memoryGasCost(sc, newWords) - memoryGasCost(sc, curWords), nil
}

// u64OrOOB converts a U256 offset/size to uint64, failing with
// ErrOutOfBounds if it does not fit (mirrors a contract that could never
// afford the resulting memory expansion anyway).
func u64OrOOB(v *common.U256) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrOutOfBounds
	}
	return v.Uint64(), nil
}

// memEnd computes offset+size as a byte count, failing on overflow.
func memEnd(offset, size *common.U256) (uint64, error) {
	if size.IsZero() {
		return 0, nil
	}
	o, err := u64OrOOB(offset)
	if err != nil {
		return 0, err
	}
	s, err := u64OrOOB(size)
	if err != nil {
		return 0, err
	}
	end := o + s
	if end < o {
		return 0, ErrOutOfBounds
	}
	return end, nil
}

// memorySizeFunc computes the byte size memory must be resized to before
// an operation executes, by peeking at (not popping) stack arguments.
type memorySizeFunc func(stack *Stack) (uint64, error)

func memSizeOffsetSize(offsetIdx, sizeIdx int) memorySizeFunc {
	return func(stack *Stack) (uint64, error) {
		return memEnd(stack.Back(offsetIdx), stack.Back(sizeIdx))
	}
}

func memSizeWord(offsetIdx int) memorySizeFunc {
	return func(stack *Stack) (uint64, error) {
		o, err := u64OrOOB(stack.Back(offsetIdx))
		if err != nil {
			return 0, err
		}
		return o + 32, nil
	}
}

func memSizeByte(offsetIdx int) memorySizeFunc {
	return func(stack *Stack) (uint64, error) {
		o, err := u64OrOOB(stack.Back(offsetIdx))
		if err != nil {
			return 0, err
		}
		return o + 1, nil
	}
}

// memSizeMax2 is used by CALL-family ops: memory must cover both the
// args region and the return-data region.
func memSizeMax2(argsOffsetIdx, argsSizeIdx, retOffsetIdx, retSizeIdx int) memorySizeFunc {
	return func(stack *Stack) (uint64, error) {
		a, err := memEnd(stack.Back(argsOffsetIdx), stack.Back(argsSizeIdx))
		if err != nil {
			return 0, err
		}
		r, err := memEnd(stack.Back(retOffsetIdx), stack.Back(retSizeIdx))
		if err != nil {
			return 0, err
		}
		if r > a {
			return r, nil
		}
		return a, nil
	}
}

// gasFunc computes an operation's dynamic gas component (beyond memory
// expansion, which the interpreter charges separately via memorySize).
type gasFunc func(in *Interpreter, ctx *callContext) (uint64, error)

func gasSha3(in *Interpreter, ctx *callContext) (uint64, error) {
	size, err := u64OrOOB(ctx.stack.Back(1))
	if err != nil {
		return 0, err
	}
	return in.schedule.Sha3Word * words(size), nil
}

func copyGas(sizeIdx int) gasFunc {
	return func(in *Interpreter, ctx *callContext) (uint64, error) {
		size, err := u64OrOOB(ctx.stack.Back(sizeIdx))
		if err != nil {
			return 0, err
		}
		return in.schedule.Copy * words(size), nil
	}
}

func gasExp(in *Interpreter, ctx *callContext) (uint64, error) {
	exponent := ctx.stack.Back(1)
	if exponent.IsZero() {
		return 0, nil
	}
	byteLen := uint64((exponent.BitLen() + 7) / 8)
	return in.schedule.ExpByte * byteLen, nil
}

func gasLog(n int) gasFunc {
	return func(in *Interpreter, ctx *callContext) (uint64, error) {
		size, err := u64OrOOB(ctx.stack.Back(1))
		if err != nil {
			return 0, err
		}
		return in.schedule.Log + uint64(n)*in.schedule.LogTopic + in.schedule.LogData*size, nil
	}
}

func gasSload(in *Interpreter, ctx *callContext) (uint64, error) {
	return in.schedule.Sload, nil
}

func gasSstore(in *Interpreter, ctx *callContext) (uint64, error) {
	key := common.Hash(ctx.stack.Back(0).Bytes32())
	newVal := common.Hash(ctx.stack.Back(1).Bytes32())
	oldVal, err := in.ext.StorageAt(key)
	if err != nil {
		return 0, err
	}
	zero := common.Hash{}
	switch {
	case oldVal == zero && newVal != zero:
		return in.schedule.SstoreSet, nil
	case oldVal != zero && newVal == zero:
		in.ext.IncSstoreClears()
		return in.schedule.SstoreReset, nil
	default:
		return in.schedule.SstoreReset, nil
	}
}

func gasBalance(in *Interpreter, ctx *callContext) (uint64, error) {
	return in.schedule.Balance, nil
}

func gasExtCode(in *Interpreter, ctx *callContext) (uint64, error) {
	return in.schedule.Ext, nil
}

func gasExtCodeCopy(in *Interpreter, ctx *callContext) (uint64, error) {
	size, err := u64OrOOB(ctx.stack.Back(3))
	if err != nil {
		return 0, err
	}
	return in.schedule.Ext + in.schedule.Copy*words(size), nil
}

func gasSuicide(in *Interpreter, ctx *callContext) (uint64, error) {
	return in.schedule.SuicideRefund, nil
}

// gasCallFamily computes CALL/CALLCODE/DELEGATECALL/STATICCALL dynamic
// gas: base call cost, plus the value-transfer surcharge for CALL/CALLCODE
// with a nonzero value. No new-account surcharge is charged. The stipend
// added on a value transfer is accounted for where the call is
// dispatched, not here.
func gasCallFamily(hasValue bool) gasFunc {
	return func(in *Interpreter, ctx *callContext) (uint64, error) {
		cost := in.schedule.Call
		if hasValue {
			valueIdx := 2
			if !ctx.stack.Back(valueIdx).IsZero() {
				cost += in.schedule.CallValueTransfer
			}
		}
		return cost, nil
	}
}

func gasCreate(in *Interpreter, ctx *callContext) (uint64, error) {
	return in.schedule.Create, nil
}
