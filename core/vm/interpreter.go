package vm

import "github.com/citahub/cita-sub002/common"

// workerSpawnDepth is the call-depth interval at which a frame is run on
// a freshly spawned goroutine to reset native stack usage (spec §9
// "worker spawn for stack reset"): a frame whose depth is a nonzero
// multiple of it spawns a worker, and every other frame runs on its
// caller's goroutine directly.
const workerSpawnDepth = 64

// callContext bundles one frame's mutable execution state: the frame's
// own stack and memory, its code/gas register (Contract), and the
// program counter the dispatch loop advances.
type callContext struct {
	contract   *Contract
	stack      *Stack
	memory     *Memory
	pc         uint64
	returnData []byte // output of the most recent CALL/CREATE sub-frame
	memCost    uint64 // gas already charged for the current memory size
}

// Interpreter runs Contract code against an Externalities capability. It
// is stateless between Run calls: all mutable frame state lives in the
// callContext each Run creates.
type Interpreter struct {
	ext      Externalities
	schedule *Schedule
	jt       *jumpTable
	depth    int
}

// NewInterpreter builds an interpreter bound to ext for the current
// frame; depth is the caller's call-stack depth (0 for a top-level
// transaction).
func NewInterpreter(ext Externalities, depth int) *Interpreter {
	sc := ext.Schedule()
	return &Interpreter{
		ext:      ext,
		schedule: sc,
		jt:       newJumpTable(sc),
		depth:    depth,
	}
}

// Run executes contract's code against input, returning the call's
// output bytes (RETURN/REVERT data) and an error. A nil error with
// non-nil output means a normal RETURN (or STOP, with empty output); a
// non-nil error in the §4.1 failure taxonomy means the frame's gas was
// consumed and its checkpoint must be reverted by the caller, except for
// ErrReverted (output and remaining gas are preserved) and *InternalError
// (writes are kept; checkpoint is discarded, not reverted).
func (in *Interpreter) Run(contract *Contract) ([]byte, error) {
	if in.depth >= in.schedule.MaxDepth {
		return nil, ErrOutOfStack
	}
	if in.depth > 0 && in.depth%workerSpawnDepth == 0 {
		return in.runOnWorker(contract)
	}
	return in.run(contract)
}

// runOnWorker executes contract on a fresh goroutine, resetting the
// worker's native call stack, and blocks until it returns (spec §9).
func (in *Interpreter) runOnWorker(contract *Contract) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := in.run(contract)
		done <- result{out, err}
	}()
	r := <-done
	return r.out, r.err
}

func (in *Interpreter) run(contract *Contract) ([]byte, error) {
	ctx := &callContext{
		contract: contract,
		stack:    NewStack(),
		memory:   NewMemory(),
	}

	for {
		op := contract.GetOp(ctx.pc)
		operation := in.jt[op]
		if operation == nil {
			return nil, ErrBadInstruction
		}

		if ctx.stack.Len() < operation.minStack {
			return nil, ErrStackUnderflow
		}
		if ctx.stack.Len()+operation.stackDelta > stackLimit {
			return nil, ErrOutOfStack
		}

		gasCost := operation.constantGas
		if operation.memorySize != nil {
			size, err := operation.memorySize(ctx.stack)
			if err != nil {
				return nil, err
			}
			expansion, err := memExpansionCost(in.schedule, ctx.memory, size)
			if err != nil {
				return nil, err
			}
			gasCost += expansion
			if !contract.UseGas(gasCost) {
				return nil, ErrOutOfGas
			}
			ctx.memory.Resize(size)
			if operation.dynamicGas != nil {
				extra, err := operation.dynamicGas(in, ctx)
				if err != nil {
					return nil, err
				}
				if !contract.UseGas(extra) {
					return nil, ErrOutOfGas
				}
			}
		} else {
			if operation.dynamicGas != nil {
				extra, err := operation.dynamicGas(in, ctx)
				if err != nil {
					return nil, err
				}
				gasCost += extra
			}
			if !contract.UseGas(gasCost) {
				return nil, ErrOutOfGas
			}
		}

		out, err := operation.execute(ctx, in)
		if operation.halts {
			return out, err
		}
		if err != nil {
			return nil, err
		}
		ctx.pc++
	}
}

// env is a small helper used by environment opcodes.
func (in *Interpreter) env() *EnvInfo { return in.ext.EnvInfo() }

// pushHash pushes a Hash onto the stack as a big-endian U256 word.
func pushHash(ctx *callContext, h common.Hash) {
	var u common.U256
	ctx.stack.Push(u.SetBytes32(h[:]))
}

// pushAddress pushes an Address onto the stack, zero-extended to 256 bits.
func pushAddress(ctx *callContext, a common.Address) {
	var u common.U256
	ctx.stack.Push(u.SetBytes20(a[:]))
}

// pushBool pushes 1 for true, 0 for false.
func pushBool(ctx *callContext, v bool) {
	if v {
		ctx.stack.Push(common.NewU256(1))
	} else {
		ctx.stack.Push(common.ZeroU256())
	}
}
