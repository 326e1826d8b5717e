package vm

import (
	"sync"

	"github.com/citahub/cita-sub002/common"
)

// jumpdestCache caches JUMPDEST-position bitmaps per code hash, shared
// across frames so repeated calls into the same contract only analyze
// its code once (spec §4.1: "cached per code hash").
var jumpdestCache sync.Map // common.Hash -> []bool

// Contract is one interpreter frame's execution context: the code being
// run, its input, and the gas register the interpreter drains as it
// executes (spec §4.1 registers).
type Contract struct {
	CallerAddress common.Address
	Address       common.Address
	CodeAddress   common.Address
	Origin        common.Address
	Value         *common.U256
	GasPrice      *common.U256

	Code     []byte
	CodeHash common.Hash
	Input    []byte
	Gas      uint64

	Static bool
}

// NewContract builds a frame for code at codeAddress executing as if it
// were addr (addr == codeAddress except under DELEGATECALL/CALLCODE).
func NewContract(caller, addr, codeAddress, origin common.Address, value, gasPrice *common.U256, gas uint64, code []byte, codeHash common.Hash, input []byte, static bool) *Contract {
	return &Contract{
		CallerAddress: caller,
		Address:       addr,
		CodeAddress:   codeAddress,
		Origin:        origin,
		Value:         value,
		GasPrice:      gasPrice,
		Code:          code,
		CodeHash:      codeHash,
		Input:         input,
		Gas:           gas,
		Static:        static,
	}
}

// GetOp returns the opcode at position n, or STOP past the end of code.
func (c *Contract) GetOp(n uint64) OpCode {
	if n < uint64(len(c.Code)) {
		return OpCode(c.Code[n])
	}
	return STOP
}

// UseGas attempts to consume gas; reports false (and leaves Gas
// unchanged) on insufficient gas.
func (c *Contract) UseGas(gas uint64) bool {
	if c.Gas < gas {
		return false
	}
	c.Gas -= gas
	return true
}

// ValidJumpdest reports whether dest is a JUMPDEST opcode position that
// is not inside PUSH immediate data.
func (c *Contract) ValidJumpdest(dest *common.U256) bool {
	if !dest.IsUint64() {
		return false
	}
	udest := dest.Uint64()
	if udest >= uint64(len(c.Code)) {
		return false
	}
	if OpCode(c.Code[udest]) != JUMPDEST {
		return false
	}
	return c.jumpdestBitmap()[udest]
}

// jumpdestBitmap returns (computing and caching on first use) the set of
// code offsets that are real JUMPDEST opcodes, not PUSH data bytes.
func (c *Contract) jumpdestBitmap() []bool {
	if cached, ok := jumpdestCache.Load(c.CodeHash); ok {
		return cached.([]bool)
	}
	bitmap := make([]bool, len(c.Code))
	for i := 0; i < len(c.Code); i++ {
		op := OpCode(c.Code[i])
		if op == JUMPDEST {
			bitmap[i] = true
		}
		if op.IsPush() {
			i += op.PushSize()
		}
	}
	jumpdestCache.Store(c.CodeHash, bitmap)
	return bitmap
}
