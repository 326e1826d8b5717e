package common

import (
	"math/big"

	"github.com/holiman/uint256"
)

// U256 is a 256-bit unsigned integer with wrapping arithmetic, used by the
// account model (nonce, balance) and the VM operand stack. It is a thin
// alias over holiman/uint256.Int so that gas and stack arithmetic gets
// allocation-free wrapping add/sub/mul without reimplementing bignum math.
type U256 = uint256.Int

// NewU256 returns a U256 initialized to v.
func NewU256(v uint64) *U256 { return uint256.NewInt(v) }

// U256FromBig converts a *big.Int into a U256, wrapping modulo 2^256.
func U256FromBig(b *big.Int) *U256 {
	u, _ := uint256.FromBig(b)
	return u
}

// ZeroU256 returns a freshly allocated zero value; callers must not share
// the pointer across accounts since U256 arithmetic mutates the receiver.
func ZeroU256() *U256 { return new(U256) }
