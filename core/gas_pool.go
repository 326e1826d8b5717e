package core

import "errors"

// ErrBlockGasLimitReached is the quota-check rejection when a transaction's
// gas would push the block's cumulative usage past its limit (spec §4.3
// step 4).
var ErrBlockGasLimitReached = errors.New("core: block gas limit reached")

// GasPool tracks the quota still available to a block's remaining
// transactions.
type GasPool uint64

// AddGas credits amount back to the pool (used to seed it with the
// block's quota_limit).
func (gp *GasPool) AddGas(amount uint64) *GasPool {
	*gp += GasPool(amount)
	return gp
}

// SubGas debits amount from the pool, rejecting with
// ErrBlockGasLimitReached if the pool cannot cover it.
func (gp *GasPool) SubGas(amount uint64) error {
	if uint64(*gp) < amount {
		return ErrBlockGasLimitReached
	}
	*gp -= GasPool(amount)
	return nil
}

// Gas returns the quota remaining in the pool.
func (gp *GasPool) Gas() uint64 {
	return uint64(*gp)
}
