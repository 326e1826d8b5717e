package core

import "errors"

// Transaction-admission errors (spec §7 "Transaction-admission" list).
// Rejected before the nonce bump: state is left untouched and the error is
// reported straight back to the submitter rather than recorded in a
// receipt.
var (
	ErrInvalidNonce            = errors.New("core: invalid nonce")
	ErrNoContractPermission    = errors.New("core: sender not permitted to create contracts")
	ErrNoTransactionPermission = errors.New("core: sender not permitted to send transactions")
	ErrNotEnoughBaseGas        = errors.New("core: not enough base gas")
	ErrAccountGasLimitReached  = errors.New("core: account gas limit reached")
)
