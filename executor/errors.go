package executor

import "errors"

// Sentinel errors the command handlers return, named after the condition
// rather than the caller (spec §7 "Admission"/"Control").
var (
	// ErrUnknownBlock is returned when a BlockTag resolves to a height or
	// hash the executor has no header for.
	ErrUnknownBlock = errors.New("executor: unknown block")
	// ErrBlockNotLinked is returned by Grow when closed's parent hash does
	// not match the current chain head.
	ErrBlockNotLinked = errors.New("executor: closed block does not link to current head")
	// ErrBlockOutOfOrder is returned by Grow when closed's height is not
	// exactly current_height+1.
	ErrBlockOutOfOrder = errors.New("executor: closed block height out of order")
	// ErrStopped names the condition of a command arriving after Exit has
	// been processed. No command method returns it: once Run has returned,
	// a later command waits until its own context is done and returns
	// that context's error.
	ErrStopped = errors.New("executor: service stopped")
)
