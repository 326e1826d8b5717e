package postman

import "fmt"

// ErrRollback signals a crash-gap: Chain has fallen behind further than
// Backlogs' prune window retains, so the supervisor must restart the
// executor at Height and let Postman resynchronize from there (spec
// §4.6, §9 Testable Property 6 "Rollback after chain loss").
type ErrRollback struct {
	Height uint64
}

func (e *ErrRollback) Error() string {
	return fmt.Sprintf("postman: chain state lost, rollback to height %d required", e.Height)
}
