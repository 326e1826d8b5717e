package core

import (
	"sync"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
)

// NativeContract is a Go-implemented system contract, dispatched before
// both the precompile registry and the VM (spec.md §4.3 supplemented by
// original_source's `executive.rs::call` three-way dispatch: native
// registry -> precompile registry -> VM). Unlike a Precompile, a native
// contract receives the full ActionParams (it may need the caller's
// identity or the call's value, e.g. a permission-management contract
// gating itself on sender).
type NativeContract interface {
	GasCost(params *types.ActionParams) uint64
	Run(params *types.ActionParams) ([]byte, error)
}

// NativeRegistry is a thread-safe address -> NativeContract lookup table.
// It starts empty: this spec names no concrete system-contract behavior
// (permission management, node management, etc. are mentioned only as
// system-contract *addresses* whose dirtying the executor service detects
// at Grow, spec §4.5), so callers Register whatever native contracts their
// deployment needs at construction time.
type NativeRegistry struct {
	mu     sync.RWMutex
	byAddr map[common.Address]NativeContract
}

// NewNativeRegistry returns an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{byAddr: make(map[common.Address]NativeContract)}
}

// Register binds a native contract to addr, replacing whatever was there.
func (r *NativeRegistry) Register(addr common.Address, c NativeContract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddr[addr] = c
}

// Lookup returns the NativeContract registered at addr, if any.
func (r *NativeRegistry) Lookup(addr common.Address) (NativeContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAddr[addr]
	return c, ok
}
