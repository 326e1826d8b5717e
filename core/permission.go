package core

import (
	"sync"

	"github.com/citahub/cita-sub002/common"
)

// PermissionManager holds the creator and sender address sets transaction
// admission checks against (spec §4.3 step 2). It mirrors CITA's
// `state.creators` / `state.senders` rather than the VM schedule since the
// original keeps these sets on State, refreshed by the executor service
// whenever a system-contract address is touched (spec §4.5 "detect
// permission changes ... reload global sys-config").
type PermissionManager struct {
	mu       sync.RWMutex
	creators map[common.Address]struct{}
	senders  map[common.Address]struct{}
}

// NewPermissionManager returns a manager with empty creator/sender sets.
// The manager itself never skips a check: whether permission checks run
// at all is decided per transaction by TransactOptions.CheckPermission
// (spec §4.4's "apply options... permission...").
func NewPermissionManager() *PermissionManager {
	return &PermissionManager{
		creators: make(map[common.Address]struct{}),
		senders:  make(map[common.Address]struct{}),
	}
}

// SetCreators replaces the creator set wholesale (used when sys-config is
// reloaded after a permission-affecting block, spec §4.5).
func (p *PermissionManager) SetCreators(addrs []common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creators = make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		p.creators[a] = struct{}{}
	}
}

// SetSenders replaces the sender set wholesale.
func (p *PermissionManager) SetSenders(addrs []common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.senders = make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		p.senders[a] = struct{}{}
	}
}

// CanCreate reports whether sender may submit a Create transaction: the
// zero address bypasses all checks (spec §4.3 step 2).
func (p *PermissionManager) CanCreate(sender common.Address) bool {
	if sender.IsZero() {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.creators[sender]
	return ok
}

// CanSend reports whether sender may submit any other action: membership
// in either the sender or creator set suffices.
func (p *PermissionManager) CanSend(sender common.Address) bool {
	if sender.IsZero() {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.senders[sender]; ok {
		return true
	}
	_, ok := p.creators[sender]
	return ok
}
