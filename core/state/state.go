package state

import (
	"errors"
	"fmt"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/trie"
)

// Status is an account cache entry's lifecycle stage (spec §3).
type Status uint8

const (
	Clean Status = iota
	Dirty
	Committed
	Killed
)

// ErrCheckpointStackNotEmpty is returned by Commit when called with
// in-flight checkpoints still on the stack (spec §3 State invariant).
var ErrCheckpointStackNotEmpty = errors.New("state: commit with non-empty checkpoint stack")

type entry struct {
	status  Status
	account *Account // nil when the entry records "account does not exist"
}

func (e *entry) clone() *entry {
	if e == nil {
		return nil
	}
	if e.account == nil {
		return &entry{status: e.status}
	}
	return &entry{status: e.status, account: e.account.Clone()}
}

// State is the address -> account overlay sitting above the state trie,
// with an explicit stack of checkpoint diff-maps (spec §3, §9 "external
// checkpoint stack": "model as an explicit vector of diff-maps").
type State struct {
	accounts    *trie.ResolvableTrie
	nodeDB      *trie.NodeDatabase
	storageDB   *trie.NodeDatabase // backs every per-account storage trie
	codeLoader  func(common.Hash) ([]byte, error)
	codeStore   func(common.Hash, []byte) error

	cache       map[common.Address]*entry
	checkpoints []map[common.Address]*entry

	storageTries map[common.Address]*trie.ResolvableTrie
}

// New opens a State overlay on top of the account trie rooted at root.
func New(root common.Hash, accountDB, storageDB *trie.NodeDatabase, codeLoader func(common.Hash) ([]byte, error), codeStore func(common.Hash, []byte) error) (*State, error) {
	accTrie, err := trie.NewResolvableTrie(root, accountDB)
	if err != nil {
		return nil, fmt.Errorf("state: open account trie: %w", err)
	}
	return &State{
		accounts:     accTrie,
		nodeDB:       accountDB,
		storageDB:    storageDB,
		codeLoader:   codeLoader,
		codeStore:    codeStore,
		cache:        make(map[common.Address]*entry),
		storageTries: make(map[common.Address]*trie.ResolvableTrie),
	}, nil
}

// addressKey is the secure-trie key for an address: keccak256(address).
func addressKey(addr common.Address) []byte {
	return crypto.Keccak256(addr.Bytes())
}

// Clone returns a read-only snapshot view of s: a copy of the account
// overlay (each cached account is cloned) sharing the underlying trie node database, so read-only commands
// (StateAt, CodeAt, BalanceAt, ...) can run against it without taking a lock
// on the State the executor thread is actively mutating (spec §4.5, §9
// "CloneExecutorReader"). The clone must never be committed; it has no
// checkpoint stack and Commit on it would only disturb its own throwaway
// cache.
func (s *State) Clone() (*State, error) {
	accTrie, err := trie.NewResolvableTrie(s.accounts.Hash(), s.nodeDB)
	if err != nil {
		return nil, fmt.Errorf("state: clone account trie: %w", err)
	}
	cache := make(map[common.Address]*entry, len(s.cache))
	for addr, e := range s.cache {
		cache[addr] = e.clone()
	}
	return &State{
		accounts:     accTrie,
		nodeDB:       s.nodeDB,
		storageDB:    s.storageDB,
		codeLoader:   s.codeLoader,
		codeStore:    s.codeStore,
		cache:        cache,
		storageTries: make(map[common.Address]*trie.ResolvableTrie),
	}, nil
}

// Checkpoint pushes a new, empty diff-map: every account touched for the
// first time during the frame that follows records its pre-frame entry
// here before being mutated.
func (s *State) Checkpoint() {
	s.checkpoints = append(s.checkpoints, make(map[common.Address]*entry))
}

// RevertToCheckpoint pops the frontmost checkpoint and reapplies every
// recorded pre-frame entry, undoing everything the frame did (spec §3).
func (s *State) RevertToCheckpoint() {
	n := len(s.checkpoints)
	if n == 0 {
		return
	}
	top := s.checkpoints[n-1]
	s.checkpoints = s.checkpoints[:n-1]
	for addr, original := range top {
		if original == nil {
			delete(s.cache, addr)
			continue
		}
		s.cache[addr] = original
	}
}

// DiscardCheckpoint pops the frontmost checkpoint without reverting,
// merging any pre-frame entries it recorded into the checkpoint below so
// an enclosing revert still sees the state from before this frame (spec
// §3: "discard_checkpoint... merges into the one below").
func (s *State) DiscardCheckpoint() {
	n := len(s.checkpoints)
	if n == 0 {
		return
	}
	top := s.checkpoints[n-1]
	s.checkpoints = s.checkpoints[:n-1]
	if n == 1 {
		return
	}
	below := s.checkpoints[n-2]
	for addr, original := range top {
		if _, already := below[addr]; !already {
			below[addr] = original
		}
	}
}

// noteBeforeMutate records addr's current entry into the topmost
// checkpoint the first time it's touched within that frame.
func (s *State) noteBeforeMutate(addr common.Address) {
	if len(s.checkpoints) == 0 {
		return
	}
	top := s.checkpoints[len(s.checkpoints)-1]
	if _, already := top[addr]; already {
		return
	}
	top[addr] = s.cache[addr].clone()
}

// getOrLoad returns the live entry for addr, loading it from the trie on
// first reference within this State's lifetime (not per-checkpoint).
func (s *State) getOrLoad(addr common.Address) (*entry, error) {
	if e, ok := s.cache[addr]; ok {
		return e, nil
	}
	enc, err := s.accounts.Get(addressKey(addr))
	if err == trie.ErrNotFound {
		e := &entry{status: Clean, account: nil}
		s.cache[addr] = e
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	acct, err := decodeAccount(enc)
	if err != nil {
		return nil, err
	}
	e := &entry{status: Clean, account: acct}
	s.cache[addr] = e
	return e, nil
}

// Exists reports whether addr has an account entry (possibly empty).
func (s *State) Exists(addr common.Address) (bool, error) {
	e, err := s.getOrLoad(addr)
	if err != nil {
		return false, err
	}
	return e.account != nil && e.status != Killed, nil
}

// account returns the live *Account for addr, or nil if the account does
// not exist or has been killed; it never creates one. Mutations go through
// the helpers below, which call noteBeforeMutate first so a checkpoint
// frame can undo them.
func (s *State) account(addr common.Address) (*Account, error) {
	e, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	if e.account == nil || e.status == Killed {
		return nil, nil
	}
	return e.account, nil
}

// Balance returns addr's balance, or zero if the account does not exist.
func (s *State) Balance(addr common.Address) (*common.U256, error) {
	a, err := s.account(addr)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return common.ZeroU256(), nil
	}
	return a.Balance, nil
}

// Nonce returns addr's nonce, or zero if the account does not exist.
func (s *State) Nonce(addr common.Address) (*common.U256, error) {
	a, err := s.account(addr)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return common.ZeroU256(), nil
	}
	return a.Nonce, nil
}

// ensureAccount returns addr's account, lazily creating a fresh basic
// account in Dirty state (spec: accounts are "created by new_basic ...
// or trie load").
func (s *State) ensureAccount(addr common.Address) (*Account, error) {
	e, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	s.noteBeforeMutate(addr)
	if e.account == nil || e.status == Killed {
		e.account = NewBasicAccount(common.ZeroU256())
		e.status = Dirty
		s.cache[addr] = e
		return e.account, nil
	}
	e.status = Dirty
	return e.account, nil
}

// AddBalance credits amount to addr's account, creating it if necessary.
func (s *State) AddBalance(addr common.Address, amount *common.U256) error {
	if amount.IsZero() {
		return nil
	}
	a, err := s.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.AddBalance(amount)
	return nil
}

// SubBalance debits amount from addr's account. Callers are responsible
// for checking sufficiency beforehand (spec: wrapping arithmetic, no
// implicit guard here).
func (s *State) SubBalance(addr common.Address, amount *common.U256) error {
	if amount.IsZero() {
		return nil
	}
	a, err := s.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.SubBalance(amount)
	return nil
}

// IncNonce increments addr's nonce by one.
func (s *State) IncNonce(addr common.Address) error {
	a, err := s.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.IncNonce()
	return nil
}

// NewContract primes addr as a fresh contract account holding balance plus
// whatever balance addr already had (used when priming a CREATE's target
// address).
func (s *State) NewContract(addr common.Address, balance *common.U256) error {
	e, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.noteBeforeMutate(addr)
	existing := common.ZeroU256()
	if e.account != nil && e.status != Killed {
		// Preserve a pre-existing balance at this address (Open Question
		// #2 in DESIGN.md): a plain transfer to a not-yet-deployed address
		// must not be wiped out by the subsequent CREATE.
		existing = e.account.Balance
	}
	acct := NewContractAccount(existing)
	acct.AddBalance(balance)
	s.cache[addr] = &entry{status: Dirty, account: acct}
	return nil
}

// SetCode attaches code to addr's account.
func (s *State) SetCode(addr common.Address, code []byte) error {
	a, err := s.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.SetCode(code, crypto.Keccak256Hash(code))
	return nil
}

// CodeAt returns addr's code.
func (s *State) CodeAt(addr common.Address) ([]byte, error) {
	a, err := s.account(addr)
	if err != nil || a == nil {
		return nil, err
	}
	return a.Code(s.codeLoader)
}

// CodeHashAt returns addr's code hash (EmptyCodeHash if it has no code).
func (s *State) CodeHashAt(addr common.Address) (common.Hash, error) {
	a, err := s.account(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if a == nil {
		return common.EmptyCodeHash, nil
	}
	return a.CodeHash, nil
}

// StorageAt reads storage slot key of addr, falling through to the
// account's per-address storage trie on a cache miss.
func (s *State) StorageAt(addr common.Address, key common.Hash) (common.Hash, error) {
	a, err := s.account(addr)
	if err != nil || a == nil {
		return common.Hash{}, err
	}
	st, err := s.storageTrie(addr, a)
	if err != nil {
		return common.Hash{}, err
	}
	return a.StorageAt(key, func(k common.Hash) (common.Hash, error) {
		v, err := st.Get(crypto.Keccak256(k.Bytes()))
		if err == trie.ErrNotFound {
			return common.Hash{}, nil
		}
		if err != nil {
			return common.Hash{}, err
		}
		return common.BytesToHash(v), nil
	})
}

// SetStorage records an uncommitted write to addr's storage slot key.
func (s *State) SetStorage(addr common.Address, key, value common.Hash) error {
	a, err := s.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.SetStorage(key, value)
	return nil
}

// storageTrie returns (creating if needed) the ResolvableTrie backing
// addr's storage, rooted at its current StorageRoot.
func (s *State) storageTrie(addr common.Address, a *Account) (*trie.ResolvableTrie, error) {
	if st, ok := s.storageTries[addr]; ok {
		return st, nil
	}
	st, err := trie.NewResolvableTrie(a.StorageRoot, s.storageDB)
	if err != nil {
		return nil, err
	}
	s.storageTries[addr] = st
	return st, nil
}

// Kill marks addr for deletion; actual removal from the trie happens at
// Commit (spec: "destroyed by kill after commit of parent block").
func (s *State) Kill(addr common.Address) error {
	e, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.noteBeforeMutate(addr)
	e.status = Killed
	e.account = nil
	s.cache[addr] = e
	return nil
}

// Commit writes every Dirty/Killed account to the trie (flushing each
// account's pending storage writes into its own storage trie first),
// and returns the new state root. Requires an empty checkpoint stack
// (spec §3 State invariant).
func (s *State) Commit() (common.Hash, error) {
	if len(s.checkpoints) != 0 {
		return common.Hash{}, ErrCheckpointStackNotEmpty
	}
	for addr, e := range s.cache {
		switch e.status {
		case Killed:
			if err := s.accounts.Put(addressKey(addr), nil); err != nil {
				return common.Hash{}, err
			}
			delete(s.storageTries, addr)
			e.status = Committed
		case Dirty:
			a := e.account
			if a.Filth() == CodeDirty {
				if err := s.codeStore(a.CodeHash, a.codeCache); err != nil {
					return common.Hash{}, err
				}
				a.MarkCodeClean()
			}
			if len(a.StorageChanges()) != 0 {
				st, err := s.storageTrie(addr, a)
				if err != nil {
					return common.Hash{}, err
				}
				for k, v := range a.StorageChanges() {
					sk := crypto.Keccak256(k.Bytes())
					if v.IsZero() {
						if err := st.Delete(sk); err != nil {
							return common.Hash{}, err
						}
						continue
					}
					if err := st.Put(sk, v.Bytes()); err != nil {
						return common.Hash{}, err
					}
				}
				root, err := st.Commit()
				if err != nil {
					return common.Hash{}, err
				}
				a.StorageRoot = root
				a.ClearStorageChanges()
			}
			enc, err := encodeAccount(a)
			if err != nil {
				return common.Hash{}, err
			}
			if err := s.accounts.Put(addressKey(addr), enc); err != nil {
				return common.Hash{}, err
			}
			e.status = Committed
		}
	}
	root, err := s.accounts.Commit()
	if err != nil {
		return common.Hash{}, err
	}
	return root, nil
}

// Root returns the trie's current root hash without committing pending
// writes (reflects only Clean+Committed accounts, per spec §3).
func (s *State) Root() common.Hash {
	return s.accounts.Hash()
}

// IsEmpty reports whether addr resolves to an account satisfying the
// empty predicate (used by finalize's garbage sweep).
func (s *State) IsEmpty(addr common.Address) (bool, error) {
	a, err := s.account(addr)
	if err != nil || a == nil {
		return a == nil, err
	}
	if len(a.storageChanges) != 0 {
		return false, nil
	}
	return a.IsEmpty(), nil
}
