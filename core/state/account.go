// Package state implements the world-state overlay the executor mutates:
// the per-account model with its storage cache, and the checkpointed
// State map that sits above the state trie.
package state

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/citahub/cita-sub002/common"
)

// storageCacheSize bounds the per-account storage LRU at 8192 entries
// (spec §3 Account).
const storageCacheSize = 8192

// CodeFilth distinguishes code freshly loaded from the trie (Clean) from
// code attached by a CREATE in the current block that has not yet been
// committed to the trie (Dirty).
type CodeFilth uint8

const (
	CodeClean CodeFilth = iota
	CodeDirty
)

// Account is a single account's in-memory representation: balance and
// nonce, a lazily-loaded code cache, and a storage model split into an
// LRU read cache and an uncommitted-write overlay that always takes
// precedence over the cache (spec §3, §9 "Account cache invalidation").
type Account struct {
	Nonce       *common.U256
	Balance     *common.U256
	CodeHash    common.Hash
	StorageRoot common.Hash

	codeCache []byte
	codeFilth CodeFilth

	storageCache   *lru.Cache[common.Hash, common.Hash]
	storageChanges map[common.Hash]common.Hash
}

// NewBasicAccount creates a plain (non-contract) account: zero nonce,
// empty code, empty storage.
func NewBasicAccount(balance *common.U256) *Account {
	a := newAccount()
	a.Balance = balance
	return a
}

// NewContractAccount creates an account primed to receive constructor
// code: zero nonce, empty storage, caller fills CodeHash/codeCache after
// running the constructor.
func NewContractAccount(balance *common.U256) *Account {
	a := newAccount()
	a.Balance = balance
	return a
}

func newAccount() *Account {
	cache, _ := lru.New[common.Hash, common.Hash](storageCacheSize)
	return &Account{
		Nonce:          common.ZeroU256(),
		Balance:        common.ZeroU256(),
		CodeHash:       common.EmptyCodeHash,
		StorageRoot:    common.EmptyRootHash,
		storageCache:   cache,
		storageChanges: make(map[common.Hash]common.Hash),
	}
}

// Clone returns a deep-enough copy for use as a checkpoint snapshot: the
// storage cache (read-only data) is shared, storage_changes is copied
// since it is the mutable overlay.
func (a *Account) Clone() *Account {
	changes := make(map[common.Hash]common.Hash, len(a.storageChanges))
	for k, v := range a.storageChanges {
		changes[k] = v
	}
	return &Account{
		Nonce:          new(common.U256).Set(a.Nonce),
		Balance:        new(common.U256).Set(a.Balance),
		CodeHash:       a.CodeHash,
		StorageRoot:    a.StorageRoot,
		codeCache:      a.codeCache,
		codeFilth:      a.codeFilth,
		storageCache:   a.storageCache,
		storageChanges: changes,
	}
}

// IsEmpty reports whether the account satisfies the empty-account
// predicate (spec §3): may only be evaluated when storage_changes is
// empty, since a pending write can't yet be reflected in storage_root.
func (a *Account) IsEmpty() bool {
	if len(a.storageChanges) != 0 {
		panic("state: IsEmpty evaluated with pending storage_changes")
	}
	return a.Nonce.IsZero() &&
		a.CodeHash == common.EmptyCodeHash &&
		a.StorageRoot == common.EmptyRootHash
}

// IncNonce bumps the account's nonce by one.
func (a *Account) IncNonce() {
	a.Nonce.AddUint64(a.Nonce, 1)
}

// AddBalance credits amount to the account's balance.
func (a *Account) AddBalance(amount *common.U256) {
	a.Balance.Add(a.Balance, amount)
}

// SubBalance debits amount from the account's balance. Callers must have
// already checked sufficiency; wrapping underflow is not guarded here.
func (a *Account) SubBalance(amount *common.U256) {
	a.Balance.Sub(a.Balance, amount)
}

// StorageAt reads a storage slot: storage_changes (uncommitted writes)
// takes precedence over the LRU cache, which takes precedence over the
// caller-supplied trie fallback (spec §4.2: "a cache hit never issues
// I/O").
func (a *Account) StorageAt(key common.Hash, trieLoad func(common.Hash) (common.Hash, error)) (common.Hash, error) {
	if v, ok := a.storageChanges[key]; ok {
		return v, nil
	}
	if v, ok := a.storageCache.Get(key); ok {
		return v, nil
	}
	v, err := trieLoad(key)
	if err != nil {
		return common.Hash{}, err
	}
	a.storageCache.Add(key, v)
	return v, nil
}

// SetStorage records an uncommitted write; it is not reflected in
// storage_cache until ClearStorageChanges runs during State.Commit.
func (a *Account) SetStorage(key, value common.Hash) {
	a.storageChanges[key] = value
}

// StorageChanges exposes the pending write overlay for the commit path.
func (a *Account) StorageChanges() map[common.Hash]common.Hash {
	return a.storageChanges
}

// ClearStorageChanges empties the overlay after its writes have been
// folded into storage_cache and the trie.
func (a *Account) ClearStorageChanges() {
	for k, v := range a.storageChanges {
		a.storageCache.Add(k, v)
	}
	a.storageChanges = make(map[common.Hash]common.Hash)
}

// Code returns the account's code, loading it via loader on first access
// and caching the result.
func (a *Account) Code(loader func(common.Hash) ([]byte, error)) ([]byte, error) {
	if a.codeCache != nil || a.CodeHash == common.EmptyCodeHash {
		return a.codeCache, nil
	}
	code, err := loader(a.CodeHash)
	if err != nil {
		return nil, err
	}
	a.codeCache = code
	return code, nil
}

// SetCode attaches freshly deployed code (from a CREATE), marking it dirty
// until the block processor commits it to the code store.
func (a *Account) SetCode(code []byte, hash common.Hash) {
	a.codeCache = code
	a.CodeHash = hash
	a.codeFilth = CodeDirty
}

// Filth reports whether code has been attached this block and still
// needs to be persisted.
func (a *Account) Filth() CodeFilth { return a.codeFilth }

// MarkCodeClean is called once dirty code has been written to the code
// store during commit.
func (a *Account) MarkCodeClean() { a.codeFilth = CodeClean }
