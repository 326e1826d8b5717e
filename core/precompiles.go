package core

import (
	"crypto/sha256"
	"errors"
	"sort"
	"sync"

	"golang.org/x/crypto/ripemd160"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
)

// Precompile is a built-in contract reachable at a fixed, low address,
// tried before VM dispatch (spec §4.3 "Built-in precompiles are tried
// before VM dispatch").
type Precompile interface {
	GasCost(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// PrecompileInfo pairs a Precompile with the bookkeeping the registry
// exposes to callers (name for logging/tracing, address it's bound to).
// Unlike the VM's fork-aware registry this spec draws on, there is no
// ActivationFork: this system has no forks, so every registered precompile
// is unconditionally active.
type PrecompileInfo struct {
	Address common.Address
	Name    string
	Precompile
}

// PrecompileRegistry is a thread-safe address -> Precompile lookup table,
// the second stage of the native-registry -> precompile-registry -> VM
// dispatch order (spec.md §4.3, supplemented per original_source's
// executive.rs::call three-way dispatch).
type PrecompileRegistry struct {
	mu   sync.RWMutex
	byAddr map[common.Address]*PrecompileInfo
}

// NewPrecompileRegistry returns a registry pre-populated with the four
// precompiles CITA's fixed, pre-Constantinople opcode set exercises:
// ecRecover, sha256, ripemd160, identity. modexp/ecAdd/ecMul/ecPairing/
// blake2f/pointEval are Byzantium-or-later additions this spec's VM never
// reaches (its opcode set and built-ins are frozen pre-Constantinople),
// so they are not registered.
func NewPrecompileRegistry() *PrecompileRegistry {
	r := &PrecompileRegistry{byAddr: make(map[common.Address]*PrecompileInfo)}
	r.registerDefaults()
	return r
}

// Register adds a precompile at addr. Returns an error if addr is already
// occupied.
func (r *PrecompileRegistry) Register(info PrecompileInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddr[info.Address]; exists {
		return errors.New("core: precompile address already registered")
	}
	stored := info
	r.byAddr[info.Address] = &stored
	return nil
}

// Lookup returns the PrecompileInfo registered at addr, if any.
func (r *PrecompileRegistry) Lookup(addr common.Address) (*PrecompileInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byAddr[addr]
	return info, ok
}

// IsPrecompile reports whether addr names a registered precompile.
func (r *PrecompileRegistry) IsPrecompile(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAddr[addr]
	return ok
}

// AllPrecompiles returns every registered precompile sorted by address.
func (r *PrecompileRegistry) AllPrecompiles() []PrecompileInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PrecompileInfo, 0, len(r.byAddr))
	for _, info := range r.byAddr {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

func (r *PrecompileRegistry) registerDefaults() {
	defaults := []PrecompileInfo{
		{Address: common.BytesToAddress([]byte{0x01}), Name: "ecRecover", Precompile: &ecRecoverPrecompile{}},
		{Address: common.BytesToAddress([]byte{0x02}), Name: "sha256", Precompile: &sha256Precompile{}},
		{Address: common.BytesToAddress([]byte{0x03}), Name: "ripemd160", Precompile: &ripemd160Precompile{}},
		{Address: common.BytesToAddress([]byte{0x04}), Name: "identity", Precompile: &identityPrecompile{}},
	}
	for _, info := range defaults {
		stored := info
		r.byAddr[stored.Address] = &stored
	}
}

// wordCount is ceil(n/32), the unit copy-gas scales by.
func wordCount(n int) uint64 {
	return uint64((n + 31) / 32)
}

func padRight(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// --- ecRecover (0x01) ---

type ecRecoverPrecompile struct{}

func (c *ecRecoverPrecompile) GasCost(input []byte) uint64 { return 3000 }

// Run recovers the signing address from a 128-byte [hash(32) || v(32) ||
// r(32) || s(32)] input, returning a 32-byte left-padded address, or empty
// output on any malformed or unrecoverable signature (never an error: a
// bad signature is a legitimate "no answer", not a VM fault).
func (c *ecRecoverPrecompile) Run(input []byte) ([]byte, error) {
	input = padRight(input, 128)

	var h common.Hash
	copy(h[:], input[0:32])

	vWord := input[32:64]
	for _, b := range vWord[:31] {
		if b != 0 {
			return nil, nil
		}
	}
	v := vWord[31]
	if v != 27 && v != 28 {
		return nil, nil
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[0:64], input[64:128]) // r || s
	sig[64] = v

	addr, err := crypto.RecoverSender(h, sig)
	if err != nil {
		return nil, nil
	}
	out := make([]byte, 32)
	copy(out[12:], addr[:])
	return out, nil
}

// --- sha256 (0x02) ---

type sha256Precompile struct{}

func (c *sha256Precompile) GasCost(input []byte) uint64 { return 60 + 12*wordCount(len(input)) }

func (c *sha256Precompile) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- ripemd160 (0x03) ---

type ripemd160Precompile struct{}

func (c *ripemd160Precompile) GasCost(input []byte) uint64 { return 600 + 120*wordCount(len(input)) }

func (c *ripemd160Precompile) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	digest := h.Sum(nil)
	out := make([]byte, 32)
	copy(out[12:], digest)
	return out, nil
}

// --- identity (0x04) ---

type identityPrecompile struct{}

func (c *identityPrecompile) GasCost(input []byte) uint64 { return 15 + 3*wordCount(len(input)) }

func (c *identityPrecompile) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}
