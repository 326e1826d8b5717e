// Package common defines the fixed-size primitives shared across the
// executor, chain, and postman subsystems: Hash, Address, and Bloom.
package common

import (
	"encoding/hex"
	"fmt"
)

const (
	HashLength    = 32
	AddressLength = 20
	BloomLength   = 256
)

// Hash is a 256-bit digest of a canonical byte encoding.
type Hash [HashLength]byte

// Address is a 160-bit account identifier.
type Address [AddressLength]byte

// Bloom is a 2048-bit logs bloom filter.
type Bloom [BloomLength]byte

// BytesToHash converts b to a Hash, left-padding if shorter than 32 bytes
// and truncating from the left if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash decodes a (optionally 0x-prefixed) hex string into a Hash.
func HexToHash(s string) Hash { return BytesToHash(fromHex(s)) }

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) Hex() string   { return fmt.Sprintf("0x%x", h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool  { return h == Hash{} }

func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// BytesToAddress converts b to an Address, left-padding/truncating as needed.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress decodes a (optionally 0x-prefixed) hex string into an Address.
func HexToAddress(s string) Address { return BytesToAddress(fromHex(s)) }

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return fmt.Sprintf("0x%x", a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == Address{} }

func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// BytesToBloom converts b into a Bloom, left-padding/truncating as needed.
func BytesToBloom(b []byte) Bloom {
	var bl Bloom
	bl.SetBytes(b)
	return bl
}

func (b *Bloom) SetBytes(d []byte) {
	if len(d) > BloomLength {
		d = d[len(d)-BloomLength:]
	}
	copy(b[BloomLength-len(d):], d)
}

func (b Bloom) Bytes() []byte { return b[:] }

// Add ORs the 3-bit-per-bucket bloom contribution of data into b, the same
// scheme used by Ethereum-family logs blooms: three 11-bit indices are
// taken from the first six bytes of hash, a Keccak256 digest the caller
// has already computed.
func (b *Bloom) Add(hash []byte) {
	for i := 0; i < 3; i++ {
		bitIdx := (uint(hash[i*2])<<8 | uint(hash[i*2+1])) & 2047
		byteIdx := BloomLength - 1 - bitIdx/8
		bitMask := byte(1 << (bitIdx % 8))
		b[byteIdx] |= bitMask
	}
}

// Test reports whether every bit that Add would set for hash is also set
// in b -- the standard bloom membership check.
func (b Bloom) Test(hash []byte) bool {
	var probe Bloom
	probe.Add(hash)
	for i := range probe {
		if probe[i]&b[i] != probe[i] {
			return false
		}
	}
	return true
}

// EmptyRootHash is Keccak256(RLP("")), the root of an empty Merkle-Patricia
// trie.
var EmptyRootHash = HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

// EmptyCodeHash is Keccak256 of zero-length code.
var EmptyCodeHash = HexToHash("c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")

func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
