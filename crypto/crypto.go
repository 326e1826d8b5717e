// Package crypto provides the cryptographic primitives the executor core
// consumes through a narrow interface: hashing, contract address
// derivation, and transaction-sender recovery. Signature generation, key
// management, and the wire formats around them are external-collaborator
// concerns (spec §1) and are not implemented here.
package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/rlp"
)

// Keccak256 returns the Keccak-256 digest of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash returns Keccak256 as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// ContractAddress derives the address of a contract created by sender at
// the given nonce: addr = first_20_bytes(Keccak256(RLP([sender, nonce]))),
// per spec §6 "Contract address derivation".
func ContractAddress(sender common.Address, nonce uint64) common.Address {
	enc, err := rlp.EncodeToBytes([]interface{}{sender.Bytes(), nonce})
	if err != nil {
		// RLP-encoding a fixed-shape 2-tuple of primitives cannot fail.
		panic("crypto: contract address rlp encode: " + err.Error())
	}
	return common.BytesToAddress(Keccak256(enc)[12:])
}
