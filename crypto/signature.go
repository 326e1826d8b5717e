package crypto

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/citahub/cita-sub002/common"
)

// SignatureLength is the byte length of a recoverable signature: 32-byte r,
// 32-byte s, 1-byte recovery id.
const SignatureLength = 65

var (
	// ErrInvalidSignatureLen is returned when a signature is not exactly
	// SignatureLength bytes.
	ErrInvalidSignatureLen = errors.New("crypto: invalid signature length")
	// ErrInvalidRecoveryID is returned when the recovery byte is not in [0,3].
	ErrInvalidRecoveryID = errors.New("crypto: invalid recovery id")
)

// RecoverSender recovers the address that produced sig over hash. hash is
// expected to already be a transaction-content digest (Keccak256 of the
// unsigned transaction encoding), and sig is the 65-byte [R || S || V]
// recoverable signature attached to the transaction, mirroring how the
// executor core treats sender recovery as a pure function of (hash, sig)
// rather than performing signing itself (spec §1 scope).
func RecoverSender(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLen
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 3 {
		return common.Address{}, ErrInvalidRecoveryID
	}

	compact := make([]byte, SignatureLength)
	compact[0] = v + 27
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover sender: %w", err)
	}

	// Address = last 20 bytes of Keccak256 of the uncompressed public key's
	// X||Y coordinates (the 64-byte form, dropping the leading 0x04 prefix).
	pubBytes := pub.SerializeUncompressed()
	return common.BytesToAddress(Keccak256(pubBytes[1:])[12:]), nil
}

// PublicKeyToAddress derives the address associated with an uncompressed
// secp256k1 public key (65 bytes, 0x04 prefix included).
func PublicKeyToAddress(pub []byte) (common.Address, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, errors.New("crypto: invalid uncompressed public key")
	}
	return common.BytesToAddress(Keccak256(pub[1:])[12:]), nil
}
