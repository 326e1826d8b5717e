package trie

import (
	"bytes"
	"errors"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
)

// ErrProofInvalid is returned when a Merkle proof is invalid.
var ErrProofInvalid = errors.New("trie: invalid proof")

// Prove generates a Merkle proof for the given key: the RLP-encoded nodes
// along the path from the root to the value, usable with VerifyProof.
func (t *Trie) Prove(key []byte) ([][]byte, error) {
	if t.root == nil {
		return nil, ErrNotFound
	}
	t.Hash() // ensure all nodes have cached hashes

	hexKey := keybytesToHex(key)
	var proof [][]byte
	found := t.prove(t.root, hexKey, 0, &proof)
	if !found {
		return nil, ErrNotFound
	}
	return proof, nil
}

func (t *Trie) prove(n node, key []byte, pos int, proof *[][]byte) bool {
	switch n := n.(type) {
	case nil:
		return false
	case *shortNode:
		collapsed := n.copy()
		collapsed.Key = hexToCompact(n.Key)
		collapsed.Val = collapseForProof(n.Val)
		enc, err := encodeShortNode(collapsed)
		if err != nil {
			return false
		}
		*proof = append(*proof, enc)

		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return false
		}
		return t.prove(n.Val, key, pos+len(n.Key), proof)

	case *fullNode:
		collapsed := collapseFullNodeForProof(n)
		enc, err := encodeFullNode(collapsed)
		if err != nil {
			return false
		}
		*proof = append(*proof, enc)

		if pos >= len(key) {
			return n.Children[16] != nil
		}
		return t.prove(n.Children[key[pos]], key, pos+1, proof)

	case valueNode:
		return true

	case hashNode:
		return false

	default:
		return false
	}
}

// ProveAbsence generates a proof that key is not present in the trie: the
// nodes along the path until the lookup diverges from the trie structure.
func (t *Trie) ProveAbsence(key []byte) ([][]byte, error) {
	if t.root == nil {
		return nil, nil
	}
	t.Hash()

	hexKey := keybytesToHex(key)
	var proof [][]byte
	t.proveAbsence(t.root, hexKey, 0, &proof)
	return proof, nil
}

func (t *Trie) proveAbsence(n node, key []byte, pos int, proof *[][]byte) {
	switch n := n.(type) {
	case nil:
		return
	case *shortNode:
		collapsed := n.copy()
		collapsed.Key = hexToCompact(n.Key)
		collapsed.Val = collapseForProof(n.Val)
		enc, err := encodeShortNode(collapsed)
		if err != nil {
			return
		}
		*proof = append(*proof, enc)

		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return
		}
		t.proveAbsence(n.Val, key, pos+len(n.Key), proof)

	case *fullNode:
		collapsed := collapseFullNodeForProof(n)
		enc, err := encodeFullNode(collapsed)
		if err != nil {
			return
		}
		*proof = append(*proof, enc)

		if pos >= len(key) {
			return
		}
		child := n.Children[key[pos]]
		if child == nil {
			return
		}
		t.proveAbsence(child, key, pos+1, proof)

	case valueNode:
		return

	case hashNode:
		return
	}
}

// collapseForProof replaces child nodes large enough to be hashed with
// their hash reference, matching how the node would be linked on disk.
func collapseForProof(n node) node {
	switch n := n.(type) {
	case *shortNode:
		collapsed := n.copy()
		collapsed.Key = hexToCompact(n.Key)
		collapsed.Val = collapseForProof(n.Val)
		enc, err := encodeShortNode(collapsed)
		if err != nil {
			return n
		}
		if len(enc) >= 32 {
			return hashNode(crypto.Keccak256(enc))
		}
		return collapsed
	case *fullNode:
		collapsed := collapseFullNodeForProof(n)
		enc, err := encodeFullNode(collapsed)
		if err != nil {
			return n
		}
		if len(enc) >= 32 {
			return hashNode(crypto.Keccak256(enc))
		}
		return collapsed
	default:
		return n
	}
}

func collapseFullNodeForProof(n *fullNode) *fullNode {
	collapsed := n.copy()
	for i := 0; i < 16; i++ {
		if n.Children[i] != nil {
			collapsed.Children[i] = collapseForProof(n.Children[i])
		}
	}
	return collapsed
}

// VerifyProof checks a Merkle proof for key against rootHash. It returns the
// value if the proof demonstrates the key's presence, or (nil, nil) if it
// validly demonstrates absence.
func VerifyProof(rootHash common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	if len(proof) == 0 {
		if rootHash == emptyRoot {
			return nil, nil
		}
		return nil, ErrProofInvalid
	}

	hexKey := keybytesToHex(key)
	wantHash := rootHash[:]
	var wantInline []byte

	pos := 0
	for i, encoded := range proof {
		if wantInline != nil {
			if !bytes.Equal(encoded, wantInline) {
				return nil, ErrProofInvalid
			}
			wantInline = nil
		} else {
			if !bytes.Equal(crypto.Keccak256(encoded), wantHash) {
				return nil, ErrProofInvalid
			}
		}

		items, err := decodeRLPList(encoded)
		if err != nil {
			return nil, ErrProofInvalid
		}

		switch len(items) {
		case 2:
			compactKey := items[0]
			hexNibbles := compactToHex(compactKey)

			matchLen := 0
			for matchLen < len(hexNibbles) && pos+matchLen < len(hexKey) {
				if hexNibbles[matchLen] != hexKey[pos+matchLen] {
					break
				}
				matchLen++
			}

			if matchLen < len(hexNibbles) {
				if i == len(proof)-1 {
					return nil, nil
				}
				return nil, ErrProofInvalid
			}
			pos += len(hexNibbles)

			if hasTerm(hexNibbles) {
				if i == len(proof)-1 {
					return items[1], nil
				}
				return nil, ErrProofInvalid
			}

			if i == len(proof)-1 {
				return nil, ErrProofInvalid
			}
			childRef := items[1]
			if len(childRef) == 32 {
				wantHash, wantInline = childRef, nil
			} else {
				wantInline, wantHash = childRef, nil
			}

		case 17:
			if pos >= len(hexKey) {
				return nil, ErrProofInvalid
			}
			nibble := hexKey[pos]
			pos++

			if nibble == terminatorByte {
				val := items[16]
				if len(val) == 0 {
					return nil, nil
				}
				return val, nil
			}

			childRef := items[nibble]
			if len(childRef) == 0 {
				if i == len(proof)-1 {
					return nil, nil
				}
				return nil, ErrProofInvalid
			}
			if i == len(proof)-1 {
				return nil, ErrProofInvalid
			}
			if len(childRef) == 32 {
				wantHash, wantInline = childRef, nil
			} else {
				wantInline, wantHash = childRef, nil
			}

		default:
			return nil, ErrProofInvalid
		}
	}

	return nil, ErrProofInvalid
}
