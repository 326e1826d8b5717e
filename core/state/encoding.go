package state

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/rlp"
)

// accountRLP is the trie-leaf encoding of an account: [nonce, balance,
// storage_root, code_hash], the same four-field shape Ethereum-lineage
// state tries use.
type accountRLP struct {
	Nonce       *common.U256
	Balance     *common.U256
	StorageRoot common.Hash
	CodeHash    common.Hash
}

func encodeAccount(a *Account) ([]byte, error) {
	return rlp.EncodeToBytes(&accountRLP{
		Nonce:       a.Nonce,
		Balance:     a.Balance,
		StorageRoot: a.StorageRoot,
		CodeHash:    a.CodeHash,
	})
}

func decodeAccount(enc []byte) (*Account, error) {
	var dec accountRLP
	if err := rlp.DecodeBytes(enc, &dec); err != nil {
		return nil, err
	}
	a := newAccount()
	a.Nonce = dec.Nonce
	a.Balance = dec.Balance
	a.StorageRoot = dec.StorageRoot
	a.CodeHash = dec.CodeHash
	return a, nil
}
