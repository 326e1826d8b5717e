package types

import (
	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/rlp"
)

// ActionKind distinguishes the three transaction dispatch shapes Executive
// recognizes (spec §4.3 step 6): a no-op store, contract creation, or a
// call into an existing address.
type ActionKind uint8

const (
	ActionCall ActionKind = iota
	ActionCreate
	ActionStore
)

// Transaction is a signed, submitted transaction as the executor core
// consumes it: decoded, with its sender recovered from Sig on first call
// to Sender (or set directly by NewCallTransaction).
type Transaction struct {
	Nonce    uint64
	GasPrice *common.U256
	Gas      uint64
	Action   ActionKind
	To       common.Address // meaningful only when Action == ActionCall
	Value    *common.U256
	Data     []byte
	Sig      []byte // 65-byte recoverable signature

	sender    common.Address
	senderSet bool
}

// Hash is the Keccak256 digest of the transaction's signed content,
// recomputed on demand rather than cached since Transaction values are
// treated as immutable once constructed.
func (tx *Transaction) Hash() common.Hash {
	return crypto.Keccak256Hash(tx.signingPayload())
}

// unsignedFields mirrors Transaction's content minus the signature, RLP-
// encoded to produce the digest the sender's signature is taken over.
type unsignedFields struct {
	Nonce    uint64
	GasPrice *common.U256
	Gas      uint64
	Action   ActionKind
	To       common.Address
	Value    *common.U256
	Data     []byte
}

func (tx *Transaction) signingPayload() []byte {
	enc, err := rlp.EncodeToBytes(&unsignedFields{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice,
		Gas:      tx.Gas,
		Action:   tx.Action,
		To:       tx.To,
		Value:    tx.Value,
		Data:     tx.Data,
	})
	if err != nil {
		panic("types: transaction rlp encode: " + err.Error())
	}
	return enc
}

// NewCallTransaction builds a Transaction for a read-only query (the
// executor's ETHCall/Call commands, spec §4.5): from is taken as the
// sender without any signature to verify, since a call simulation is never
// submitted for inclusion and has no authentication service to satisfy.
func NewCallTransaction(from common.Address, nonce uint64, gasPrice *common.U256, gas uint64, action ActionKind, to common.Address, value *common.U256, data []byte) *Transaction {
	tx := &Transaction{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		Action:   action,
		To:       to,
		Value:    value,
		Data:     data,
	}
	tx.sender, tx.senderSet = from, true
	return tx
}

// Sender recovers (and memoizes) the sending address from Sig over Hash.
func (tx *Transaction) Sender() (common.Address, error) {
	if tx.senderSet {
		return tx.sender, nil
	}
	addr, err := crypto.RecoverSender(tx.Hash(), tx.Sig)
	if err != nil {
		return common.Address{}, err
	}
	tx.sender, tx.senderSet = addr, true
	return addr, nil
}
