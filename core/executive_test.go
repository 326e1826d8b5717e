package core

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/trie"
)

// testKey is a throwaway signing key for exercising Transact's sender
// recovery without depending on an external signing service (spec §1
// treats signing as an external-collaborator concern; tests need a real
// signature anyway since Transaction.Sender recovers it from Sig).
type testKey struct {
	priv *secp256k1.PrivateKey
}

func newTestKey(t *testing.T) *testKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testKey{priv: priv}
}

func (k *testKey) address(t *testing.T) common.Address {
	t.Helper()
	addr, err := crypto.PublicKeyToAddress(k.priv.PubKey().SerializeUncompressed())
	if err != nil {
		t.Fatalf("public key to address: %v", err)
	}
	return addr
}

func (k *testKey) sign(t *testing.T, tx *types.Transaction) []byte {
	t.Helper()
	hash := tx.Hash()
	compact := ecdsa.SignCompact(k.priv, hash.Bytes(), false)
	sig := make([]byte, crypto.SignatureLength)
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0]
	return sig
}

// newTestState returns a fresh, empty in-memory State with no persistent
// backing, enough for one test's worth of accounts/code/storage.
func newTestState(t *testing.T) *state.State {
	t.Helper()
	code := make(map[common.Hash][]byte)
	st, err := state.New(
		common.Hash{},
		trie.NewNodeDatabase(nil),
		trie.NewNodeDatabase(nil),
		func(h common.Hash) ([]byte, error) { return code[h], nil },
		func(h common.Hash, b []byte) error { code[h] = b; return nil },
	)
	if err != nil {
		t.Fatalf("new test state: %v", err)
	}
	return st
}

func newTestExecutive(t *testing.T, st *state.State) *Executive {
	t.Helper()
	env := &vm.EnvInfo{Number: 1, Timestamp: 1, GasLimit: 10_000_000, Coinbase: common.HexToAddress("0xfee"), Difficulty: common.ZeroU256()}
	blockHash := func(uint64) (common.Hash, error) { return common.Hash{}, nil }
	return NewExecutive(st, vm.DefaultSchedule(), NewPrecompileRegistry(), NewNativeRegistry(), NewPermissionManager(), env, blockHash, new(GasPool).AddGas(10_000_000), 0)
}

func signedTx(t *testing.T, key *testKey, nonce uint64, action types.ActionKind, to common.Address, value *common.U256, gas uint64, data []byte) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Nonce:    nonce,
		GasPrice: common.NewU256(1),
		Gas:      gas,
		Action:   action,
		To:       to,
		Value:    value,
		Data:     data,
	}
	tx.Sig = key.sign(t, tx)
	return tx
}

func TestTransactStoreReturnsAllGas(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionStore, common.Address{}, common.ZeroU256(), 50_000, []byte("hello"))

	executed, err := exec.Transact(tx, TransactOptions{})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if executed.Exception != types.ExcNone {
		t.Fatalf("exception = %v, want none", executed.Exception)
	}
	if executed.GasUsed != 0 {
		t.Fatalf("gas used = %d, want 0 (Store returns all gas)", executed.GasUsed)
	}

	nonce, err := st.Nonce(sender)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce.Uint64() != 1 {
		t.Fatalf("sender nonce = %d, want 1", nonce.Uint64())
	}
}

func TestTransactRejectsBadNonce(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 5, types.ActionStore, common.Address{}, common.ZeroU256(), 50_000, nil)

	if _, err := exec.Transact(tx, TransactOptions{}); err != ErrInvalidNonce {
		t.Fatalf("err = %v, want ErrInvalidNonce", err)
	}
}

func TestTransactRejectsNotEnoughBaseGas(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionCreate, common.Address{}, common.ZeroU256(), TxBaseGas-1, nil)

	if _, err := exec.Transact(tx, TransactOptions{}); err != ErrNotEnoughBaseGas {
		t.Fatalf("err = %v, want ErrNotEnoughBaseGas", err)
	}
}

func TestTransactPermissionCheck(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionCreate, common.Address{}, common.ZeroU256(), 1_000_000, []byte{byte(vm.STOP)})

	if _, err := exec.Transact(tx, TransactOptions{CheckPermission: true}); err != ErrNoContractPermission {
		t.Fatalf("err = %v, want ErrNoContractPermission", err)
	}

	exec.permission.SetCreators([]common.Address{sender})
	if _, err := exec.Transact(tx, TransactOptions{CheckPermission: true}); err != nil {
		t.Fatalf("transact after granting permission: %v", err)
	}
}

func TestTransactCreateDeploysCode(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	// PUSH1 0x00 PUSH1 0x00 RETURN: returns zero-length code, a trivial
	// but valid deployment (empty runtime code).
	init := []byte{byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.RETURN)}
	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionCreate, common.Address{}, common.ZeroU256(), 200_000, init)

	executed, err := exec.Transact(tx, TransactOptions{})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if executed.Exception != types.ExcNone {
		t.Fatalf("exception = %v, want none", executed.Exception)
	}
	wantAddr := crypto.ContractAddress(sender, 0)
	if executed.ContractAddress != wantAddr {
		t.Fatalf("contract address = %x, want %x", executed.ContractAddress, wantAddr)
	}
	if len(executed.ContractsCreated) != 1 || executed.ContractsCreated[0] != wantAddr {
		t.Fatalf("contracts created = %v, want [%x]", executed.ContractsCreated, wantAddr)
	}
}

func TestTransactCallToNoCodeAddressReturnsAllGas(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}
	to := common.HexToAddress("0xdeadbeef")

	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionCall, to, common.NewU256(100), 50_000, nil)

	executed, err := exec.Transact(tx, TransactOptions{})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if executed.GasUsed != TxBaseGas {
		t.Fatalf("gas used = %d, want %d (no-code call returns all gas past the base charge)", executed.GasUsed, TxBaseGas)
	}

	bal, err := st.Balance(to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Uint64() != 100 {
		t.Fatalf("receiver balance = %d, want 100", bal.Uint64())
	}
}

func TestTransactRevertKeepsNoState(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(1_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	// PUSH1 0x00 PUSH1 0x00 REVERT
	init := []byte{byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.REVERT)}
	exec := newTestExecutive(t, st)
	tx := signedTx(t, key, 0, types.ActionCreate, common.Address{}, common.ZeroU256(), 200_000, init)

	executed, err := exec.Transact(tx, TransactOptions{})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if executed.Exception != types.ExcReverted {
		t.Fatalf("exception = %v, want Reverted", executed.Exception)
	}
	// REVERT (unlike an ordinary gas-class failure) keeps the unused gas
	// of the failing frame: only a few instructions' worth plus the base
	// charge should be spent out of the 200,000 supplied.
	if executed.GasUsed >= tx.Gas {
		t.Fatalf("gas used = %d, want less than the full %d (Revert keeps unused gas)", executed.GasUsed, tx.Gas)
	}
	if executed.Refunded != 0 {
		t.Fatalf("refunded = %d, want 0 (no sstore clears or suicides)", executed.Refunded)
	}

	addr := crypto.ContractAddress(sender, 0)
	exists, err := st.Exists(addr)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("reverted create must leave no contract behind")
	}
}
