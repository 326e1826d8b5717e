package executor

import (
	"context"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/crypto"
	"github.com/citahub/cita-sub002/db"
)

type testKey struct{ priv *secp256k1.PrivateKey }

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

func signedTx(t *testing.T, key *testKey, nonce uint64, to common.Address, value *common.U256, gas uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Nonce:    nonce,
		GasPrice: common.NewU256(1),
		Gas:      gas,
		Action:   types.ActionCall,
		To:       to,
		Value:    value,
	}
	tx.Sig = key.sign(t, tx)
	return tx
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Options{
		Store:       db.NewMemoryDB(),
		Schedule:    vm.DefaultSchedule(),
		Precompiles: core.NewPrecompileRegistry(),
		Natives:     core.NewNativeRegistry(),
		Permission:  core.NewPermissionManager(),
		ChainID:     1,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func runService(t *testing.T, svc *Service) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("executor run loop did not stop")
		}
	})
	return ctx, cancel
}

func growBlock(t *testing.T, ctx context.Context, svc *Service, height uint64, parent common.Hash, txs []*types.Transaction) *types.ExecutedResult {
	t.Helper()
	open := &types.OpenBlock{
		Header: &types.Header{
			ParentHash: parent,
			Height:     height,
			QuotaLimit: 1_000_000,
		},
		Transactions: txs,
	}
	closed, err := svc.Execute(ctx, open)
	if err != nil {
		t.Fatalf("execute height %d: %v", height, err)
	}
	result, err := svc.Grow(ctx, closed)
	if err != nil {
		t.Fatalf("grow height %d: %v", height, err)
	}
	return result
}

func TestServiceBootstrapsEmptyGenesis(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	md, err := svc.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.CurrentHeight != 0 {
		t.Fatalf("CurrentHeight = %d, want 0", md.CurrentHeight)
	}
	if md.ChainID != 1 {
		t.Fatalf("ChainID = %d, want 1", md.ChainID)
	}
}

func TestServiceGrowAdvancesHeight(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	key := newTestKey(t)
	sender := key.address(t)
	// StateAt hands back a read-only clone, so the sender's balance is
	// funded by dispatching a mutation directly onto the live state that
	// Grow will later commit from.
	if _, err := svc.dispatch(ctx, func() (any, error) {
		return nil, svc.state.AddBalance(sender, common.NewU256(1_000_000))
	}); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	to := common.HexToAddress("0xcafe")
	txs := []*types.Transaction{signedTx(t, key, 0, to, common.NewU256(10), 30_000)}
	result := growBlock(t, ctx, svc, 1, common.Hash{}, txs)
	if result.Header.Height != 1 {
		t.Fatalf("result height = %d, want 1", result.Header.Height)
	}
	if len(result.Receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(result.Receipts))
	}

	md, err := svc.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.CurrentHeight != 1 {
		t.Fatalf("CurrentHeight = %d, want 1", md.CurrentHeight)
	}

	// Pending resolves to current_height (the live state just grown into
	// height 1); Latest would resolve one height further back, to the
	// pre-transfer state at height 0.
	bal, err := svc.BalanceAt(ctx, to, types.TagPendingBlock())
	if err != nil {
		t.Fatalf("balance at pending: %v", err)
	}
	if bal.Uint64() != 10 {
		t.Fatalf("receiver balance = %d, want 10", bal.Uint64())
	}
}

func TestServiceGrowRejectsOutOfOrder(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	open := &types.OpenBlock{
		Header: &types.Header{ParentHash: common.Hash{}, Height: 2, QuotaLimit: 1_000_000},
	}
	closed, err := svc.Execute(ctx, open)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := svc.Grow(ctx, closed); err != ErrBlockOutOfOrder {
		t.Fatalf("err = %v, want ErrBlockOutOfOrder", err)
	}
}

func TestServiceLoadExecutedResultReconstructsFromIndex(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	growBlock(t, ctx, svc, 1, common.Hash{}, nil)

	// Drop the in-memory cache entry so LoadExecutedResult has to rebuild
	// the result from the persisted header and receipts index.
	if _, err := svc.dispatch(ctx, func() (any, error) {
		delete(svc.results, 1)
		return nil, nil
	}); err != nil {
		t.Fatalf("drop cached result: %v", err)
	}
	result, err := svc.LoadExecutedResult(ctx, 1)
	if err != nil {
		t.Fatalf("load executed result: %v", err)
	}
	if result.Header.Height != 1 {
		t.Fatalf("height = %d, want 1", result.Header.Height)
	}
}

func TestServiceExitRollsBackHeight(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	r1 := growBlock(t, ctx, svc, 1, common.Hash{}, nil)
	growBlock(t, ctx, svc, 2, r1.Header.Hash(), nil)

	md, err := svc.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.CurrentHeight != 2 {
		t.Fatalf("CurrentHeight = %d, want 2", md.CurrentHeight)
	}

	if err := svc.Exit(ctx, types.TagHeight(1)); err != nil {
		t.Fatalf("exit: %v", err)
	}

	// Exit rewinds the executor's head to height 1 before Run's loop
	// returns.
	if svc.currentHeight != 1 {
		t.Fatalf("CurrentHeight after exit = %d, want 1", svc.currentHeight)
	}
}

func TestETHCallDoesNotMutateLiveState(t *testing.T) {
	svc := newTestService(t)
	ctx, _ := runService(t, svc)

	key := newTestKey(t)
	sender := key.address(t)
	to := common.HexToAddress("0xcafe")

	out, err := svc.ETHCall(ctx, types.TagPendingBlock(), sender, to, 100_000, common.ZeroU256(), nil)
	if err != nil {
		t.Fatalf("eth call: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("output = %x, want empty", out)
	}

	md, err := svc.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.CurrentHeight != 0 {
		t.Fatalf("CurrentHeight = %d, want 0 (ETHCall must not grow the chain)", md.CurrentHeight)
	}
}
