package core

import (
	"testing"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
)

func TestBlockProcessorAppliesTransactionsInOrder(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(10_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	to := common.HexToAddress("0xcafe")
	txs := []*types.Transaction{
		signedTx(t, key, 0, types.ActionCall, to, common.NewU256(10), 30_000, nil),
		signedTx(t, key, 1, types.ActionCall, to, common.NewU256(20), 30_000, nil),
	}

	block := &types.OpenBlock{
		Header: &types.Header{
			Height:     1,
			QuotaLimit: 1_000_000,
			Proposer:   common.HexToAddress("0xfee"),
		},
		Transactions: txs,
	}

	p := NewBlockProcessor(st, vm.DefaultSchedule(), NewPrecompileRegistry(), NewNativeRegistry(), NewPermissionManager(), func(uint64) (common.Hash, error) { return common.Hash{}, nil }, 0)
	closed, err := p.Process(block, TransactOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(closed.Receipts) != 2 {
		t.Fatalf("receipts = %d, want 2", len(closed.Receipts))
	}
	for i, r := range closed.Receipts {
		if r.Exception != types.ExcNone {
			t.Fatalf("receipt %d exception = %v, want none", i, r.Exception)
		}
	}
	if closed.Receipts[0].CumulativeGas > closed.Receipts[1].CumulativeGas {
		t.Fatalf("cumulative gas must be non-decreasing: %d then %d", closed.Receipts[0].CumulativeGas, closed.Receipts[1].CumulativeGas)
	}

	bal, err := st.Balance(to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Uint64() != 30 {
		t.Fatalf("receiver balance = %d, want 30", bal.Uint64())
	}

	if closed.Header.StateRoot.IsZero() {
		t.Fatalf("state root not set after commit")
	}
}

func TestBlockProcessorAbortsOnAdmissionRejection(t *testing.T) {
	st := newTestState(t)
	key := newTestKey(t)
	sender := key.address(t)
	if err := st.AddBalance(sender, common.NewU256(10_000_000)); err != nil {
		t.Fatalf("fund sender: %v", err)
	}

	// Nonce 1 instead of 0: rejected at admission.
	txs := []*types.Transaction{
		signedTx(t, key, 1, types.ActionStore, common.Address{}, common.ZeroU256(), 10_000, nil),
	}
	block := &types.OpenBlock{
		Header:       &types.Header{Height: 1, QuotaLimit: 1_000_000},
		Transactions: txs,
	}

	p := NewBlockProcessor(st, vm.DefaultSchedule(), NewPrecompileRegistry(), NewNativeRegistry(), NewPermissionManager(), func(uint64) (common.Hash, error) { return common.Hash{}, nil }, 0)
	if _, err := p.Process(block, TransactOptions{}); err != ErrInvalidNonce {
		t.Fatalf("err = %v, want ErrInvalidNonce", err)
	}
}
