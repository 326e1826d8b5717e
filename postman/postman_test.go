package postman

import (
	"context"
	"testing"
	"time"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/executor"
)

func newTestExecutor(t *testing.T) *executor.Service {
	t.Helper()
	svc, err := executor.New(executor.Options{
		Store:       db.NewMemoryDB(),
		Schedule:    vm.DefaultSchedule(),
		Precompiles: core.NewPrecompileRegistry(),
		Natives:     core.NewNativeRegistry(),
		Permission:  core.NewPermissionManager(),
		ChainID:     1,
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return svc
}

func runExecutor(t *testing.T, svc *executor.Service) context.Context {
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
	return ctx
}

func openBlockAt(height uint64, parent common.Hash) *types.OpenBlock {
	return &types.OpenBlock{
		Header: &types.Header{
			ParentHash: parent,
			Height:     height,
			QuotaLimit: 1_000_000,
		},
	}
}

func runPostman(t *testing.T, ctx context.Context, p *Postman) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	return errCh
}

func TestPostmanGrowsProposalChainToHeightOne(t *testing.T) {
	svc := newTestExecutor(t)
	ctx := runExecutor(t, svc)

	var notified []*types.ExecutedResult
	p := New(Options{
		Executor: svc,
		Notify: func(_ context.Context, _ *types.ClosedBlock, r *types.ExecutedResult) error {
			notified = append(notified, r)
			return nil
		},
	})
	runPostman(t, ctx, p)

	if err := p.SubmitProposal(ctx, openBlockAt(1, common.Hash{})); err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	// Proposal alone has no proof, so the backlog cannot complete yet.
	time.Sleep(50 * time.Millisecond)
	if p.CurrentHeight() != 0 {
		t.Fatalf("height advanced to %d on proof-less proposal alone", p.CurrentHeight())
	}

	if err := p.SubmitSyncBlock(ctx, openBlockAt(1, common.Hash{})); err != nil {
		t.Fatalf("submit sync block: %v", err)
	}

	waitForHeight(t, p, 1)
	if len(notified) != 1 {
		t.Fatalf("notified %d results, want 1", len(notified))
	}
	if notified[0].Header.Height != 1 {
		t.Fatalf("notified height = %d, want 1", notified[0].Header.Height)
	}
}

func waitForHeight(t *testing.T, p *Postman, height uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.CurrentHeight() != height {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for height %d, at %d", height, p.CurrentHeight())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPostmanDiscardsStaleAndLowerPriorityMessages(t *testing.T) {
	bs := NewBacklogs(5, common.Hash{})
	if bs.InsertProposal(openBlockAt(5, common.Hash{})) {
		t.Fatal("expected proposal at or below current height to be discarded")
	}
	if !bs.InsertProposal(openBlockAt(6, common.Hash{})) {
		t.Fatal("expected fresh proposal to be accepted")
	}
	// A plain Proposal must not be able to downgrade an entry that already
	// holds a higher-priority BlockWithProof.
	bs.InsertCompletedResult(5, &types.ExecutedResult{Header: &types.Header{Height: 5}})
	open := openBlockAt(6, common.Hash{})
	if !bs.InsertBlockWithProof(open, nil, nil) {
		t.Fatal("expected block with proof to be accepted once height 5 is cached")
	}
	if bs.InsertProposal(openBlockAt(6, common.Hash{})) {
		t.Fatal("lower-priority Proposal must not overwrite an existing BlockWithProof entry")
	}
	if bs.entries[6].openBlock != open {
		t.Fatal("entry's open block changed despite the rejected insert")
	}
}

func TestBacklogCompleteRequiresProofAndMatch(t *testing.T) {
	bs := NewBacklogs(0, common.Hash{})
	open := openBlockAt(1, common.Hash{})
	bs.InsertProposal(open)
	if err := bs.CheckCompleted(1); err == nil {
		t.Fatal("expected incomplete backlog (no closed block yet) to fail")
	}

	closed := &types.ClosedBlock{
		Header: &types.Header{ParentHash: common.Hash{}, Height: 1, QuotaLimit: 1_000_000},
	}
	bs.InsertClosed(1, closed)
	if err := bs.CheckCompleted(1); err == nil {
		t.Fatal("expected still-missing proof to fail completion")
	}
}

func TestPrunedKeepsLastThreeHeights(t *testing.T) {
	bs := NewBacklogs(10, common.Hash{})
	for h := uint64(1); h <= 10; h++ {
		bs.InsertCompletedResult(h, &types.ExecutedResult{Header: &types.Header{Height: h}})
	}
	bs.Prune(11)
	for h := uint64(1); h <= 7; h++ {
		if _, ok := bs.GetCompletedResult(h); ok {
			t.Fatalf("height %d should have been pruned", h)
		}
	}
	for h := uint64(8); h <= 10; h++ {
		if _, ok := bs.GetCompletedResult(h); !ok {
			t.Fatalf("height %d should be retained within the 3-height window", h)
		}
	}
}

func TestErrRollbackMessage(t *testing.T) {
	err := &ErrRollback{Height: 42}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
