package postman

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/executor"
	"github.com/citahub/cita-sub002/log"
)

// ExecutedResultSink forwards a grown block's ClosedBlock and resulting
// ExecutedResult to the Chain facade, which persists the header/body/
// receipts/bloom index (spec §4.6 "Postman grows chain height, broadcasts
// ExecutedResult to Chain"). The ClosedBlock carries the transactions
// ExecutedResult itself does not retain, since Chain's body index needs
// them.
type ExecutedResultSink func(ctx context.Context, closed *types.ClosedBlock, result *types.ExecutedResult) error

// Options configures a new Postman.
type Options struct {
	CurrentHeight uint64
	CurrentHash   common.Hash
	Executor      *executor.Service
	Notify        ExecutedResultSink
	ValidateProof ProofValidator
	Logger        *log.Logger

	// GenesisResult seeds the completed-result cache at CurrentHeight, the
	// way the Rust original's bootstrap_broadcast publishes the consensus
	// config in effect at startup: without it, growing CurrentHeight+2
	// would find no cached result to validate CurrentHeight+1's embedded
	// proof against (CurrentHeight+1 itself is exempt only when
	// CurrentHeight is 0, genesis's proof being unconditionally valid).
	GenesisResult *types.ExecutedResult
}

type msgKind int

const (
	msgProposal msgKind = iota
	msgSyncBlock
	msgBlockWithProof
	msgStateSignal
	msgRichStatus
)

type message struct {
	kind         msgKind
	open         *types.OpenBlock
	presentProof []byte
	height       uint64
}

// Postman is the single-threaded actor that owns Backlogs and drives the
// executor's FSM channel (spec §4.6, §5 "owner of Backlog"). Unlike the
// Rust original, whose executor FSM is an async message queue requiring
// Postman to select between an inbound-message channel and a separate
// FSM-response channel, this Go executor.Service already blocks
// Execute/Grow until the owning goroutine replies, so Postman's run loop
// only ever selects on one channel: a completed Execute/Grow round trip
// happens inline within the same message handler that triggered it.
type Postman struct {
	backlogs      *Backlogs
	executor      *executor.Service
	notify        ExecutedResultSink
	validateProof ProofValidator
	log           *log.Logger

	inbox chan message
	// height mirrors backlogs.CurrentHeight() for lock-free reads from
	// outside the actor goroutine (CurrentHeight is the one query that
	// callers reasonably poll without round-tripping through inbox).
	height atomic.Uint64
}

// New creates a Postman rooted at the executor's persisted chain head.
func New(opts Options) *Postman {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	backlogs := NewBacklogs(opts.CurrentHeight, opts.CurrentHash)
	if opts.GenesisResult != nil {
		backlogs.InsertCompletedResult(opts.CurrentHeight, opts.GenesisResult)
	}
	p := &Postman{
		backlogs:      backlogs,
		executor:      opts.Executor,
		notify:        opts.Notify,
		validateProof: opts.ValidateProof,
		log:           opts.Logger.Module("postman"),
		inbox:         make(chan message),
	}
	p.height.Store(opts.CurrentHeight)
	return p
}

func (p *Postman) send(ctx context.Context, msg message) error {
	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitProposal queues an unproofed consensus proposal.
func (p *Postman) SubmitProposal(ctx context.Context, open *types.OpenBlock) error {
	return p.send(ctx, message{kind: msgProposal, open: open})
}

// SubmitSyncBlock queues a block recovered via catch-up sync.
func (p *Postman) SubmitSyncBlock(ctx context.Context, open *types.OpenBlock) error {
	return p.send(ctx, message{kind: msgSyncBlock, open: open})
}

// SubmitBlockWithProof queues a consensus-committed block together with
// the proof minted for its own height.
func (p *Postman) SubmitBlockWithProof(ctx context.Context, open *types.OpenBlock, presentProof []byte) error {
	return p.send(ctx, message{kind: msgBlockWithProof, open: open, presentProof: presentProof})
}

// SubmitStateSignal queues Chain's report of its own persisted height
// (spec §4.6 "StateSignal(h_chain) from Chain").
func (p *Postman) SubmitStateSignal(ctx context.Context, chainHeight uint64) error {
	return p.send(ctx, message{kind: msgStateSignal, height: chainHeight})
}

// SubmitRichStatus queues a consensus RichStatus notification, used only
// to drive the backlog's prune window forward.
func (p *Postman) SubmitRichStatus(ctx context.Context, height uint64) error {
	return p.send(ctx, message{kind: msgRichStatus, height: height})
}

// Run serves the inbox until ctx is cancelled or a crash-gap rollback is
// required, in which case it returns *ErrRollback for the supervisor to
// act on (spec §4.6, §9 Testable Property 6).
func (p *Postman) Run(ctx context.Context) error {
	p.log.Info("postman run loop starting", "height", p.backlogs.CurrentHeight())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.inbox:
			if err := p.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (p *Postman) handle(ctx context.Context, msg message) error {
	switch msg.kind {
	case msgProposal:
		p.backlogs.InsertProposal(msg.open)
		return p.progress(ctx)
	case msgSyncBlock:
		p.backlogs.InsertSynchronized(msg.open)
		return p.progress(ctx)
	case msgBlockWithProof:
		if !p.backlogs.InsertBlockWithProof(msg.open, msg.presentProof, p.validateProof) {
			p.log.Warn("rejected block with invalid or stale proof", "height", msg.open.Header.Height)
			return nil
		}
		return p.progress(ctx)
	case msgStateSignal:
		return p.replyStateSignal(ctx, msg.height)
	case msgRichStatus:
		p.backlogs.Prune(msg.height + 1)
		return nil
	default:
		return fmt.Errorf("postman: unknown message kind %d", msg.kind)
	}
}

// progress mirrors maybe_grow_up + execute_next_block: grow whatever is
// already completed, then hand the next height to the executor if it
// links to the (possibly just-advanced) chain head.
func (p *Postman) progress(ctx context.Context) error {
	if err := p.maybeGrowUp(ctx); err != nil {
		return err
	}
	return p.executeNextBlock(ctx)
}

// maybeGrowUp grows the chain head for every consecutive completed
// height (spec §4.6 growth step): commit to the executor, cache and
// forward the ExecutedResult, then try the next height in case it was
// already completed too (e.g. sync delivered several blocks at once).
func (p *Postman) maybeGrowUp(ctx context.Context) error {
	for {
		next := p.backlogs.CurrentHeight() + 1
		if !p.backlogs.IsCompletedAt(next) {
			return nil
		}
		closed, err := p.backlogs.Complete(next)
		if err != nil {
			return err
		}
		p.log.Info("postman notifying executor to grow up", "height", next)
		result, err := p.executor.Grow(ctx, closed)
		if err != nil {
			return fmt.Errorf("postman: grow to height %d: %w", next, err)
		}
		p.backlogs.InsertCompletedResult(next, result)
		p.height.Store(p.backlogs.CurrentHeight())
		if p.notify != nil {
			if err := p.notify(ctx, closed, result); err != nil {
				return fmt.Errorf("postman: notify chain of height %d: %w", next, err)
			}
		}
	}
}

// executeNextBlock hands the next height's open block to the executor's
// FSM if it is ready and not already executed.
func (p *Postman) executeNextBlock(ctx context.Context) error {
	next := p.backlogs.CurrentHeight() + 1
	open, err := p.backlogs.Ready(next)
	if err != nil {
		return nil
	}
	p.log.Debug("postman sending block to executor", "height", next)
	closed, err := p.executor.Execute(ctx, open)
	if err != nil {
		return fmt.Errorf("postman: execute height %d: %w", next, err)
	}
	p.backlogs.InsertClosed(next, closed)
	return p.maybeGrowUp(ctx)
}

// replyStateSignal reacts to Chain reporting its own persisted height: if
// Chain lags, resend what the prune window still has cached; if Chain is
// at or ahead of this height, nothing is sent. If Chain lags behind what
// this window still retains, it returns *ErrRollback for the crash-gap case (spec §4.6 "if
// an ExecutedResult is no longer cached... return control error
// RollbackTo(h_chain)").
func (p *Postman) replyStateSignal(ctx context.Context, chainHeight uint64) error {
	current := p.backlogs.CurrentHeight()
	if chainHeight < current {
		if err := p.resendExecutedInfo(ctx, chainHeight+1); err != nil {
			return err
		}
		for _, h := range p.backlogs.CompletedKeys() {
			if h > chainHeight+1 {
				if err := p.resendExecutedInfo(ctx, h); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resendExecutedInfo replays a cached height to Chain. The backlog's
// completed cache only retains the ExecutedResult (header, receipts,
// config), not the original ClosedBlock, so the replayed ClosedBlock
// carries no transaction bodies -- sufficient for Chain to rebuild its
// header/receipt/bloom index, but not its body index, for this height.
// A restarting Chain is expected to still hold its own previously
// persisted bodies; this path only repairs the state this process itself
// tracks.
func (p *Postman) resendExecutedInfo(ctx context.Context, height uint64) error {
	if height > p.backlogs.CurrentHeight() {
		return nil
	}
	result, ok := p.backlogs.GetCompletedResult(height)
	if !ok {
		p.log.Warn("chain lagging behind an uncached height, requesting rollback", "height", height)
		return &ErrRollback{Height: height - 1}
	}
	if p.notify == nil {
		return nil
	}
	var bloom common.Bloom
	for _, r := range result.Receipts {
		for i := range bloom {
			bloom[i] |= r.LogsBloom[i]
		}
	}
	closed := &types.ClosedBlock{
		Header:    result.Header,
		Receipts:  result.Receipts,
		LogsBloom: bloom,
	}
	return p.notify(ctx, closed, result)
}

// CurrentHeight exposes the backlog's chain-head height for callers
// wiring Postman into a supervisor. It reads the atomic mirror rather
// than backlogs directly since backlogs is owned by the Run goroutine
// and callers may poll from elsewhere.
func (p *Postman) CurrentHeight() uint64 { return p.height.Load() }
