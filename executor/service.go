// Package executor implements the single-threaded command/FSM loop that
// owns the writable world state (spec §4.5): one goroutine serves a
// command channel (queries and control) and an FSM channel (block
// execution) via select, exactly the actor the teacher's long-lived
// services are modeled as (pkg/node.Service/LifecycleManager).
package executor

import (
	"context"
	"fmt"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core"
	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/log"
	"github.com/citahub/cita-sub002/trie"
)

// ReloadPermissionsFunc re-derives the creator/sender permission sets from
// live state after a block touches a system-contract address (spec §4.5
// "reload global sys-config"). Decoding the actual system-contract storage
// layout is contract-language semantics the interpreter does not model
// (spec Non-goals), so callers that care wire their own decoder here; a
// nil func makes Grow's permission-change detection a no-op observation
// logged at Debug rather than acted on.
type ReloadPermissionsFunc func(st *state.State) (creators, senders []common.Address, err error)

// ConsensusConfigFunc loads the ConsensusConfig to attach to a growth's
// ExecutedResult. The default (nil) keeps whatever config Service was
// constructed with.
type ConsensusConfigFunc func(st *state.State) (types.ConsensusConfig, error)

// Options configures a new Service.
type Options struct {
	Store             db.KeyValueStore
	Schedule          *vm.Schedule
	Precompiles       *core.PrecompileRegistry
	Natives           *core.NativeRegistry
	Permission        *core.PermissionManager
	AccountGasLimit   uint64
	CheckPermission   bool
	CheckQuota        bool
	ChainID           uint64
	GenesisBlock      *types.OpenBlock // replayed through the processor on first start (spec §13 "genesis lazy-execution bootstrap")
	SystemAddresses   []common.Address
	ReloadPermissions ReloadPermissionsFunc
	LoadConsensus     ConsensusConfigFunc
	Logger            *log.Logger
}

// task is one queued command; fn runs on the owning goroutine and its
// result is delivered over reply.
type task struct {
	fn    func() (any, error)
	reply chan taskResult
}

type taskResult struct {
	val any
	err error
}

// fsmRequest is one queued block execution.
type fsmRequest struct {
	block *types.OpenBlock
	reply chan fsmResponse
}

type fsmResponse struct {
	closed *types.ClosedBlock
	err    error
}

// Service is the executor actor: it owns state and the header chain head,
// and is never touched by any other goroutine except through cmdCh/fsmCh
// (spec §5 "the owner of mutable State").
type Service struct {
	store           db.KeyValueStore
	nodeDB          *trie.NodeDatabase
	nodeWriter      trie.NodeWriter
	schedule        *vm.Schedule
	precompiles     *core.PrecompileRegistry
	natives         *core.NativeRegistry
	permission      *core.PermissionManager
	accountGasLimit uint64
	checkPermission bool
	checkQuota      bool
	chainID         uint64
	systemAddresses map[common.Address]struct{}
	reloadPerms     ReloadPermissionsFunc
	loadConsensus   ConsensusConfigFunc
	log             *log.Logger

	state          *state.State
	currentHeight  uint64
	currentHash    common.Hash
	currentHeader  *types.Header
	consensusCfg   types.ConsensusConfig
	results        map[uint64]*types.ExecutedResult

	cmdCh   chan task
	fsmCh   chan fsmRequest
	exiting bool
}

// New opens the executor over store, reconstructing its chain head from
// the persisted index if present, or replaying opts.GenesisBlock if this
// is a fresh start (spec §13 "genesis lazy-execution bootstrap": replay
// genesis through the ordinary block-processor path rather than
// special-casing genesis state).
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	reader, writer := trie.NewStoreNodeDB(opts.Store)
	nodeDB := trie.NewNodeDatabase(reader)

	s := &Service{
		store:           opts.Store,
		nodeDB:          nodeDB,
		nodeWriter:      writer,
		schedule:        opts.Schedule,
		precompiles:     opts.Precompiles,
		natives:         opts.Natives,
		permission:      opts.Permission,
		accountGasLimit: opts.AccountGasLimit,
		checkPermission: opts.CheckPermission,
		checkQuota:      opts.CheckQuota,
		chainID:         opts.ChainID,
		systemAddresses: make(map[common.Address]struct{}, len(opts.SystemAddresses)),
		reloadPerms:     opts.ReloadPermissions,
		loadConsensus:   opts.LoadConsensus,
		log:             opts.Logger.Module("executor"),
		results:         make(map[uint64]*types.ExecutedResult),
		cmdCh:           make(chan task),
		fsmCh:           make(chan fsmRequest),
	}
	for _, a := range opts.SystemAddresses {
		s.systemAddresses[a] = struct{}{}
	}

	height, hash, ok, err := s.loadCurrent()
	if err != nil {
		return nil, fmt.Errorf("executor: load current head: %w", err)
	}
	if !ok {
		return s.bootstrap(opts.GenesisBlock)
	}

	header, err := s.headerAt(height)
	if err != nil {
		return nil, fmt.Errorf("executor: load head header %d: %w", height, err)
	}
	st, err := state.New(header.StateRoot, nodeDB, nodeDB, s.codeLoader, s.codeStore)
	if err != nil {
		return nil, fmt.Errorf("executor: open state at head: %w", err)
	}
	s.state = st
	s.currentHeight = height
	s.currentHash = hash
	s.currentHeader = header
	s.log.Info("executor resumed", "height", height, "hash", hash.Hex())
	return s, nil
}

// bootstrap replays genesis and installs it as height 0 (spec §13).
func (s *Service) bootstrap(genesis *types.OpenBlock) (*Service, error) {
	st, err := state.New(common.Hash{}, s.nodeDB, s.nodeDB, s.codeLoader, s.codeStore)
	if err != nil {
		return nil, fmt.Errorf("executor: open genesis state: %w", err)
	}
	s.state = st

	if genesis == nil {
		// No genesis supplied: start from an empty state at height 0
		// without a persisted header; the first real block closes
		// height 1 against parent-hash zero.
		s.log.Info("executor bootstrapped with empty genesis")
		return s, nil
	}

	proc := core.NewBlockProcessor(s.state, s.schedule, s.precompiles, s.natives, s.permission, s.blockHashAt, s.accountGasLimit)
	closed, err := proc.Process(genesis, core.TransactOptions{CheckPermission: s.checkPermission, CheckQuota: s.checkQuota})
	if err != nil {
		return nil, fmt.Errorf("executor: replay genesis: %w", err)
	}
	if err := s.nodeDB.Commit(s.nodeWriter); err != nil {
		return nil, fmt.Errorf("executor: commit genesis trie: %w", err)
	}
	batch := s.store.NewBatch()
	if err := s.putHeader(batch, 0, closed.Header); err != nil {
		return nil, err
	}
	if err := s.setCurrent(batch, 0, closed.Hash()); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("executor: persist genesis: %w", err)
	}
	s.currentHeight = 0
	s.currentHash = closed.Hash()
	s.currentHeader = closed.Header
	s.log.Info("executor bootstrapped from genesis", "hash", s.currentHash.Hex())
	return s, nil
}

// colExecCode is the executor's own column for contract bytecode, keyed by
// code hash; distinct from ColTrieNode's trie-node-by-hash keyspace even
// though both are content-addressed, to keep the two concerns legible in
// the store.
const colExecCode = "xo"

func (s *Service) codeLoader(h common.Hash) ([]byte, error) {
	v, err := s.store.Get(db.Key(colExecCode, h.Bytes()))
	if err == db.ErrNotFound {
		return nil, nil
	}
	return v, err
}

func (s *Service) codeStore(h common.Hash, code []byte) error {
	return s.store.Put(db.Key(colExecCode, h.Bytes()), code)
}

func (s *Service) blockHashAt(height uint64) (common.Hash, error) {
	return s.hashAt(height)
}

// Run serves the command and FSM channels until ctx is cancelled or Exit
// has processed, matching spec §5's single cooperative select loop.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("executor run loop starting", "height", s.currentHeight)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-s.cmdCh:
			val, err := t.fn()
			t.reply <- taskResult{val: val, err: err}
			if s.exiting {
				s.log.Info("executor exiting", "height", s.currentHeight)
				return nil
			}
		case req := <-s.fsmCh:
			closed, err := s.execute(req.block)
			req.reply <- fsmResponse{closed: closed, err: err}
		}
	}
}

// dispatch queues fn on the owning goroutine and waits for its result,
// the single chokepoint every exported command method funnels through.
func (s *Service) dispatch(ctx context.Context, fn func() (any, error)) (any, error) {
	reply := make(chan taskResult, 1)
	select {
	case s.cmdCh <- task{fn: fn, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute sends block to the FSM channel and waits for the resulting
// ClosedBlock (spec §4.5 "FSM channel (block stream)").
func (s *Service) Execute(ctx context.Context, block *types.OpenBlock) (*types.ClosedBlock, error) {
	reply := make(chan fsmResponse, 1)
	select {
	case s.fsmCh <- fsmRequest{block: block, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.closed, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute runs block through a BlockProcessor over the live state. It
// mutates s.state directly and commits its trie writes into the in-memory
// node-database dirty cache; nothing is flushed to the persistent store
// until a matching Grow arrives (spec §13 "no separate speculative/pending
// state is modeled" -- the live State doubles as the one-and-only pending
// view, so a block sent here that never grows still leaves its writes
// applied; the actor model gives Postman no path to feed Execute a block
// it isn't already committed to completing).
func (s *Service) execute(block *types.OpenBlock) (*types.ClosedBlock, error) {
	proc := core.NewBlockProcessor(s.state, s.schedule, s.precompiles, s.natives, s.permission, s.blockHashAt, s.accountGasLimit)
	closed, err := proc.Process(block, core.TransactOptions{CheckPermission: s.checkPermission, CheckQuota: s.checkQuota})
	if err != nil {
		s.log.Warn("block execution failed", "height", block.Header.Height, "err", err)
		return nil, err
	}
	s.log.Debug("block executed", "height", closed.Header.Height, "gas_used", closed.Header.GasUsed)
	return closed, nil
}

// ChainID returns the configured chain identifier.
func (s *Service) ChainID(ctx context.Context) (uint64, error) {
	v, err := s.dispatch(ctx, func() (any, error) { return s.chainID, nil })
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Metadata is the small status blob RPC's metaData request surfaces.
type Metadata struct {
	ChainID       uint64
	CurrentHeight uint64
	CurrentHash   common.Hash
	Validators    []common.Address
	BlockInterval uint64
}

// Metadata returns the executor's current chain-identity and consensus
// snapshot.
func (s *Service) Metadata(ctx context.Context) (Metadata, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		return Metadata{
			ChainID:       s.chainID,
			CurrentHeight: s.currentHeight,
			CurrentHash:   s.currentHash,
			Validators:    s.consensusCfg.Validators,
			BlockInterval: s.consensusCfg.BlockInterval,
		}, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}
