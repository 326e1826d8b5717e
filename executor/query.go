package executor

import (
	"context"
	"fmt"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/core"
	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
)

// nonceUint64 folds a U256 nonce down to uint64 the way core's admission
// check does, saturating to 0 if it overflows (never happens in practice).
func nonceUint64(n *common.U256) uint64 {
	if n.IsUint64() {
		return n.Uint64()
	}
	return 0
}

// resolveHeight turns a BlockTag into a concrete height (spec §4.5:
// "Latest = current_height - 1, Pending = current_height"). Must run on
// the owning goroutine; callers reach it only through dispatch.
func (s *Service) resolveHeight(tag types.BlockTag) (uint64, error) {
	switch tag.Kind {
	case types.TagByHeight:
		return tag.Height, nil
	case types.TagByHash:
		if tag.Hash == s.currentHash {
			return s.currentHeight, nil
		}
		return s.heightOf(tag.Hash)
	case types.TagByName:
		switch tag.Name {
		case types.TagEarliest:
			return 0, nil
		case types.TagLatest:
			if s.currentHeight == 0 {
				return 0, nil
			}
			return s.currentHeight - 1, nil
		case types.TagPending:
			return s.currentHeight, nil
		}
	}
	return 0, fmt.Errorf("executor: unrecognized block tag")
}

// stateAt returns a read-only State view at height. Only the current
// height (what Pending resolves to) is served from a clone of the live
// state; any other height, Latest (current_height-1) included, reopens a
// trie at that height's persisted state root.
func (s *Service) stateAt(height uint64) (*state.State, error) {
	if height == s.currentHeight {
		return s.state.Clone()
	}
	header, err := s.headerAt(height)
	if err != nil {
		return nil, err
	}
	return state.New(header.StateRoot, s.nodeDB, s.nodeDB, s.codeLoader, s.codeStore)
}

// StateAt returns a read-only clone of the state at tag.
func (s *Service) StateAt(ctx context.Context, tag types.BlockTag) (*state.State, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		return s.stateAt(height)
	})
	if err != nil {
		return nil, err
	}
	return v.(*state.State), nil
}

// CloneExecutorReader is StateAt(Pending), named separately because
// callers (Chain, RPC) reach for it specifically to get a reader sharing
// the live trie database without pinning a height (spec §13).
func (s *Service) CloneExecutorReader(ctx context.Context) (*state.State, error) {
	return s.StateAt(ctx, types.TagPendingBlock())
}

// CodeAt returns addr's code at tag.
func (s *Service) CodeAt(ctx context.Context, addr common.Address, tag types.BlockTag) ([]byte, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		st, err := s.stateAt(height)
		if err != nil {
			return nil, err
		}
		return st.CodeAt(addr)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// BalanceAt returns addr's balance at tag.
func (s *Service) BalanceAt(ctx context.Context, addr common.Address, tag types.BlockTag) (*common.U256, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		st, err := s.stateAt(height)
		if err != nil {
			return nil, err
		}
		return st.Balance(addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*common.U256), nil
}

// NonceAt returns addr's nonce at tag.
func (s *Service) NonceAt(ctx context.Context, addr common.Address, tag types.BlockTag) (*common.U256, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		st, err := s.stateAt(height)
		if err != nil {
			return nil, err
		}
		return st.Nonce(addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*common.U256), nil
}

// Call simulates tx against a throwaway clone of the state at tag and
// returns the execution outcome without ever touching the live State
// (spec §4.5 "ETHCall/Call"): a checkpoint-free clone makes the simulation
// naturally non-persistent since nothing ever commits it back.
func (s *Service) Call(ctx context.Context, tag types.BlockTag, tx *types.Transaction) (*core.Executed, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		st, err := s.stateAt(height)
		if err != nil {
			return nil, err
		}
		header := s.currentHeader
		env := &vm.EnvInfo{GasLimit: tx.Gas, Difficulty: common.ZeroU256()}
		if header != nil {
			env.Number = header.Height
			env.Timestamp = header.Timestamp
			env.Coinbase = header.Proposer
		}
		gasPool := new(core.GasPool).AddGas(tx.Gas)
		exec := core.NewExecutive(st, s.schedule, s.precompiles, s.natives, s.permission, env, s.blockHashAt, gasPool, 0)
		return exec.Transact(tx, core.TransactOptions{})
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Executed), nil
}

// ETHCall is Call's RPC-facing convenience: it builds the unsigned call
// transaction itself (spec §4.5 lists ETHCall and Call as distinct ops;
// ETHCall is the wire-shaped entrypoint, Call the internal primitive).
// Transact's nonce check runs unconditionally, so ETHCall reads from's
// current nonce at tag before building the simulated transaction rather
// than assuming zero.
func (s *Service) ETHCall(ctx context.Context, tag types.BlockTag, from, to common.Address, gas uint64, value *common.U256, data []byte) ([]byte, error) {
	nonce, err := s.NonceAt(ctx, from, tag)
	if err != nil {
		return nil, err
	}
	tx := types.NewCallTransaction(from, nonceUint64(nonce), common.ZeroU256(), gas, types.ActionCall, to, value, data)
	executed, err := s.Call(ctx, tag, tx)
	if err != nil {
		return nil, err
	}
	return executed.Output, nil
}
