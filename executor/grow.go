package executor

import (
	"context"
	"fmt"

	"github.com/citahub/cita-sub002/core/state"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/rlp"
)

// Grow applies a completed, proof-attached ClosedBlock to the executor's
// persistent chain head (spec §4.5): it detects permission-affecting
// writes, persists the header/hash index and trie nodes, advances
// current_height/current_hash, and returns the ExecutedResult Postman
// forwards to Chain.
func (s *Service) Grow(ctx context.Context, closed *types.ClosedBlock) (*types.ExecutedResult, error) {
	v, err := s.dispatch(ctx, func() (any, error) { return s.grow(closed) })
	if err != nil {
		return nil, err
	}
	return v.(*types.ExecutedResult), nil
}

func (s *Service) grow(closed *types.ClosedBlock) (*types.ExecutedResult, error) {
	header := closed.Header
	if header.Height != s.currentHeight+1 {
		return nil, ErrBlockOutOfOrder
	}
	if header.ParentHash != s.currentHash {
		return nil, ErrBlockNotLinked
	}

	if err := s.nodeDB.Commit(s.nodeWriter); err != nil {
		return nil, fmt.Errorf("executor: commit trie nodes for height %d: %w", header.Height, err)
	}

	hash := closed.Hash()
	receiptsEnc, err := rlp.EncodeToBytes(closed.Receipts)
	if err != nil {
		return nil, fmt.Errorf("executor: encode receipts for height %d: %w", header.Height, err)
	}
	batch := s.store.NewBatch()
	if err := s.putHeader(batch, header.Height, header); err != nil {
		return nil, err
	}
	if err := batch.Put(db.Key(colExecReceipts, hash.Bytes()), receiptsEnc); err != nil {
		return nil, err
	}
	if err := s.setCurrent(batch, header.Height, hash); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("executor: persist height %d: %w", header.Height, err)
	}

	if touched := s.touchesSystemAddress(closed); touched {
		s.log.Debug("system address touched, reloading permissions", "height", header.Height)
		if s.reloadPerms != nil {
			creators, senders, err := s.reloadPerms(s.state)
			if err != nil {
				return nil, fmt.Errorf("executor: reload permissions: %w", err)
			}
			s.permission.SetCreators(creators)
			s.permission.SetSenders(senders)
		}
		if s.loadConsensus != nil {
			cfg, err := s.loadConsensus(s.state)
			if err != nil {
				return nil, fmt.Errorf("executor: reload consensus config: %w", err)
			}
			s.consensusCfg = cfg
		}
	}

	s.currentHeight = header.Height
	s.currentHash = hash
	s.currentHeader = header

	result := &types.ExecutedResult{
		Config:   s.consensusCfg,
		Header:   header,
		Receipts: closed.Receipts,
	}
	s.results[header.Height] = result
	s.log.Info("grew block", "height", header.Height, "hash", hash.Hex(), "tx_count", len(closed.Transactions))
	return result, nil
}

// touchesSystemAddress approximates "did this block touch a system
// contract" by scanning call targets and created-contract addresses
// against the configured system address set (spec §13: State's per-block
// dirty-address set is private to core/state, so Grow cannot diff it
// directly; this is a documented simplification, not a literal dirty-set
// read).
func (s *Service) touchesSystemAddress(closed *types.ClosedBlock) bool {
	if len(s.systemAddresses) == 0 {
		return false
	}
	for _, tx := range closed.Transactions {
		if tx.Action == types.ActionCall {
			if _, ok := s.systemAddresses[tx.To]; ok {
				return true
			}
		}
	}
	for _, r := range closed.Receipts {
		if r.ContractAddress.IsZero() {
			continue
		}
		if _, ok := s.systemAddresses[r.ContractAddress]; ok {
			return true
		}
	}
	return false
}

// LoadExecutedResult returns the ExecutedResult for height, from the
// in-memory cache if present, otherwise reconstructed from the persisted
// header+receipts index (spec §4.6 "resend cached ExecutedResult"). A
// reconstructed result reuses the *current* cached ConsensusConfig rather
// than the one in effect at that historical height (spec §13
// simplification: the executor does not keep a full history of
// ConsensusConfig values, only the current one and whatever heights
// Postman's 3-height prune window still has cached).
func (s *Service) LoadExecutedResult(ctx context.Context, height uint64) (*types.ExecutedResult, error) {
	v, err := s.dispatch(ctx, func() (any, error) {
		if r, ok := s.results[height]; ok {
			return r, nil
		}
		header, err := s.headerAt(height)
		if err != nil {
			return nil, err
		}
		hash := header.Hash()
		enc, err := s.store.Get(db.Key(colExecReceipts, hash.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("executor: load receipts for height %d: %w", height, err)
		}
		var receipts []*types.Receipt
		if err := rlp.DecodeBytes(enc, &receipts); err != nil {
			return nil, fmt.Errorf("executor: decode receipts for height %d: %w", height, err)
		}
		return &types.ExecutedResult{Config: s.consensusCfg, Header: header, Receipts: receipts}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ExecutedResult), nil
}

// Exit rolls the chain head back to tag's height and terminates Run after
// this command completes (spec §4.5 "On Exit(tag): rollback current
// header to the specified height's header by rewriting the CurrentHash
// index; close.").
func (s *Service) Exit(ctx context.Context, tag types.BlockTag) error {
	_, err := s.dispatch(ctx, func() (any, error) {
		height, err := s.resolveHeight(tag)
		if err != nil {
			return nil, err
		}
		header, err := s.headerAt(height)
		if err != nil {
			return nil, err
		}
		hash := header.Hash()
		batch := s.store.NewBatch()
		if err := s.setCurrent(batch, height, hash); err != nil {
			return nil, err
		}
		if err := batch.Write(); err != nil {
			return nil, fmt.Errorf("executor: persist rollback to height %d: %w", height, err)
		}
		st, err := state.New(header.StateRoot, s.nodeDB, s.nodeDB, s.codeLoader, s.codeStore)
		if err != nil {
			return nil, fmt.Errorf("executor: reopen state at height %d: %w", height, err)
		}
		s.state = st
		s.currentHeight = height
		s.currentHash = hash
		s.currentHeader = header
		for h := range s.results {
			if h > height {
				delete(s.results, h)
			}
		}
		s.exiting = true
		s.log.Warn("executor rolled back", "height", height, "hash", hash.Hex())
		return nil, nil
	})
	return err
}
