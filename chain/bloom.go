package chain

import (
	"encoding/binary"

	"github.com/citahub/cita-sub002/common"
	"github.com/citahub/cita-sub002/db"
)

// groupSize is the fan-out of the bloom-group chain: each group holds 16
// entries, and each level's entry aggregates 16 entries of the level
// beneath it (spec §4.7 "three-level bloom-group chain with 16 entries
// per group"), the scheme the Rust original borrows from the bloomchain
// crate's BloomGroupChain.
const groupSize = 16

// bloomLevels is the chain's depth: level 0 holds exact per-block blooms,
// levels 1 and 2 hold coarser OR-reductions used to skip whole ranges
// during a logs scan without touching every block's bloom.
const bloomLevels = 3

// groupPosition maps a block number to its (groupIndex, elementIndex)
// address within a level: level 0 addresses individual blocks directly,
// each higher level addresses groupSize-wide buckets of the level below.
func groupPosition(level int, number uint64) (groupIndex uint64, elementIndex uint64) {
	for i := 0; i < level; i++ {
		number /= groupSize
	}
	return number / groupSize, number % groupSize
}

func groupKey(level int, groupIndex uint64) []byte {
	b := make([]byte, 9)
	b[0] = byte(level)
	binary.BigEndian.PutUint64(b[1:], groupIndex)
	return db.Key(colBloomGroups, b)
}

func (c *Chain) loadGroup(level int, groupIndex uint64) ([groupSize]common.Bloom, error) {
	var group [groupSize]common.Bloom
	v, err := c.store.Get(groupKey(level, groupIndex))
	if err == db.ErrNotFound {
		return group, nil
	}
	if err != nil {
		return group, err
	}
	for i := 0; i < groupSize && (i+1)*common.BloomLength <= len(v); i++ {
		group[i] = common.BytesToBloom(v[i*common.BloomLength : (i+1)*common.BloomLength])
	}
	return group, nil
}

func (c *Chain) saveGroup(batch db.Batch, level int, groupIndex uint64, group [groupSize]common.Bloom) error {
	buf := make([]byte, 0, groupSize*common.BloomLength)
	for _, b := range group {
		buf = append(buf, b.Bytes()...)
	}
	return batch.Put(groupKey(level, groupIndex), buf)
}

// indexBloom folds block number's bloom into every level of the group
// chain: an exact copy at level 0, an OR-accumulation into the owning
// bucket at levels 1 and 2.
func (c *Chain) indexBloom(batch db.Batch, number uint64, bloom common.Bloom) error {
	for level := 0; level < bloomLevels; level++ {
		groupIndex, elementIndex := groupPosition(level, number)
		group, err := c.loadGroup(level, groupIndex)
		if err != nil {
			return err
		}
		if level == 0 {
			group[elementIndex] = bloom
		} else {
			for i := range group[elementIndex] {
				group[elementIndex][i] |= bloom[i]
			}
		}
		if err := c.saveGroup(batch, level, groupIndex, group); err != nil {
			return err
		}
	}
	return nil
}

// blocksWithBloom returns, in ascending order, every block number in
// [from, to] whose bloom could contain target, descending from the
// coarsest level so whole groupSize-wide (and groupSize^2-wide) ranges
// that can't possibly match are skipped without a per-block read (spec
// §4.7 "blocks_with_bloom(bloom, from, to)").
func (c *Chain) blocksWithBloom(target common.Bloom, from, to uint64) ([]uint64, error) {
	var out []uint64
	err := c.scanLevel(bloomLevels-1, from, to, target, &out)
	return out, err
}

func (c *Chain) scanLevel(level int, from, to uint64, target common.Bloom, out *[]uint64) error {
	if level < 0 {
		return nil
	}
	span := uint64(1)
	for i := 0; i < level; i++ {
		span *= groupSize
	}
	start := (from / span) * span
	for base := start; base <= to; base += span {
		groupIndex, elementIndex := groupPosition(level, base)
		group, err := c.loadGroup(level, groupIndex)
		if err != nil {
			return err
		}
		if !bloomContains(group[elementIndex], target) {
			continue
		}
		if level == 0 {
			if base >= from && base <= to {
				*out = append(*out, base)
			}
			continue
		}
		lo, hi := base, base+span-1
		if lo < from {
			lo = from
		}
		if hi > to {
			hi = to
		}
		if err := c.scanLevel(level-1, lo, hi, target, out); err != nil {
			return err
		}
	}
	return nil
}

// bloomContains reports whether every bit set in target is also set in b.
func bloomContains(b, target common.Bloom) bool {
	for i := range target {
		if target[i]&b[i] != target[i] {
			return false
		}
	}
	return true
}
