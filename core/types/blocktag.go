package types

import "github.com/citahub/cita-sub002/common"

// TagKind names a symbolic block reference (spec §4.5).
type TagKind uint8

const (
	TagEarliest TagKind = iota
	TagLatest
	TagPending
)

// BlockTagKind discriminates the three ways a block may be addressed.
type BlockTagKind uint8

const (
	TagByHash BlockTagKind = iota
	TagByHeight
	TagByName
)

// BlockTag addresses a block by hash, height, or a symbolic tag.
// Latest = current_height-1 (the most recently closed block); Pending =
// current_height (the block currently being assembled), matching the
// executor's own bookkeeping rather than the chain's persisted head.
type BlockTag struct {
	Kind   BlockTagKind
	Hash   common.Hash
	Height uint64
	Name   TagKind
}

func TagHash(h common.Hash) BlockTag   { return BlockTag{Kind: TagByHash, Hash: h} }
func TagHeight(n uint64) BlockTag      { return BlockTag{Kind: TagByHeight, Height: n} }
func TagNamed(n TagKind) BlockTag      { return BlockTag{Kind: TagByName, Name: n} }
func TagLatestBlock() BlockTag         { return TagNamed(TagLatest) }
func TagPendingBlock() BlockTag        { return TagNamed(TagPending) }
func TagEarliestBlock() BlockTag       { return TagNamed(TagEarliest) }
