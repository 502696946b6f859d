package bgzf

import "sort"

// Block describes one gzip block of a bgzf stream.
type Block struct {
	// UncompressedStart is the payload position of the first byte of the
	// block.
	UncompressedStart uint64
	// CompressedStart is the file offset of the block's gzip header.
	CompressedStart uint64
}

// BlockIndex lists the blocks of a bgzf stream in file order.
type BlockIndex []Block

// VirtualOffset converts a payload position to a BAM virtual offset,
// (compressed block start << 16 | offset within the block). Positions at
// or past the end of the last block are expressed relative to that block.
func (idx BlockIndex) VirtualOffset(pos uint64) uint64 {
	i := sort.Search(len(idx), func(i int) bool { return idx[i].UncompressedStart > pos }) - 1
	if i < 0 {
		return pos
	}
	b := idx[i]
	return b.CompressedStart<<16 | (pos - b.UncompressedStart)
}
