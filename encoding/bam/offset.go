package bam

import "github.com/grailbio/hts/bgzf"

// A BGZF virtual offset packs the compressed block start into the upper 48
// bits and the offset within the uncompressed block into the lower 16.
const voffsetShift = 16

// OffsetFromVirtual splits a signed virtual offset, as stored in a PacBio
// index, into its block and in-block parts.
func OffsetFromVirtual(v int64) bgzf.Offset {
	return bgzf.Offset{File: int64(uint64(v) >> voffsetShift), Block: uint16(v)}
}

// VirtualFromOffset packs off into a signed virtual offset.
func VirtualFromOffset(off bgzf.Offset) int64 {
	return off.File<<voffsetShift | int64(off.Block)
}
