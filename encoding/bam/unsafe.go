package bam

import (
	"unsafe"

	"github.com/grailbio/hts/sam"
)

// UnsafeDoubletsToBytes casts packed sequence doublets to bytes without
// copying. The result aliases src.
func UnsafeDoubletsToBytes(src []sam.Doublet) []byte {
	if len(src) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), len(src))
}
