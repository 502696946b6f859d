// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import "sort"

// IndexResultBlock is a run of consecutive rows, and the virtual offset of
// the first of them in the BAM file.
type IndexResultBlock struct {
	FirstIndex    int
	NumReads      int
	VirtualOffset int64
}

// Coalesce sorts and deduplicates rows, then merges runs of consecutive
// rows into blocks. rows is not modified.
func Coalesce(rows []int, idx *RawIndex) []IndexResultBlock {
	if len(rows) == 0 {
		return nil
	}
	sorted := append([]int(nil), rows...)
	sort.Ints(sorted)

	var blocks []IndexResultBlock
	for i, row := range sorted {
		if i > 0 && row == sorted[i-1] {
			continue
		}
		if n := len(blocks); n > 0 && blocks[n-1].FirstIndex+blocks[n-1].NumReads == row {
			blocks[n-1].NumReads++
			continue
		}
		blocks = append(blocks, IndexResultBlock{FirstIndex: row, NumReads: 1})
	}
	for i := range blocks {
		blocks[i].VirtualOffset = idx.Basic.FileOffset[blocks[i].FirstIndex]
	}
	return blocks
}

// allBlocks is Coalesce over [0, NumReads).
func allBlocks(idx *RawIndex) []IndexResultBlock {
	if idx.NumReads == 0 {
		return nil
	}
	return []IndexResultBlock{{FirstIndex: 0, NumReads: int(idx.NumReads), VirtualOffset: idx.Basic.FileOffset[0]}}
}
