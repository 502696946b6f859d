// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pbi reads, writes, builds and queries PacBio BAM index (.pbi)
// files.
//
// A .pbi file is a BGZF-compressed columnar table with one row per BAM
// record, in file order. RawIndex holds the columns as parallel slices.
// Store adds value->rows lookups on top of a RawIndex. A Filter tree
// selects rows; Coalesce turns the selected rows into IndexResultBlocks,
// each naming a contiguous run of rows and the virtual offset at which
// the run starts in the BAM file.
//
// Typical use:
//
//	idx, err := pbi.Load(ctx, "foo.bam.pbi")
//	f := pbi.Intersection{pbi.NewZmwFilter(3, pbi.Equal), pbi.NewReadAccuracyFilter(0.9, pbi.GreaterThanEqual)}
//	blocks, err := pbi.Blocks(idx, f)
package pbi
