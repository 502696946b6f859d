// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam provides PacBio-specific views over the SAM and BAM types in
// github.com/grailbio/hts.
//
// PacBio BAM files store per-read metadata in auxiliary tags (ZMW hole
// number, query span, read accuracy, local context, barcodes). The functions
// here extract those values from a *sam.Record, derive the alignment counts
// used by the PBI index, and serialize records and headers in BAM binary form
// so that a writer can track the uncompressed position of every record.
package bam
