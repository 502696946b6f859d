// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"context"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pacbio/encoding/bam"
	gbgzf "github.com/grailbio/pacbio/encoding/bgzf"
	"github.com/grailbio/hts/sam"
)

// BuilderOpts configures a Builder.
type BuilderOpts struct {
	// TmpDir is where spill files are created. "" means the system default.
	TmpDir string
	// SpillRows, if positive, caps the number of values of each column kept
	// in memory. Older values are spilled to snappy-compressed temp files.
	SpillRows int
	// NumReferences is the number of references in the BAM header. The
	// Reference section lists every reference id below it, including those
	// without records.
	NumReferences int
}

// Row is the per-record input of a Builder.
type Row struct {
	ReadGroupID int32
	QueryStart  int32
	QueryEnd    int32
	HoleNumber  int32
	ReadQuality float32
	ContextFlag uint8
	// FileOffset is the record's position in the BAM file, either a virtual
	// offset or, for Builder.WriteIndex with an offset transform, an
	// uncompressed stream position.
	FileOffset int64

	Mapped        bool
	RefID         int32
	RefStart      uint32
	RefEnd        uint32
	AlignedStart  uint32
	AlignedEnd    uint32
	Reverse       bool
	NumMatches    uint32
	NumMismatches uint32
	MapQuality    uint8

	// Barcodes are stored only if HasBarcodes is set and all three values
	// are non-negative.
	HasBarcodes    bool
	BarcodeForward int16
	BarcodeReverse int16
	BarcodeQuality int8
}

// RowFromRecord extracts the index row of a BAM record.
func RowFromRecord(r *sam.Record, offset int64) (Row, error) {
	rg, err := bam.ReadGroupNumericID(r)
	if err != nil {
		return Row{}, err
	}
	row := Row{
		ReadGroupID: rg,
		QueryStart:  bam.QueryStart(r),
		QueryEnd:    bam.QueryEnd(r),
		HoleNumber:  bam.HoleNumber(r),
		ReadQuality: bam.ReadAccuracy(r),
		ContextFlag: uint8(bam.LocalContext(r)),
		FileOffset:  offset,
	}
	if bam.IsMapped(r) {
		row.Mapped = true
		row.RefID = int32(r.Ref.ID())
		start, end := bam.ReferenceSpan(r)
		row.RefStart, row.RefEnd = uint32(start), uint32(end)
		astart, aend := bam.AlignedQuerySpan(r)
		row.AlignedStart, row.AlignedEnd = uint32(astart), uint32(aend)
		row.Reverse = bam.IsReverse(r)
		row.NumMatches, row.NumMismatches = bam.MatchesAndMismatches(r)
		row.MapQuality = r.MapQ
	}
	row.BarcodeForward, row.BarcodeReverse, row.BarcodeQuality, row.HasBarcodes = bam.Barcodes(r)
	return row, nil
}

// referenceTracker maintains the Reference section while rows arrive. It
// gives up for good on the first row that is out of coordinate order.
type referenceTracker struct {
	abandoned bool
	entries   []ReferenceEntry // mapped references, in input order
	seen      map[int32]bool
	lastPos   uint32
	unmapped  ReferenceEntry
	nUnmapped uint32
}

func newReferenceTracker() *referenceTracker {
	return &referenceTracker{seen: map[int32]bool{}, unmapped: ReferenceEntry{RefID: UnmappedID, BeginRow: NullRow, EndRow: NullRow}}
}

func (t *referenceTracker) abandon(row uint32, why string) {
	log.Printf("pbi: row %d: %s, dropping the reference section", row, why)
	t.abandoned = true
	t.entries, t.seen = nil, nil
}

func (t *referenceTracker) add(row uint32, mapped bool, refID int32, pos uint32) {
	if t.abandoned {
		return
	}
	if !mapped {
		if t.nUnmapped == 0 {
			t.unmapped.BeginRow = row
		}
		t.nUnmapped++
		t.unmapped.EndRow = row + 1
		return
	}
	if t.nUnmapped > 0 {
		t.abandon(row, "mapped record after unmapped records")
		return
	}
	if n := len(t.entries); n > 0 && t.entries[n-1].RefID == refID {
		if pos < t.lastPos {
			t.abandon(row, "records not sorted by position")
			return
		}
		t.entries[n-1].EndRow = row + 1
		t.lastPos = pos
		return
	}
	if t.seen[refID] || (len(t.entries) > 0 && refID < t.entries[len(t.entries)-1].RefID) {
		t.abandon(row, "records not sorted by reference")
		return
	}
	t.seen[refID] = true
	t.entries = append(t.entries, ReferenceEntry{RefID: refID, BeginRow: row, EndRow: row + 1})
	t.lastPos = pos
}

// result returns the Reference section: every id in [0, numRefs) and
// every id seen, ascending, then the unmapped entry if there were unmapped
// rows.
func (t *referenceTracker) result(numRefs int) ReferenceData {
	byID := map[int32]ReferenceEntry{}
	for _, e := range t.entries {
		byID[e.RefID] = e
	}
	for id := 0; id < numRefs; id++ {
		if _, ok := byID[int32(id)]; !ok {
			byID[int32(id)] = ReferenceEntry{RefID: int32(id), BeginRow: NullRow, EndRow: NullRow}
		}
	}
	var ref ReferenceData
	for _, e := range byID {
		ref.Entries = append(ref.Entries, e)
	}
	sort.Slice(ref.Entries, func(i, j int) bool { return ref.Entries[i].RefID < ref.Entries[j].RefID })
	if t.nUnmapped > 0 {
		ref.Entries = append(ref.Entries, t.unmapped)
	}
	return ref
}

// Builder accumulates index rows in one pass over a BAM file. Mapped and
// barcode columns always get a value per row, placeholders if the record
// has no such data, and are written only if some row had real data.
type Builder struct {
	opts BuilderOpts
	err  errors.Once
	n    uint32

	rgID, qStart, qEnd, holeNumber *columnBuffer[int32]
	readQual                       *columnBuffer[float32]
	ctxtFlag                       *columnBuffer[uint8]
	fileOffset                     *columnBuffer[int64]

	tID                               *columnBuffer[int32]
	tStart, tEnd, aStart, aEnd, nM, nMM *columnBuffer[uint32]
	revStrand, mapQV                  *columnBuffer[uint8]

	bcForward, bcReverse *columnBuffer[int16]
	bcQual               *columnBuffer[int8]

	hasMapped, hasBarcodes bool
	refs                   *referenceTracker
}

// NewBuilder creates an empty Builder. Call Close when done with it.
func NewBuilder(opts BuilderOpts) *Builder {
	b := &Builder{opts: opts, refs: newReferenceTracker()}
	e := &b.err
	o := &b.opts
	b.rgID = newColumnBuffer[int32]("rgId", o, e)
	b.qStart = newColumnBuffer[int32]("qStart", o, e)
	b.qEnd = newColumnBuffer[int32]("qEnd", o, e)
	b.holeNumber = newColumnBuffer[int32]("holeNumber", o, e)
	b.readQual = newColumnBuffer[float32]("readQual", o, e)
	b.ctxtFlag = newColumnBuffer[uint8]("ctxtFlag", o, e)
	b.fileOffset = newColumnBuffer[int64]("fileOffset", o, e)
	b.tID = newColumnBuffer[int32]("tId", o, e)
	b.tStart = newColumnBuffer[uint32]("tStart", o, e)
	b.tEnd = newColumnBuffer[uint32]("tEnd", o, e)
	b.aStart = newColumnBuffer[uint32]("aStart", o, e)
	b.aEnd = newColumnBuffer[uint32]("aEnd", o, e)
	b.revStrand = newColumnBuffer[uint8]("revStrand", o, e)
	b.nM = newColumnBuffer[uint32]("nM", o, e)
	b.nMM = newColumnBuffer[uint32]("nMM", o, e)
	b.mapQV = newColumnBuffer[uint8]("mapQV", o, e)
	b.bcForward = newColumnBuffer[int16]("bcForward", o, e)
	b.bcReverse = newColumnBuffer[int16]("bcReverse", o, e)
	b.bcQual = newColumnBuffer[int8]("bcQual", o, e)
	return b
}

// Add appends the row of a BAM record found at the given offset.
func (b *Builder) Add(r *sam.Record, offset int64) error {
	row, err := RowFromRecord(r, offset)
	if err != nil {
		b.err.Set(errors.E(errors.Invalid, err))
		return b.err.Err()
	}
	return b.AddRow(row)
}

// AddRow appends one row.
func (b *Builder) AddRow(r Row) error {
	if err := b.err.Err(); err != nil {
		return err
	}
	row := b.n
	b.n++
	b.rgID.append(r.ReadGroupID)
	b.qStart.append(r.QueryStart)
	b.qEnd.append(r.QueryEnd)
	b.holeNumber.append(r.HoleNumber)
	b.readQual.append(r.ReadQuality)
	b.ctxtFlag.append(r.ContextFlag)
	b.fileOffset.append(r.FileOffset)

	if r.Mapped {
		b.hasMapped = true
		var strand uint8
		if r.Reverse {
			strand = 1
		}
		b.tID.append(r.RefID)
		b.tStart.append(r.RefStart)
		b.tEnd.append(r.RefEnd)
		b.aStart.append(r.AlignedStart)
		b.aEnd.append(r.AlignedEnd)
		b.revStrand.append(strand)
		b.nM.append(r.NumMatches)
		b.nMM.append(r.NumMismatches)
		b.mapQV.append(r.MapQuality)
	} else {
		b.tID.append(UnmappedID)
		b.tStart.append(UnmappedPosition)
		b.tEnd.append(UnmappedPosition)
		b.aStart.append(UnmappedPosition)
		b.aEnd.append(UnmappedPosition)
		b.revStrand.append(0)
		b.nM.append(0)
		b.nMM.append(0)
		b.mapQV.append(UnmappedMapQV)
	}

	if r.HasBarcodes && r.BarcodeForward >= 0 && r.BarcodeReverse >= 0 && r.BarcodeQuality >= 0 {
		b.hasBarcodes = true
		b.bcForward.append(r.BarcodeForward)
		b.bcReverse.append(r.BarcodeReverse)
		b.bcQual.append(r.BarcodeQuality)
	} else {
		b.bcForward.append(NoBarcode)
		b.bcReverse.append(NoBarcode)
		b.bcQual.append(NoBarcode)
	}
	b.refs.add(row, r.Mapped, r.RefID, r.RefStart)
	return b.err.Err()
}

// NumReads returns the number of rows added so far.
func (b *Builder) NumReads() uint32 { return b.n }

// Sections returns the sections the index will have.
func (b *Builder) Sections() Sections {
	s := SectionBasic
	if b.hasMapped {
		s |= SectionMapped
		if !b.refs.abandoned {
			s |= SectionReference
		}
	}
	if b.hasBarcodes {
		s |= SectionBarcode
	}
	return s
}

// Index returns the rows added so far as a RawIndex, reading back any
// spilled data.
func (b *Builder) Index() (*RawIndex, error) {
	if err := b.err.Err(); err != nil {
		return nil, err
	}
	idx := &RawIndex{Version: CurrentVersion, Sections: b.Sections(), NumReads: b.n}
	e := &b.err
	get32 := func(c *columnBuffer[int32]) []int32 { v, err := c.values(); e.Set(err); return v }
	getU32 := func(c *columnBuffer[uint32]) []uint32 { v, err := c.values(); e.Set(err); return v }
	getU8 := func(c *columnBuffer[uint8]) []uint8 { v, err := c.values(); e.Set(err); return v }

	idx.Basic.ReadGroupID = get32(b.rgID)
	idx.Basic.QueryStart = get32(b.qStart)
	idx.Basic.QueryEnd = get32(b.qEnd)
	idx.Basic.HoleNumber = get32(b.holeNumber)
	idx.Basic.ContextFlag = getU8(b.ctxtFlag)
	var err error
	if idx.Basic.ReadQuality, err = b.readQual.values(); err != nil {
		return nil, err
	}
	if idx.Basic.FileOffset, err = b.fileOffset.values(); err != nil {
		return nil, err
	}
	if idx.Has(SectionMapped) {
		m := &idx.Mapped
		m.RefID = get32(b.tID)
		m.RefStart = getU32(b.tStart)
		m.RefEnd = getU32(b.tEnd)
		m.AlignedStart = getU32(b.aStart)
		m.AlignedEnd = getU32(b.aEnd)
		m.ReverseStrand = getU8(b.revStrand)
		m.NumMatches = getU32(b.nM)
		m.NumMismatches = getU32(b.nMM)
		m.MapQuality = getU8(b.mapQV)
	}
	if idx.Has(SectionReference) {
		idx.Reference = b.refs.result(b.opts.NumReferences)
	}
	if idx.Has(SectionBarcode) {
		if idx.Barcode.Forward, err = b.bcForward.values(); err != nil {
			return nil, err
		}
		if idx.Barcode.Reverse, err = b.bcReverse.values(); err != nil {
			return nil, err
		}
		if idx.Barcode.Quality, err = b.bcQual.values(); err != nil {
			return nil, err
		}
	}
	if err := b.err.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// WriteTo writes the uncompressed index to w. If offsetFn is non-nil, every
// FileOffset is replaced by offsetFn(offset) on the way out.
func (b *Builder) WriteTo(w io.Writer, offsetFn func(int64) int64) error {
	if err := b.err.Err(); err != nil {
		return err
	}
	sections := b.Sections()
	if _, err := w.Write(encodeHeader(CurrentVersion, sections, b.n)); err != nil {
		return err
	}
	steps := []func() error{
		func() error { return b.rgID.writeTo(w, nil) },
		func() error { return b.qStart.writeTo(w, nil) },
		func() error { return b.qEnd.writeTo(w, nil) },
		func() error { return b.holeNumber.writeTo(w, nil) },
		func() error { return b.readQual.writeTo(w, nil) },
		func() error { return b.ctxtFlag.writeTo(w, nil) },
		func() error { return b.fileOffset.writeTo(w, offsetFn) },
	}
	if sections&SectionMapped != 0 {
		steps = append(steps,
			func() error { return b.tID.writeTo(w, nil) },
			func() error { return b.tStart.writeTo(w, nil) },
			func() error { return b.tEnd.writeTo(w, nil) },
			func() error { return b.aStart.writeTo(w, nil) },
			func() error { return b.aEnd.writeTo(w, nil) },
			func() error { return b.revStrand.writeTo(w, nil) },
			func() error { return b.nM.writeTo(w, nil) },
			func() error { return b.nMM.writeTo(w, nil) },
			func() error { return b.mapQV.writeTo(w, nil) },
		)
	}
	if sections&SectionReference != 0 {
		steps = append(steps, func() error {
			ref := b.refs.result(b.opts.NumReferences)
			_, err := w.Write(encodeReferences(&ref))
			return err
		})
	}
	if sections&SectionBarcode != 0 {
		steps = append(steps,
			func() error { return b.bcForward.writeTo(w, nil) },
			func() error { return b.bcReverse.writeTo(w, nil) },
			func() error { return b.bcQual.writeTo(w, nil) },
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// WriteIndex writes the index to path, BGZF-compressed. On error no file is
// left at path.
func (b *Builder) WriteIndex(ctx context.Context, path string, offsetFn func(int64) int64) error {
	return writeFile(ctx, path, func(w *gbgzf.Writer) error {
		return b.WriteTo(w, offsetFn)
	})
}

// Close releases the Builder's temp files.
func (b *Builder) Close() error {
	var err errors.Once
	for _, c := range []interface{ close() error }{
		b.rgID, b.qStart, b.qEnd, b.holeNumber, b.readQual, b.ctxtFlag, b.fileOffset,
		b.tID, b.tStart, b.tEnd, b.aStart, b.aEnd, b.revStrand, b.nM, b.nMM, b.mapQV,
		b.bcForward, b.bcReverse, b.bcQual,
	} {
		err.Set(c.close())
	}
	return err.Err()
}
