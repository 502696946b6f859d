// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Field names a column, stored or derived, that filters can test.
type Field int

const (
	FieldReadGroup Field = iota
	FieldQueryStart
	FieldQueryEnd
	FieldHoleNumber
	FieldReadQuality
	FieldContextFlag
	FieldRefID
	FieldRefStart
	FieldRefEnd
	FieldAlignedStart
	FieldAlignedEnd
	FieldStrand
	FieldNumMatches
	FieldNumMismatches
	FieldMapQuality
	FieldBarcodeForward
	FieldBarcodeReverse
	FieldBarcodeQuality
	FieldNumInsertedBases
	FieldNumDeletedBases
	FieldAlignedLength
	FieldQueryLength
	FieldIdentity
	numFields
)

type fieldInfo struct {
	name    string
	section Sections
	// ordered selects an OrderedLookup over an UnorderedLookup.
	ordered bool
	// scanOnly fields are evaluated per row and never indexed.
	scanOnly bool
}

var fieldInfos = [numFields]fieldInfo{
	FieldReadGroup:        {"rgId", SectionBasic, false, false},
	FieldQueryStart:       {"qStart", SectionBasic, true, false},
	FieldQueryEnd:         {"qEnd", SectionBasic, true, false},
	FieldHoleNumber:       {"holeNumber", SectionBasic, true, false},
	FieldReadQuality:      {"readQual", SectionBasic, true, false},
	FieldContextFlag:      {"ctxtFlag", SectionBasic, false, false},
	FieldRefID:            {"tId", SectionMapped, true, false},
	FieldRefStart:         {"tStart", SectionMapped, true, false},
	FieldRefEnd:           {"tEnd", SectionMapped, true, false},
	FieldAlignedStart:     {"aStart", SectionMapped, true, false},
	FieldAlignedEnd:       {"aEnd", SectionMapped, true, false},
	FieldStrand:           {"revStrand", SectionMapped, false, false},
	FieldNumMatches:       {"nM", SectionMapped, true, false},
	FieldNumMismatches:    {"nMM", SectionMapped, true, false},
	FieldMapQuality:       {"mapQV", SectionMapped, true, false},
	FieldBarcodeForward:   {"bcForward", SectionBarcode, true, false},
	FieldBarcodeReverse:   {"bcReverse", SectionBarcode, true, false},
	FieldBarcodeQuality:   {"bcQual", SectionBarcode, true, false},
	FieldNumInsertedBases: {"nIns", SectionMapped, true, false},
	FieldNumDeletedBases:  {"nDel", SectionMapped, true, false},
	FieldAlignedLength:    {"alignedLength", SectionMapped, true, false},
	FieldQueryLength:      {"queryLength", SectionBasic, true, false},
	FieldIdentity:         {"identity", SectionMapped, true, true},
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldInfos[f].name
}

// Section returns the section the field lives in.
func (f Field) Section() Sections { return fieldInfos[f].section }

// column reads one field of a row.
type column[T Scalar] struct {
	field Field
	at    func(idx *RawIndex, row int) T
}

var (
	colReadGroup   = column[int32]{FieldReadGroup, func(idx *RawIndex, row int) int32 { return idx.Basic.ReadGroupID[row] }}
	colQueryStart  = column[int32]{FieldQueryStart, func(idx *RawIndex, row int) int32 { return idx.Basic.QueryStart[row] }}
	colQueryEnd    = column[int32]{FieldQueryEnd, func(idx *RawIndex, row int) int32 { return idx.Basic.QueryEnd[row] }}
	colHoleNumber  = column[int32]{FieldHoleNumber, func(idx *RawIndex, row int) int32 { return idx.Basic.HoleNumber[row] }}
	colReadQuality = column[float32]{FieldReadQuality, func(idx *RawIndex, row int) float32 { return idx.Basic.ReadQuality[row] }}
	colContextFlag = column[uint8]{FieldContextFlag, func(idx *RawIndex, row int) uint8 { return idx.Basic.ContextFlag[row] }}
	colQueryLength = column[int32]{FieldQueryLength, func(idx *RawIndex, row int) int32 {
		return idx.Basic.QueryEnd[row] - idx.Basic.QueryStart[row]
	}}

	colRefID         = column[int32]{FieldRefID, func(idx *RawIndex, row int) int32 { return idx.Mapped.RefID[row] }}
	colRefStart      = column[uint32]{FieldRefStart, func(idx *RawIndex, row int) uint32 { return idx.Mapped.RefStart[row] }}
	colRefEnd        = column[uint32]{FieldRefEnd, func(idx *RawIndex, row int) uint32 { return idx.Mapped.RefEnd[row] }}
	colAlignedStart  = column[uint32]{FieldAlignedStart, func(idx *RawIndex, row int) uint32 { return idx.Mapped.AlignedStart[row] }}
	colAlignedEnd    = column[uint32]{FieldAlignedEnd, func(idx *RawIndex, row int) uint32 { return idx.Mapped.AlignedEnd[row] }}
	colStrand        = column[uint8]{FieldStrand, func(idx *RawIndex, row int) uint8 { return idx.Mapped.ReverseStrand[row] }}
	colNumMatches    = column[uint32]{FieldNumMatches, func(idx *RawIndex, row int) uint32 { return idx.Mapped.NumMatches[row] }}
	colNumMismatches = column[uint32]{FieldNumMismatches, func(idx *RawIndex, row int) uint32 { return idx.Mapped.NumMismatches[row] }}
	colMapQuality    = column[uint8]{FieldMapQuality, func(idx *RawIndex, row int) uint8 { return idx.Mapped.MapQuality[row] }}
	colNumInserted   = column[uint32]{FieldNumInsertedBases, func(idx *RawIndex, row int) uint32 { return idx.Mapped.NumInsertedBases(row) }}
	colNumDeleted    = column[uint32]{FieldNumDeletedBases, func(idx *RawIndex, row int) uint32 { return idx.Mapped.NumDeletedBases(row) }}
	colAlignedLength = column[uint32]{FieldAlignedLength, func(idx *RawIndex, row int) uint32 {
		return idx.Mapped.AlignedEnd[row] - idx.Mapped.AlignedStart[row]
	}}
	colIdentity = column[float32]{FieldIdentity, func(idx *RawIndex, row int) float32 { return idx.Identity(row) }}

	colBarcodeForward = column[int16]{FieldBarcodeForward, func(idx *RawIndex, row int) int16 { return idx.Barcode.Forward[row] }}
	colBarcodeReverse = column[int16]{FieldBarcodeReverse, func(idx *RawIndex, row int) int16 { return idx.Barcode.Reverse[row] }}
	colBarcodeQuality = column[int8]{FieldBarcodeQuality, func(idx *RawIndex, row int) int8 { return idx.Barcode.Quality[row] }}
)

// RowRange is the half-open row interval [Begin, End).
type RowRange struct {
	Begin, End uint32
}

// ReferenceLookup maps a reference id to the rows aligned to it, for
// coordinate-sorted files.
type ReferenceLookup map[int32]RowRange

// NewReferenceLookup builds a ReferenceLookup from a Reference section.
// References without rows are omitted.
func NewReferenceLookup(ref *ReferenceData) ReferenceLookup {
	l := ReferenceLookup{}
	for _, e := range ref.Entries {
		if e.BeginRow == NullRow || e.BeginRow >= e.EndRow {
			continue
		}
		l[e.RefID] = RowRange{e.BeginRow, e.EndRow}
	}
	return l
}

// Rows returns the row range of the given reference.
func (l ReferenceLookup) Rows(refID int32) (RowRange, bool) {
	r, ok := l[refID]
	return r, ok
}

// Store adds value->rows lookups to a RawIndex. Lookups are built the first
// time a field is queried and kept for the lifetime of the Store. A Store
// is not safe for concurrent use.
type Store struct {
	idx     *RawIndex
	lookups [numFields]interface{}
	refs    ReferenceLookup
}

// NewStore returns a Store over idx.
func NewStore(idx *RawIndex) *Store {
	s := &Store{idx: idx}
	if idx.Has(SectionReference) {
		s.refs = NewReferenceLookup(&idx.Reference)
	}
	return s
}

// Index returns the underlying RawIndex.
func (s *Store) Index() *RawIndex { return s.idx }

// References returns the reference lookup, or nil if the index has no
// Reference section.
func (s *Store) References() ReferenceLookup { return s.refs }

// all returns every row.
func (s *Store) all() *roaring.Bitmap {
	b := roaring.New()
	b.AddRange(0, uint64(s.idx.NumReads))
	return b
}

func lookupFor[T Scalar](s *Store, c column[T]) ColumnLookup[T] {
	if l := s.lookups[c.field]; l != nil {
		return l.(ColumnLookup[T])
	}
	col := make([]T, s.idx.NumReads)
	for row := range col {
		col[row] = c.at(s.idx, row)
	}
	var l ColumnLookup[T]
	if fieldInfos[c.field].ordered {
		l = NewOrderedLookup(col)
	} else {
		l = NewUnorderedLookup(col)
	}
	s.lookups[c.field] = l
	return l
}
