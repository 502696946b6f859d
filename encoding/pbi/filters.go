// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pacbio/encoding/bam"
)

// ColumnFilter compares one field of a row with a fixed value.
type ColumnFilter[T Scalar] struct {
	col   column[T]
	value T
	cmp   Compare
}

func newColumnFilter[T Scalar](col column[T], value T, cmp Compare) *ColumnFilter[T] {
	return &ColumnFilter[T]{col: col, value: value, cmp: cmp}
}

// Field returns the field the filter tests.
func (f *ColumnFilter[T]) Field() Field { return f.col.field }

// Accepts implements Filter.
func (f *ColumnFilter[T]) Accepts(idx *RawIndex, row int) bool {
	return Check(f.cmp, f.col.at(idx, row), f.value)
}

func (f *ColumnFilter[T]) needs() Sections { return f.col.field.Section() }

func (f *ColumnFilter[T]) selectRows(s *Store) (*roaring.Bitmap, bool) {
	if fieldInfos[f.col.field].scanOnly {
		return nil, false
	}
	return lookupFor(s, f.col).Rows(f.value, f.cmp), true
}

func (f *ColumnFilter[T]) String() string {
	return fmt.Sprintf("%v %v %v", f.col.field, f.cmp, f.value)
}

// whitelist returns a Union of Equal filters, one per value. Only equality
// is supported for lists; any other comparison is treated as Equal. An
// empty list accepts no row.
func whitelist[T Scalar](col column[T], values []T, cmp Compare) Filter {
	if cmp != Equal {
		log.Debug.Printf("pbi: %v list filter ignores comparison %v, using %v", col.field, cmp, Equal)
	}
	u := make([]Filter, len(values))
	for i, v := range values {
		u[i] = newColumnFilter(col, v, Equal)
	}
	return anyOf(u)
}

// Strand is the alignment strand of a mapped row.
type Strand uint8

const (
	ForwardStrand Strand = 0
	ReverseStrand Strand = 1
)

// NewAlignedEndFilter tests the aligned query end.
func NewAlignedEndFilter(v uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colAlignedEnd, v, cmp)
}

// NewAlignedLengthFilter tests aligned end minus aligned start.
func NewAlignedLengthFilter(v uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colAlignedLength, v, cmp)
}

// NewAlignedStartFilter tests the aligned query start.
func NewAlignedStartFilter(v uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colAlignedStart, v, cmp)
}

// NewAlignedStrandFilter tests the alignment strand. Only Equal and
// NotEqual are meaningful.
func NewAlignedStrandFilter(s Strand, cmp Compare) *ColumnFilter[uint8] {
	return newColumnFilter(colStrand, uint8(s), cmp)
}

// NewBarcodeForwardFilter tests the forward barcode id.
func NewBarcodeForwardFilter(id int16, cmp Compare) *ColumnFilter[int16] {
	return newColumnFilter(colBarcodeForward, id, cmp)
}

// NewBarcodeForwardListFilter accepts rows whose forward barcode is one of
// ids.
func NewBarcodeForwardListFilter(ids []int16, cmp Compare) Filter {
	return whitelist(colBarcodeForward, ids, cmp)
}

// NewBarcodeReverseFilter tests the reverse barcode id.
func NewBarcodeReverseFilter(id int16, cmp Compare) *ColumnFilter[int16] {
	return newColumnFilter(colBarcodeReverse, id, cmp)
}

// NewBarcodeReverseListFilter accepts rows whose reverse barcode is one of
// ids.
func NewBarcodeReverseListFilter(ids []int16, cmp Compare) Filter {
	return whitelist(colBarcodeReverse, ids, cmp)
}

// NewBarcodeQualityFilter tests the barcode quality.
func NewBarcodeQualityFilter(q int8, cmp Compare) *ColumnFilter[int8] {
	return newColumnFilter(colBarcodeQuality, q, cmp)
}

// NewBarcodeFilter accepts rows whose forward or reverse barcode satisfies
// the comparison.
func NewBarcodeFilter(id int16, cmp Compare) Filter {
	return Union{NewBarcodeForwardFilter(id, cmp), NewBarcodeReverseFilter(id, cmp)}
}

// NewBarcodeListFilter accepts rows with any of ids at either end.
func NewBarcodeListFilter(ids []int16, cmp Compare) Filter {
	return Union{NewBarcodeForwardListFilter(ids, cmp), NewBarcodeReverseListFilter(ids, cmp)}
}

// NewBarcodesFilter accepts rows whose forward and reverse barcodes both
// satisfy the comparison with forward and reverse respectively.
func NewBarcodesFilter(forward, reverse int16, cmp Compare) Filter {
	return Intersection{NewBarcodeForwardFilter(forward, cmp), NewBarcodeReverseFilter(reverse, cmp)}
}

// NewIdentityFilter tests the alignment identity, see RawIndex.Identity.
// It has no lookup and is always evaluated row by row.
func NewIdentityFilter(v float32, cmp Compare) *ColumnFilter[float32] {
	return newColumnFilter(colIdentity, v, cmp)
}

// NewLocalContextFilter tests the local context flags, typically with
// Contains or NotContains.
func NewLocalContextFilter(flags bam.LocalContextFlags, cmp Compare) *ColumnFilter[uint8] {
	return newColumnFilter(colContextFlag, uint8(flags), cmp)
}

// NewMapQualityFilter tests the mapping quality.
func NewMapQualityFilter(q uint8, cmp Compare) *ColumnFilter[uint8] {
	return newColumnFilter(colMapQuality, q, cmp)
}

// NewNumDeletedBasesFilter tests the number of deleted bases.
func NewNumDeletedBasesFilter(n uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colNumDeleted, n, cmp)
}

// NewNumInsertedBasesFilter tests the number of inserted bases.
func NewNumInsertedBasesFilter(n uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colNumInserted, n, cmp)
}

// NewNumMatchesFilter tests the number of matching bases.
func NewNumMatchesFilter(n uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colNumMatches, n, cmp)
}

// NewNumMismatchesFilter tests the number of mismatching bases.
func NewNumMismatchesFilter(n uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colNumMismatches, n, cmp)
}

// NewQueryEndFilter tests the query end.
func NewQueryEndFilter(v int32, cmp Compare) *ColumnFilter[int32] {
	return newColumnFilter(colQueryEnd, v, cmp)
}

// NewQueryLengthFilter tests query end minus query start.
func NewQueryLengthFilter(v int32, cmp Compare) *ColumnFilter[int32] {
	return newColumnFilter(colQueryLength, v, cmp)
}

// NewQueryStartFilter tests the query start.
func NewQueryStartFilter(v int32, cmp Compare) *ColumnFilter[int32] {
	return newColumnFilter(colQueryStart, v, cmp)
}

// NewReadAccuracyFilter tests the read accuracy.
func NewReadAccuracyFilter(v float32, cmp Compare) *ColumnFilter[float32] {
	return newColumnFilter(colReadQuality, v, cmp)
}

// NewReadGroupFilter tests the numeric read group id.
func NewReadGroupFilter(id int32, cmp Compare) *ColumnFilter[int32] {
	return newColumnFilter(colReadGroup, id, cmp)
}

// NewReadGroupListFilter accepts rows whose numeric read group id is one of
// ids.
func NewReadGroupListFilter(ids []int32, cmp Compare) Filter {
	return whitelist(colReadGroup, ids, cmp)
}

// NewReadGroupNameFilter tests the read group against a printable id such
// as "3f8a9b10". An id with a barcode suffix, "3f8a9b10/0--1", also
// requires the row's barcodes to be (0, 1).
func NewReadGroupNameFilter(name string, cmp Compare) (Filter, error) {
	id, err := bam.ReadGroupIDToInt(name)
	if err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return NewReadGroupFilter(id, cmp), nil
	}
	fwd, rev, err := parseBarcodePair(name[i+1:])
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: read group %q", name), err)
	}
	f := Intersection{NewReadGroupFilter(id, Equal), NewBarcodesFilter(fwd, rev, Equal)}
	switch cmp {
	case Equal:
		return f, nil
	case NotEqual:
		return not{f}, nil
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: read group %q: comparison %v not supported", name, cmp))
}

// NewReadGroupNameListFilter accepts rows in any of the named read groups.
func NewReadGroupNameListFilter(names []string, cmp Compare) (Filter, error) {
	if cmp != Equal {
		log.Debug.Printf("pbi: read group list filter ignores comparison %v, using %v", cmp, Equal)
	}
	u := make([]Filter, len(names))
	for i, name := range names {
		f, err := NewReadGroupNameFilter(name, Equal)
		if err != nil {
			return nil, err
		}
		u[i] = f
	}
	return anyOf(u), nil
}

// parseBarcodePair parses "fwd--rev".
func parseBarcodePair(s string) (fwd, rev int16, err error) {
	parts := strings.Split(s, "--")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("barcode pair %q: expect fwd--rev", s)
	}
	var v [2]int16
	for i, p := range parts {
		var x int
		if _, err := fmt.Sscanf(p, "%d", &x); err != nil {
			return 0, 0, fmt.Errorf("barcode pair %q: %v", s, err)
		}
		v[i] = int16(x)
	}
	return v[0], v[1], nil
}

// not inverts a filter.
type not struct{ f Filter }

func (n not) Accepts(idx *RawIndex, row int) bool { return !n.f.Accepts(idx, row) }

func (n not) Resolve(idx *RawIndex) error { return prepare(idx, n.f) }

func (n not) selectRows(s *Store) (*roaring.Bitmap, bool) {
	rows, ok := selectRows(s, n.f)
	if !ok {
		return nil, false
	}
	return complement(rows, int(s.idx.NumReads)), true
}

// NewReferenceEndFilter tests the reference end.
func NewReferenceEndFilter(v uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colRefEnd, v, cmp)
}

// NewReferenceStartFilter tests the reference start.
func NewReferenceStartFilter(v uint32, cmp Compare) *ColumnFilter[uint32] {
	return newColumnFilter(colRefStart, v, cmp)
}

// ReferenceIDFilter tests the reference id. For an Equal comparison on a
// coordinate-sorted index it reads the row range from the Reference
// section instead of scanning the column.
type ReferenceIDFilter struct {
	ColumnFilter[int32]
}

// NewReferenceIDFilter tests the reference id.
func NewReferenceIDFilter(id int32, cmp Compare) *ReferenceIDFilter {
	return &ReferenceIDFilter{*newColumnFilter(colRefID, id, cmp)}
}

// NewReferenceIDListFilter accepts rows aligned to any of ids.
func NewReferenceIDListFilter(ids []int32, cmp Compare) Filter {
	if cmp != Equal {
		log.Debug.Printf("pbi: %v list filter ignores comparison %v, using %v", FieldRefID, cmp, Equal)
	}
	u := make([]Filter, len(ids))
	for i, id := range ids {
		u[i] = NewReferenceIDFilter(id, Equal)
	}
	return anyOf(u)
}

func (f *ReferenceIDFilter) selectRows(s *Store) (*roaring.Bitmap, bool) {
	if refs := s.References(); refs != nil && f.cmp == Equal {
		out := roaring.New()
		if r, ok := refs.Rows(f.value); ok {
			out.AddRange(uint64(r.Begin), uint64(r.End))
		}
		return out, true
	}
	return f.ColumnFilter.selectRows(s)
}

// NewZmwFilter tests the ZMW hole number.
func NewZmwFilter(zmw int32, cmp Compare) *ColumnFilter[int32] {
	return newColumnFilter(colHoleNumber, zmw, cmp)
}

// NewZmwListFilter accepts rows from any of the given ZMWs.
func NewZmwListFilter(zmws []int32, cmp Compare) Filter {
	return whitelist(colHoleNumber, zmws, cmp)
}
