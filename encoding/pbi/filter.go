// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/errors"
)

// Filter is a predicate over index rows. Any type with an Accepts method
// can be used in a filter tree.
//
// Accepts must not modify idx. Filters that depend on the BAM header
// (reference, movie and query names) resolve it on the first call for
// each index and reuse the result afterwards, so one filter tree can be
// applied to the indexes of several files in turn.
type Filter interface {
	Accepts(idx *RawIndex, row int) bool
}

// Resolver is implemented by filters that must inspect the index or its
// header before they can evaluate rows. Select calls Resolve on every node
// of a tree before evaluating it.
type Resolver interface {
	Resolve(idx *RawIndex) error
}

// rowSelector is implemented by filters that can compute their row set from
// the Store's lookups instead of testing each row. ok is false if the
// filter has no lookup and must be evaluated per row.
type rowSelector interface {
	selectRows(s *Store) (rows *roaring.Bitmap, ok bool)
}

// sectionNeeder is implemented by filters that read optional sections.
type sectionNeeder interface {
	needs() Sections
}

// Intersection accepts a row if every child accepts it. An empty
// Intersection accepts every row.
type Intersection []Filter

// Accepts implements Filter.
func (f Intersection) Accepts(idx *RawIndex, row int) bool {
	for _, c := range f {
		if !c.Accepts(idx, row) {
			return false
		}
	}
	return true
}

func (f Intersection) selectRows(s *Store) (*roaring.Bitmap, bool) {
	if len(f) == 0 {
		return s.all(), true
	}
	var out *roaring.Bitmap
	for _, c := range f {
		rows, ok := selectRows(s, c)
		if !ok {
			return nil, false
		}
		if out == nil {
			out = rows
		} else {
			out.And(rows)
		}
	}
	return out, true
}

// Union accepts a row if any child accepts it. An empty Union accepts every
// row.
type Union []Filter

// Accepts implements Filter.
func (f Union) Accepts(idx *RawIndex, row int) bool {
	if len(f) == 0 {
		return true
	}
	for _, c := range f {
		if c.Accepts(idx, row) {
			return true
		}
	}
	return false
}

func (f Union) selectRows(s *Store) (*roaring.Bitmap, bool) {
	if len(f) == 0 {
		return s.all(), true
	}
	out := roaring.New()
	for _, c := range f {
		rows, ok := selectRows(s, c)
		if !ok {
			return nil, false
		}
		out.Or(rows)
	}
	return out, true
}

// acceptsAll reports whether f is trivially true: nil, or an empty
// composite.
// nothing accepts no row. It stands in for a list filter with no values.
type nothing struct{}

func (nothing) Accepts(*RawIndex, int) bool { return false }

func (nothing) selectRows(*Store) (*roaring.Bitmap, bool) { return roaring.New(), true }

// anyOf returns the Union of fs, or nothing when fs is empty.
func anyOf(fs []Filter) Filter {
	if len(fs) == 0 {
		return nothing{}
	}
	return Union(fs)
}

func acceptsAll(f Filter) bool {
	switch c := f.(type) {
	case nil:
		return true
	case Intersection:
		return len(c) == 0
	case Union:
		return len(c) == 0
	}
	return false
}

func selectRows(s *Store, f Filter) (*roaring.Bitmap, bool) {
	if sel, ok := f.(rowSelector); ok {
		return sel.selectRows(s)
	}
	return nil, false
}

// prepare resolves every node of the tree and checks that the sections it
// reads are present.
func prepare(idx *RawIndex, f Filter) error {
	switch c := f.(type) {
	case Intersection:
		for _, child := range c {
			if err := prepare(idx, child); err != nil {
				return err
			}
		}
		return nil
	case Union:
		for _, child := range c {
			if err := prepare(idx, child); err != nil {
				return err
			}
		}
		return nil
	}
	if r, ok := f.(Resolver); ok {
		if err := r.Resolve(idx); err != nil {
			return err
		}
	}
	if n, ok := f.(sectionNeeder); ok {
		if need := n.needs(); !idx.Has(need) {
			return errors.E(errors.Invalid, fmt.Sprintf("pbi: filter %T needs the %v section, index %s has %v",
				f, need, idx.Path, idx.Sections))
		}
	}
	return nil
}

// Select returns the sorted rows of idx accepted by f.
func Select(idx *RawIndex, f Filter) ([]int, error) {
	return NewStore(idx).Select(f)
}

// Select returns the sorted rows of the index accepted by f. When every
// node of the tree has a column lookup the rows are computed with bitmap
// operations; otherwise each row is tested with Accepts. Both give the same
// rows.
func (s *Store) Select(f Filter) ([]int, error) {
	n := int(s.idx.NumReads)
	if acceptsAll(f) {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows, nil
	}
	if err := prepare(s.idx, f); err != nil {
		return nil, err
	}
	if bm, ok := selectRows(s, f); ok {
		return bitmapIndices(bm), nil
	}
	var rows []int
	for row := 0; row < n; row++ {
		if f.Accepts(s.idx, row) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Blocks returns the coalesced blocks of rows of idx accepted by f.
func Blocks(idx *RawIndex, f Filter) ([]IndexResultBlock, error) {
	return NewStore(idx).Blocks(f)
}

// Blocks returns the coalesced blocks of rows accepted by f. A filter that
// accepts everything yields a single block without evaluating any row.
func (s *Store) Blocks(f Filter) ([]IndexResultBlock, error) {
	if acceptsAll(f) {
		return allBlocks(s.idx), nil
	}
	rows, err := s.Select(f)
	if err != nil {
		return nil, err
	}
	return Coalesce(rows, s.idx), nil
}
