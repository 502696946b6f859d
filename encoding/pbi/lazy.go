// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pacbio/encoding/bam"
	"github.com/grailbio/hts/sam"
)

type resolveState int

const (
	unresolved resolveState = iota
	resolved
	resolveFailed
)

// lazyFilter is the resolve-once state shared by filters that translate
// names from the BAM header into column values. The translated filter is
// built by the first Resolve or Accepts call for an index and reused until
// the filter is applied to a different index.
type lazyFilter struct {
	state  resolveState
	idx    *RawIndex
	err    error
	filter Filter
	build  func(idx *RawIndex) (Filter, error)
}

// Resolve builds the underlying filter for idx. It is a no-op if the filter
// was last resolved against idx.
func (l *lazyFilter) Resolve(idx *RawIndex) error {
	if l.idx != idx {
		l.state, l.idx, l.err, l.filter = unresolved, idx, nil, nil
	}
	if l.state == unresolved {
		l.filter, l.err = l.build(idx)
		if l.err == nil {
			l.err = prepare(idx, l.filter)
		}
		if l.err != nil {
			l.state = resolveFailed
			log.Error.Printf("%v", l.err)
		} else {
			l.state = resolved
		}
	}
	return l.err
}

// Accepts implements Filter. A filter that failed to resolve accepts
// nothing.
func (l *lazyFilter) Accepts(idx *RawIndex, row int) bool {
	if l.Resolve(idx) != nil {
		return false
	}
	return l.filter.Accepts(idx, row)
}

func (l *lazyFilter) selectRows(s *Store) (*roaring.Bitmap, bool) {
	if l.Resolve(s.idx) != nil {
		return roaring.New(), true
	}
	return selectRows(s, l.filter)
}

func needHeader(idx *RawIndex, what string) (*sam.Header, error) {
	if idx.Header == nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: %s filter needs the BAM header of %s", what, idx.Path))
	}
	return idx.Header, nil
}

func checkEquality(what string, cmp Compare) error {
	if cmp != Equal && cmp != NotEqual {
		return errors.E(errors.Invalid, fmt.Sprintf("pbi: %s filter supports == and != only, got %v", what, cmp))
	}
	return nil
}

func negateIf(f Filter, cmp Compare) Filter {
	if cmp == NotEqual {
		return not{f}
	}
	return f
}

// ReferenceNameFilter accepts rows aligned to the named references. Names
// are resolved to ids through RawIndex.Header.
type ReferenceNameFilter struct {
	lazyFilter
	names []string
}

// NewReferenceNameFilter accepts rows aligned (cmp == Equal) or not aligned
// (cmp == NotEqual) to the named reference.
func NewReferenceNameFilter(name string, cmp Compare) *ReferenceNameFilter {
	return NewReferenceNameListFilter([]string{name}, cmp)
}

// NewReferenceNameListFilter is NewReferenceNameFilter for several names.
func NewReferenceNameListFilter(names []string, cmp Compare) *ReferenceNameFilter {
	f := &ReferenceNameFilter{names: names}
	f.build = func(idx *RawIndex) (Filter, error) {
		if err := checkEquality("reference name", cmp); err != nil {
			return nil, err
		}
		h, err := needHeader(idx, "reference name")
		if err != nil {
			return nil, err
		}
		byName := map[string]int32{}
		for _, ref := range h.Refs() {
			byName[ref.Name()] = int32(ref.ID())
		}
		u := make([]Filter, len(f.names))
		for i, name := range f.names {
			id, ok := byName[name]
			if !ok {
				return nil, errors.E(errors.NotExist, fmt.Sprintf("pbi: reference %q not in header", name))
			}
			u[i] = NewReferenceIDFilter(id, Equal)
		}
		return negateIf(anyOf(u), cmp), nil
	}
	return f
}

// movieReadGroups returns the numeric ids of the read groups of a movie:
// those declared in the header, plus the ids that records without an RG
// tag are assigned.
func movieReadGroups(h *sam.Header, movie string) []int32 {
	seen := map[int32]bool{}
	var ids []int32
	add := func(id int32) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, rg := range h.RGs() {
		if bam.ReadGroupMovieName(rg) != movie {
			continue
		}
		id, err := bam.ReadGroupIDToInt(rg.Name())
		if err != nil {
			log.Error.Printf("pbi: header read group %q: %v", rg.Name(), err)
			continue
		}
		add(id)
	}
	for _, readType := range []string{"SUBREAD", "CCS"} {
		id, err := bam.ReadGroupIDToInt(bam.MakeReadGroupID(movie, readType))
		if err != nil {
			panic(err)
		}
		add(id)
	}
	return ids
}

// MovieNameFilter accepts rows from the named movies. Movies are resolved
// to read group ids through RawIndex.Header.
type MovieNameFilter struct {
	lazyFilter
	movies []string
}

// NewMovieNameFilter accepts rows from (cmp == Equal) or not from
// (cmp == NotEqual) the named movie.
func NewMovieNameFilter(movie string, cmp Compare) *MovieNameFilter {
	return NewMovieNameListFilter([]string{movie}, cmp)
}

// NewMovieNameListFilter is NewMovieNameFilter for several movies.
func NewMovieNameListFilter(movies []string, cmp Compare) *MovieNameFilter {
	f := &MovieNameFilter{movies: movies}
	f.build = func(idx *RawIndex) (Filter, error) {
		if err := checkEquality("movie name", cmp); err != nil {
			return nil, err
		}
		h, err := needHeader(idx, "movie name")
		if err != nil {
			return nil, err
		}
		var ids []int32
		for _, movie := range f.movies {
			ids = append(ids, movieReadGroups(h, movie)...)
		}
		return negateIf(whitelist(colReadGroup, ids, Equal), cmp), nil
	}
	return f
}

// QueryNameFilter accepts rows with the given PacBio query names,
// "movie/zmw/qs_qe" or "movie/zmw/ccs".
type QueryNameFilter struct {
	lazyFilter
	names []string
}

// NewQueryNameFilter accepts rows named (cmp == Equal) or not named
// (cmp == NotEqual) name.
func NewQueryNameFilter(name string, cmp Compare) *QueryNameFilter {
	return NewQueryNameListFilter([]string{name}, cmp)
}

// NewQueryNameListFilter is NewQueryNameFilter for several names.
func NewQueryNameListFilter(names []string, cmp Compare) *QueryNameFilter {
	f := &QueryNameFilter{names: names}
	f.build = func(idx *RawIndex) (Filter, error) {
		if err := checkEquality("query name", cmp); err != nil {
			return nil, err
		}
		h, err := needHeader(idx, "query name")
		if err != nil {
			return nil, err
		}
		rgCache := map[string][]int32{}
		u := make([]Filter, len(f.names))
		for i, name := range f.names {
			qn, err := bam.ParseQueryName(name)
			if err != nil {
				return nil, errors.E(errors.Invalid, err)
			}
			ids, ok := rgCache[qn.Movie]
			if !ok {
				ids = movieReadGroups(h, qn.Movie)
				rgCache[qn.Movie] = ids
			}
			and := Intersection{
				whitelist(colReadGroup, ids, Equal),
				NewZmwFilter(qn.HoleNumber, Equal),
			}
			if !qn.CCS {
				and = append(and, NewQueryStartFilter(qn.QueryStart, Equal), NewQueryEndFilter(qn.QueryEnd, Equal))
			}
			u[i] = and
		}
		return negateIf(anyOf(u), cmp), nil
	}
	return f
}
