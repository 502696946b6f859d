// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pacbio/encoding/bam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// scanOnly hides the lookup of the wrapped filter, forcing Select to test
// rows one by one.
type scanOnly struct{ f Filter }

func (s scanOnly) Accepts(idx *RawIndex, row int) bool { return s.f.Accepts(idx, row) }

func scan(idx *RawIndex, f Filter) []int {
	rows := []int{}
	for row := 0; row < int(idx.NumReads); row++ {
		if f.Accepts(idx, row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func sampleFilters() []Filter {
	return []Filter{
		NewZmwFilter(3, Equal),
		NewZmwFilter(10, GreaterThan),
		NewZmwListFilter([]int32{1, 5, 7}, Equal),
		NewReadAccuracyFilter(0.5, GreaterThanEqual),
		NewReadGroupFilter(2, NotEqual),
		NewQueryStartFilter(500, LessThan),
		NewQueryLengthFilter(200, LessThanEqual),
		NewLocalContextFilter(bam.AdapterBefore|bam.BarcodeAfter, Contains),
		NewLocalContextFilter(bam.ForwardPass, NotContains),
		NewReferenceIDFilter(1, Equal),
		NewReferenceIDListFilter([]int32{0, 2}, Equal),
		NewReferenceStartFilter(100, GreaterThanEqual),
		NewReferenceEndFilter(400, LessThan),
		NewAlignedStartFilter(50, LessThan),
		NewAlignedEndFilter(300, GreaterThan),
		NewAlignedLengthFilter(100, GreaterThan),
		NewAlignedStrandFilter(ReverseStrand, Equal),
		NewNumMatchesFilter(50, GreaterThanEqual),
		NewNumMismatchesFilter(5, LessThan),
		NewNumInsertedBasesFilter(100, GreaterThan),
		NewNumDeletedBasesFilter(100, LessThanEqual),
		NewMapQualityFilter(30, GreaterThanEqual),
		NewIdentityFilter(0.5, GreaterThan),
		NewBarcodeFilter(2, Equal),
		NewBarcodesFilter(1, 3, Equal),
		NewBarcodeForwardListFilter([]int16{0, 4}, Equal),
		NewBarcodeReverseFilter(2, LessThan),
		NewBarcodeQualityFilter(50, GreaterThanEqual),
	}
}

func TestSelectMatchesScan(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, randomRows(rand.New(rand.NewSource(2)), 2000)...)
	s := NewStore(idx)
	for _, f := range sampleFilters() {
		want := scan(idx, f)
		got, err := s.Select(f)
		assert.NoError(t, err)
		expect.EQ(t, got, want, "%v", f)
		got, err = s.Select(scanOnly{f})
		assert.NoError(t, err)
		expect.EQ(t, got, want, "%v (scan)", f)
	}
}

func TestCompositeLaws(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, randomRows(rand.New(rand.NewSource(3)), 500)...)
	filters := sampleFilters()
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 50; i++ {
		a := filters[r.Intn(len(filters))]
		b := filters[r.Intn(len(filters))]
		union := Union{a, b}
		inter := Intersection{a, b}
		for row := 0; row < int(idx.NumReads); row++ {
			expect.EQ(t, union.Accepts(idx, row), a.Accepts(idx, row) || b.Accepts(idx, row))
			expect.EQ(t, inter.Accepts(idx, row), a.Accepts(idx, row) && b.Accepts(idx, row))
		}
		got, err := Select(idx, Union{inter, Intersection{a, scanOnly{b}}})
		assert.NoError(t, err)
		expect.EQ(t, got, scan(idx, inter))
	}
}

func TestEmptyFilterAcceptsAll(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, randomRows(rand.New(rand.NewSource(5)), 100)...)
	for _, f := range []Filter{Intersection{}, Union{}, nil} {
		if f != nil {
			for row := 0; row < int(idx.NumReads); row++ {
				assert.True(t, f.Accepts(idx, row))
			}
		}
		blocks, err := Blocks(idx, f)
		assert.NoError(t, err)
		expect.EQ(t, blocks, []IndexResultBlock{{0, 100, idx.Basic.FileOffset[0]}})
	}
	// The shortcut must agree with the general algorithm.
	rows, err := Select(idx, Intersection{})
	assert.NoError(t, err)
	expect.EQ(t, Coalesce(rows, idx), []IndexResultBlock{{0, 100, idx.Basic.FileOffset[0]}})
}

func TestZmwScenario(t *testing.T) {
	var rows []Row
	for i, zmw := range []int32{7, 7, 3, 3, 3} {
		rows = append(rows, mappedRow(zmw, 0, uint32(100*i)))
	}
	idx := buildIndex(t, BuilderOpts{NumReferences: 1}, rows...)
	got, err := Select(idx, NewZmwFilter(3, Equal))
	assert.NoError(t, err)
	expect.EQ(t, got, []int{2, 3, 4})
	blocks, err := Blocks(idx, NewZmwFilter(3, Equal))
	assert.NoError(t, err)
	expect.EQ(t, blocks, []IndexResultBlock{{FirstIndex: 2, NumReads: 3, VirtualOffset: 3000}})
}

func TestMissingSection(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1), unmappedRow(2))
	_, err := Select(idx, NewReferenceStartFilter(10, Equal))
	expect.HasSubstr(t, err.Error(), "mapped")
	_, err = Select(idx, Union{NewZmwFilter(1, Equal), NewBarcodeFilter(1, Equal)})
	expect.HasSubstr(t, err.Error(), "barcode")
}

func TestWhitelistUsesEqual(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1), unmappedRow(2), unmappedRow(3))
	got, err := Select(idx, NewZmwListFilter([]int32{1, 3}, GreaterThan))
	assert.NoError(t, err)
	expect.EQ(t, got, []int{0, 2})
}

func TestEmptyListAcceptsNothing(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, mappedRow(1, 0, 10), mappedRow(2, 0, 20), mappedRow(3, 1, 5))
	idx.Header = testHeader(t)
	for _, f := range []Filter{
		NewZmwListFilter(nil, Equal),
		NewReadGroupListFilter([]int32{}, Equal),
		NewReferenceIDListFilter(nil, Equal),
		NewBarcodeListFilter(nil, Equal),
		NewReferenceNameListFilter(nil, Equal),
		NewQueryNameListFilter(nil, Equal),
	} {
		got, err := Select(idx, f)
		assert.NoError(t, err)
		expect.EQ(t, len(got), 0, f)
		expect.False(t, f.Accepts(idx, 0), f)
	}
	f, err := NewReadGroupNameListFilter(nil, Equal)
	assert.NoError(t, err)
	got, err := Select(idx, f)
	assert.NoError(t, err)
	expect.EQ(t, len(got), 0)

	// Excluding nothing keeps every row.
	got, err = Select(idx, NewReferenceNameListFilter(nil, NotEqual))
	assert.NoError(t, err)
	expect.EQ(t, got, []int{0, 1, 2})
}

func testHeader(t testing.TB) *sam.Header {
	h, err := sam.NewHeader([]byte("@HD\tVN:1.5\tSO:coordinate\n"+
		"@SQ\tSN:chr1\tLN:100000\n"+
		"@SQ\tSN:chr2\tLN:100000\n"+
		"@SQ\tSN:chr3\tLN:100000\n"+
		"@RG\tID:"+bam.MakeReadGroupID("movieA", "SUBREAD")+"\tPL:PACBIO\tDS:READTYPE=SUBREAD\tPU:movieA\n"+
		"@RG\tID:"+bam.MakeReadGroupID("movieB", "SUBREAD")+"\tPL:PACBIO\tDS:READTYPE=SUBREAD\tPU:movieB\n"), nil)
	assert.NoError(t, err)
	return h
}

func rgID(t testing.TB, movie string) int32 {
	id, err := bam.ReadGroupIDToInt(bam.MakeReadGroupID(movie, "SUBREAD"))
	assert.NoError(t, err)
	return id
}

func TestLazyFilters(t *testing.T) {
	a, b := rgID(t, "movieA"), rgID(t, "movieB")
	rows := []Row{mappedRow(1, 0, 10), mappedRow(2, 0, 20), mappedRow(3, 2, 5), unmappedRow(4)}
	rows[0].ReadGroupID, rows[1].ReadGroupID, rows[2].ReadGroupID, rows[3].ReadGroupID = a, b, a, b
	rows[1].QueryStart, rows[1].QueryEnd = 10, 60
	idx := buildIndex(t, BuilderOpts{NumReferences: 3}, rows...)

	// Without a header, resolution fails and the filter accepts nothing.
	f := NewReferenceNameFilter("chr3", Equal)
	_, err := Select(idx, f)
	expect.HasSubstr(t, err.Error(), "header")
	expect.False(t, f.Accepts(idx, 2))

	idx.Header = testHeader(t)
	for _, test := range []struct {
		f    Filter
		want []int
	}{
		{NewReferenceNameFilter("chr3", Equal), []int{2}},
		{NewReferenceNameListFilter([]string{"chr1", "chr3"}, Equal), []int{0, 1, 2}},
		{NewReferenceNameFilter("chr1", NotEqual), []int{2, 3}},
		{NewMovieNameFilter("movieA", Equal), []int{0, 2}},
		{NewMovieNameFilter("movieA", NotEqual), []int{1, 3}},
		{NewQueryNameFilter("movieB/2/10_60", Equal), []int{1}},
		{NewQueryNameListFilter([]string{"movieA/3/0_100", "movieB/4/0_50"}, Equal), []int{2, 3}},
		{NewQueryNameFilter("movieB/2/ccs", Equal), []int{1}},
	} {
		got, err := Select(idx, test.f)
		assert.NoError(t, err)
		expect.EQ(t, got, test.want, "%T", test.f)
		expect.EQ(t, scan(idx, test.f), test.want, "%T scan", test.f)
	}

	_, err = Select(idx, NewReferenceNameFilter("chrX", Equal))
	expect.HasSubstr(t, err.Error(), "chrX")
	_, err = Select(idx, NewMovieNameFilter("movieA", LessThan))
	expect.HasSubstr(t, err.Error(), "== and !=")
}

type recordingOutputter struct{ lines []string }

func (r *recordingOutputter) Level() log.Level { return log.Debug }

func (r *recordingOutputter) Output(calldepth int, level log.Level, s string) error {
	r.lines = append(r.lines, s)
	return nil
}

func TestLazyFilterLogsResolveError(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{NumReferences: 1}, mappedRow(1, 0, 10))
	rec := &recordingOutputter{}
	defer log.SetOutputter(log.SetOutputter(rec))

	_, err := Select(idx, NewReferenceNameFilter("chr1", Equal))
	assert.NotNil(t, err)

	assert.EQ(t, len(rec.lines), 1)
	expect.HasSubstr(t, rec.lines[0], "header")
	expect.True(t, strings.HasPrefix(rec.lines[0], "pbi: "))
	expect.False(t, strings.Contains(rec.lines[0], "pbi: pbi:"))
}

func TestReadGroupNameFilter(t *testing.T) {
	rows := []Row{unmappedRow(1), unmappedRow(2), unmappedRow(3)}
	rows[0].ReadGroupID = 0x0a
	rows[1].ReadGroupID, rows[1].HasBarcodes, rows[1].BarcodeForward, rows[1].BarcodeReverse, rows[1].BarcodeQuality = 0x0a, true, 0, 1, 30
	rows[2].ReadGroupID = 0x0b
	idx := buildIndex(t, BuilderOpts{}, rows...)

	f, err := NewReadGroupNameFilter("0000000a", Equal)
	assert.NoError(t, err)
	got, err := Select(idx, f)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{0, 1})

	f, err = NewReadGroupNameFilter("0000000a/0--1", Equal)
	assert.NoError(t, err)
	got, err = Select(idx, f)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{1})

	f, err = NewReadGroupNameListFilter([]string{"0000000b", "0000000a/0--1"}, Equal)
	assert.NoError(t, err)
	got, err = Select(idx, f)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{1, 2})

	_, err = NewReadGroupNameFilter("zz", Equal)
	expect.NotNil(t, err)
}

func TestLazyFilterPerIndex(t *testing.T) {
	rows := []Row{mappedRow(1, 0, 10), mappedRow(2, 1, 10)}
	idx1 := buildIndex(t, BuilderOpts{NumReferences: 2}, rows...)
	idx1.Header = testHeader(t)
	idx2 := buildIndex(t, BuilderOpts{NumReferences: 2}, rows...)
	h, err := sam.NewHeader([]byte("@SQ\tSN:chr3\tLN:100\n@SQ\tSN:chr1\tLN:100\n"), nil)
	assert.NoError(t, err)
	idx2.Header = h

	f := NewReferenceNameFilter("chr1", Equal)
	got, err := Select(idx1, f)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{0})
	got, err = Select(idx2, f)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{1})
	expect.True(t, f.Accepts(idx1, 0))
	expect.False(t, f.Accepts(idx1, 1))
}
