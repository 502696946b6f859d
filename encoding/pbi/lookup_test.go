// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
)

var allCompares = []Compare{Equal, NotEqual, LessThan, LessThanEqual, GreaterThan, GreaterThanEqual, Contains, NotContains}

func bruteForce[T Scalar](col []T, key T, cmp Compare) []int {
	out := []int{}
	for row, v := range col {
		if Check(cmp, v, key) {
			out = append(out, row)
		}
	}
	return out
}

func TestLookups(t *testing.T) {
	r := rand.New(rand.NewSource(0))
	col := make([]int32, 500)
	for i := range col {
		col[i] = int32(r.Intn(40)) - 5
	}
	ordered := NewOrderedLookup(col)
	unordered := NewUnorderedLookup(col)
	for key := int32(-7); key < 40; key += 3 {
		for _, cmp := range allCompares {
			want := bruteForce(col, key, cmp)
			expect.EQ(t, ordered.LookupIndices(key, cmp), want, "ordered %v %v", cmp, key)
			expect.EQ(t, unordered.LookupIndices(key, cmp), want, "unordered %v %v", cmp, key)
		}
	}
	expect.EQ(t, ordered.Unpack(), col)
	expect.EQ(t, unordered.Unpack(), col)
	expect.EQ(t, ordered.Len(), len(col))
}

func TestOrderedLookupFloat(t *testing.T) {
	col := []float32{0.5, 0.9, 0.75, 0.9, 0.1}
	l := NewOrderedLookup(col)
	expect.EQ(t, l.LookupIndices(0.75, GreaterThanEqual), []int{1, 2, 3})
	expect.EQ(t, l.LookupIndices(0.75, LessThan), []int{0, 4})
	expect.EQ(t, l.LookupIndices(0.9, Equal), []int{1, 3})
	expect.EQ(t, l.LookupIndices(0.3, Equal), []int{})
	expect.EQ(t, l.LookupIndices(0.3, NotEqual), []int{0, 1, 2, 3, 4})
}

func TestEmptyLookup(t *testing.T) {
	l := NewOrderedLookup([]uint32{})
	for _, cmp := range allCompares {
		expect.EQ(t, l.LookupIndices(3, cmp), []int{})
	}
	expect.EQ(t, l.Unpack(), []uint32{})
}

func TestReferenceLookup(t *testing.T) {
	ref := ReferenceData{Entries: []ReferenceEntry{
		{RefID: 0, BeginRow: 0, EndRow: 3},
		{RefID: 1, BeginRow: NullRow, EndRow: NullRow},
		{RefID: 2, BeginRow: 3, EndRow: 5},
		{RefID: UnmappedID, BeginRow: 5, EndRow: 6},
	}}
	l := NewReferenceLookup(&ref)
	r, ok := l.Rows(2)
	expect.True(t, ok)
	expect.EQ(t, r, RowRange{3, 5})
	_, ok = l.Rows(1)
	expect.False(t, ok)
	r, ok = l.Rows(UnmappedID)
	expect.True(t, ok)
	expect.EQ(t, r, RowRange{5, 6})
}

func TestCompare(t *testing.T) {
	for op, want := range map[string]Compare{
		"==": Equal, "eq": Equal, "!=": NotEqual, "ne": NotEqual,
		"<": LessThan, "lt": LessThan, "&lt;": LessThan,
		"<=": LessThanEqual, "lte": LessThanEqual, "&lt;=": LessThanEqual,
		">": GreaterThan, "gt": GreaterThan, "&gt;": GreaterThan,
		">=": GreaterThanEqual, "GTE": GreaterThanEqual, "&gt;=": GreaterThanEqual,
		"&": Contains, "and": Contains, "contains": Contains,
		"~": NotContains, "not": NotContains, "not_contains": NotContains,
	} {
		got, err := ParseCompare(op)
		expect.NoError(t, err, op)
		expect.EQ(t, got, want, op)
	}
	_, err := ParseCompare("=~")
	expect.NotNil(t, err)
	expect.EQ(t, LessThanEqual.String(), "<=")

	expect.True(t, Check(Contains, uint8(5), uint8(4)))
	expect.False(t, Check(Contains, uint8(5), uint8(2)))
	expect.True(t, Check(NotContains, uint8(5), uint8(2)))
}
