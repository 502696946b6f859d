// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/biogo/store/llrb"
)

// ColumnLookup maps the values of one column to the rows holding them.
type ColumnLookup[T Scalar] interface {
	// Rows returns the rows whose value v satisfies "v cmp key". The caller
	// owns the result.
	Rows(key T, cmp Compare) *roaring.Bitmap
	// LookupIndices is Rows as a sorted, duplicate-free slice.
	LookupIndices(key T, cmp Compare) []int
	// Unpack returns the original column.
	Unpack() []T
	// Len returns the length of the original column.
	Len() int
}

func bitmapIndices(b *roaring.Bitmap) []int {
	out := make([]int, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// complement returns [0,n) minus b.
func complement(b *roaring.Bitmap, n int) *roaring.Bitmap {
	return roaring.Flip(b, 0, uint64(n))
}

// unpackRows rebuilds a column of length n from (value, rows) pairs.
func unpackRows[T Scalar](n int, each func(fn func(v T, rows *roaring.Bitmap))) []T {
	col := make([]T, n)
	each(func(v T, rows *roaring.Bitmap) {
		it := rows.Iterator()
		for it.HasNext() {
			col[it.Next()] = v
		}
	})
	return col
}

// orderedKey is an llrb node of an OrderedLookup.
type orderedKey[T Scalar] struct {
	value T
	rows  *roaring.Bitmap
}

func (k *orderedKey[T]) Compare(c llrb.Comparable) int {
	o := c.(*orderedKey[T])
	switch {
	case k.value < o.value:
		return -1
	case k.value > o.value:
		return 1
	}
	return 0
}

// OrderedLookup is a ColumnLookup backed by a balanced tree of distinct
// values. Ordering comparisons walk the tree from one end and stop at the
// operand.
type OrderedLookup[T Scalar] struct {
	tree llrb.Tree
	n    int
}

// NewOrderedLookup indexes col.
func NewOrderedLookup[T Scalar](col []T) *OrderedLookup[T] {
	l := &OrderedLookup[T]{n: len(col)}
	q := &orderedKey[T]{}
	for row, v := range col {
		q.value = v
		if k := l.tree.Get(q); k != nil {
			k.(*orderedKey[T]).rows.Add(uint32(row))
			continue
		}
		l.tree.Insert(&orderedKey[T]{value: v, rows: roaring.BitmapOf(uint32(row))})
	}
	return l
}

// Len implements ColumnLookup.
func (l *OrderedLookup[T]) Len() int { return l.n }

// Rows implements ColumnLookup.
func (l *OrderedLookup[T]) Rows(key T, cmp Compare) *roaring.Bitmap {
	out := roaring.New()
	q := &orderedKey[T]{value: key}
	switch cmp {
	case Equal, NotEqual:
		if k := l.tree.Get(q); k != nil {
			out.Or(k.(*orderedKey[T]).rows)
		}
		if cmp == NotEqual {
			return complement(out, l.n)
		}
	case LessThan, LessThanEqual:
		l.tree.Do(func(c llrb.Comparable) bool {
			k := c.(*orderedKey[T])
			if !Check(cmp, k.value, key) {
				return true
			}
			out.Or(k.rows)
			return false
		})
	case GreaterThan, GreaterThanEqual:
		l.tree.DoReverse(func(c llrb.Comparable) bool {
			k := c.(*orderedKey[T])
			if !Check(cmp, k.value, key) {
				return true
			}
			out.Or(k.rows)
			return false
		})
	default:
		l.tree.Do(func(c llrb.Comparable) bool {
			if k := c.(*orderedKey[T]); Check(cmp, k.value, key) {
				out.Or(k.rows)
			}
			return false
		})
	}
	return out
}

// LookupIndices implements ColumnLookup.
func (l *OrderedLookup[T]) LookupIndices(key T, cmp Compare) []int {
	return bitmapIndices(l.Rows(key, cmp))
}

// Unpack implements ColumnLookup.
func (l *OrderedLookup[T]) Unpack() []T {
	return unpackRows(l.n, func(fn func(T, *roaring.Bitmap)) {
		l.tree.Do(func(c llrb.Comparable) bool {
			k := c.(*orderedKey[T])
			fn(k.value, k.rows)
			return false
		})
	})
}

// UnorderedLookup is a ColumnLookup backed by a hash map. Equality
// comparisons are direct; other comparisons scan the distinct values.
type UnorderedLookup[T Scalar] struct {
	m map[T]*roaring.Bitmap
	n int
}

// NewUnorderedLookup indexes col.
func NewUnorderedLookup[T Scalar](col []T) *UnorderedLookup[T] {
	l := &UnorderedLookup[T]{m: map[T]*roaring.Bitmap{}, n: len(col)}
	for row, v := range col {
		b, ok := l.m[v]
		if !ok {
			b = roaring.New()
			l.m[v] = b
		}
		b.Add(uint32(row))
	}
	return l
}

// Len implements ColumnLookup.
func (l *UnorderedLookup[T]) Len() int { return l.n }

// Rows implements ColumnLookup.
func (l *UnorderedLookup[T]) Rows(key T, cmp Compare) *roaring.Bitmap {
	out := roaring.New()
	switch cmp {
	case Equal, NotEqual:
		if b, ok := l.m[key]; ok {
			out.Or(b)
		}
		if cmp == NotEqual {
			return complement(out, l.n)
		}
	default:
		for v, b := range l.m {
			if Check(cmp, v, key) {
				out.Or(b)
			}
		}
	}
	return out
}

// LookupIndices implements ColumnLookup.
func (l *UnorderedLookup[T]) LookupIndices(key T, cmp Compare) []int {
	return bitmapIndices(l.Rows(key, cmp))
}

// Unpack implements ColumnLookup.
func (l *UnorderedLookup[T]) Unpack() []T {
	return unpackRows(l.n, func(fn func(T, *roaring.Bitmap)) {
		for v, b := range l.m {
			fn(v, b)
		}
	})
}
