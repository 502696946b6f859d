package bamprovider

import (
	"math"
	"strings"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// mergeLeaf is one input of a CompositeReader together with its current
// record.
type mergeLeaf struct {
	seq   int
	order Order
	iter  Iterator
	rec   *sam.Record
}

func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	l1 := c.(*mergeLeaf)
	if c := compareRecords(l.order, l.rec, l1.rec); c != 0 {
		return c
	}
	return l.seq - l1.seq
}

func positionKey(r *sam.Record) (int, int) {
	ref := r.Ref.ID()
	if ref < 0 {
		ref = math.MaxInt32
	}
	return ref, r.Pos
}

func compareRecords(order Order, a, b *sam.Record) int {
	switch order {
	case OrderQueryName:
		return strings.Compare(a.Name, b.Name)
	case OrderPosition:
		ra, pa := positionKey(a)
		rb, pb := positionKey(b)
		if ra != rb {
			return ra - rb
		}
		return pa - pb
	}
	return 0
}

// CompositeReader merges the records of several Iterators. It keeps the
// current record of each input in a tree sorted by Order, and yields the
// smallest one on every Scan. Ties are broken by input position, so with
// OrderNone the inputs are concatenated. If an input is not itself sorted
// in Order, the output is only locally sorted. Thread compatible.
type CompositeReader struct {
	iters  []Iterator
	order  Order
	leaves llrb.Tree
	primed bool
	// top is the leaf of the current record. It is out of the tree until
	// the next Scan.
	top *mergeLeaf
	rec *sam.Record
	err errors.Once
}

// NewCompositeReader creates a reader over iters. The reader owns iters and
// closes them in Close.
func NewCompositeReader(iters []Iterator, order Order) *CompositeReader {
	return &CompositeReader{iters: iters, order: order}
}

// advance reads the next record of l and, if there is one, puts l back into
// the tree.
func (c *CompositeReader) advance(l *mergeLeaf) {
	if l.iter.Scan() {
		l.rec = l.iter.Record()
		c.leaves.Insert(l)
		return
	}
	c.err.Set(l.iter.Err())
}

// Scan implements Iterator.
func (c *CompositeReader) Scan() bool {
	if c.err.Err() != nil {
		return false
	}
	if !c.primed {
		c.primed = true
		for i, iter := range c.iters {
			c.advance(&mergeLeaf{seq: i, order: c.order, iter: iter})
		}
		vlog.VI(1).Infof("bamprovider: merging %d inputs by %v, %d non-empty", len(c.iters), c.order, c.leaves.Len())
	} else if c.top != nil {
		c.advance(c.top)
		c.top = nil
	}
	if c.err.Err() != nil || c.leaves.Len() == 0 {
		return false
	}
	c.top = c.leaves.Min().(*mergeLeaf)
	c.leaves.DeleteMin()
	c.rec = c.top.rec
	return true
}

// Record implements Iterator.
func (c *CompositeReader) Record() *sam.Record { return c.rec }

// Err implements Iterator. It returns the first error of any input.
func (c *CompositeReader) Err() error { return c.err.Err() }

// Close implements Iterator. It closes every input.
func (c *CompositeReader) Close() error {
	for _, iter := range c.iters {
		c.err.Set(iter.Close())
	}
	c.iters = nil
	return c.err.Err()
}
