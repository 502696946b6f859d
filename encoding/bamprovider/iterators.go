package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// sliceIterator yields the records of a slice, then reports err.
type sliceIterator struct {
	recs []*sam.Record
	rec  *sam.Record
	err  error
}

// NewSliceIterator creates an Iterator over recs. It is mostly useful in
// tests and for feeding in-memory records to a CompositeReader.
func NewSliceIterator(recs []*sam.Record) Iterator {
	return &sliceIterator{recs: recs}
}

// NewErrorIterator creates an Iterator that yields no record and returns "err"
// in Err and Close.
func NewErrorIterator(err error) Iterator {
	return &sliceIterator{err: err}
}

func (i *sliceIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec, i.recs = i.recs[0], i.recs[1:]
	return true
}

func (i *sliceIterator) Record() *sam.Record {
	if i.rec == nil {
		panic("bamprovider: Record called without a successful Scan")
	}
	return i.rec
}

func (i *sliceIterator) Err() error   { return i.err }
func (i *sliceIterator) Close() error { return i.err }
