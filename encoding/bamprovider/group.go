package bamprovider

import (
	"github.com/grailbio/hts/sam"
	gbam "github.com/grailbio/pacbio/encoding/bam"
)

// GroupQuery yields runs of consecutive records with the same key. Records
// of one key must be contiguous in the input for them to end up in one
// group. Thread compatible.
type GroupQuery[K comparable] struct {
	iter  Iterator
	keyFn func(*sam.Record) K

	group []*sam.Record
	key   K
	// next is the record that ended the previous group, or nil.
	next *sam.Record
	done bool
}

// NewGroupQuery creates a GroupQuery that groups the records of iter by
// keyFn. It owns iter.
func NewGroupQuery[K comparable](iter Iterator, keyFn func(*sam.Record) K) *GroupQuery[K] {
	return &GroupQuery[K]{iter: iter, keyFn: keyFn}
}

// ZmwKey identifies a ZMW. Hole numbers are unique only within a movie.
type ZmwKey struct {
	Movie      string
	HoleNumber int32
}

// ZmwKeyOf returns the ZMW of a record.
func ZmwKeyOf(r *sam.Record) ZmwKey {
	return ZmwKey{Movie: gbam.MovieName(r), HoleNumber: gbam.HoleNumber(r)}
}

// NewZmwGroupQuery groups the records of iter by ZMW.
func NewZmwGroupQuery(iter Iterator) *GroupQuery[ZmwKey] {
	return NewGroupQuery(iter, ZmwKeyOf)
}

// Scan advances to the next group. It returns false at the end of the input
// or on error.
func (q *GroupQuery[K]) Scan() bool {
	q.group = nil
	if q.done {
		return false
	}
	if q.next == nil {
		if !q.iter.Scan() {
			q.done = true
			return false
		}
		q.next = q.iter.Record()
	}
	q.key = q.keyFn(q.next)
	q.group = append(q.group, q.next)
	q.next = nil
	for q.iter.Scan() {
		r := q.iter.Record()
		if q.keyFn(r) != q.key {
			q.next = r
			return true
		}
		q.group = append(q.group, r)
	}
	q.done = true
	if q.iter.Err() != nil {
		q.group = nil
		return false
	}
	return true
}

// Group returns the records of the current group. The slice is not reused.
func (q *GroupQuery[K]) Group() []*sam.Record { return q.group }

// Key returns the key of the current group.
func (q *GroupQuery[K]) Key() K { return q.key }

// Err returns the error of the input, if any.
func (q *GroupQuery[K]) Err() error { return q.iter.Err() }

// Close closes the input.
func (q *GroupQuery[K]) Close() error { return q.iter.Close() }
