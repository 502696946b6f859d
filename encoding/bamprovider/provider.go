package bamprovider

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pacbio/encoding/pbi"
)

// ReaderOpts defines options for NewIndexedReader and the queries.
type ReaderOpts struct {
	// Index is the path of the .pbi file. If "", it defaults to path + ".pbi".
	// It may be set only when reading a single file.
	Index string

	// AutoBuild causes the index to be built, or rebuilt if it is older than
	// the BAM file, before reading. Otherwise a missing index is an error.
	AutoBuild bool

	// Builder configures the index builder used by AutoBuild.
	Builder pbi.BuilderOpts

	// Order is the order in which records of multiple files are merged.
	Order Order
}

func (o ReaderOpts) indexPath(bamPath string) string {
	if o.Index != "" {
		return o.Index
	}
	return pbi.PathFor(bamPath)
}

// Order defines how a CompositeReader interleaves the records of its
// inputs. Each input is assumed to be sorted in that order already.
type Order int

const (
	// OrderNone yields all records of the first input, then all of the
	// second, and so on.
	OrderNone Order = iota
	// OrderQueryName merges by record name, in lexical byte order.
	OrderQueryName
	// OrderPosition merges by (reference id, position). Unmapped records
	// come last.
	OrderPosition
)

var orderNames = map[Order]string{
	OrderNone:      "none",
	OrderQueryName: "qname",
	OrderPosition:  "position",
}

// String returns the name accepted by ParseOrder.
func (o Order) String() string {
	if s, ok := orderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder parses "none", "qname" or "position".
func ParseOrder(name string) (Order, error) {
	for o, s := range orderNames {
		if s == name {
			return o, nil
		}
	}
	return OrderNone, errors.E(errors.Invalid, fmt.Sprintf("bamprovider: unknown order %q", name))
}

// Iterator iterates over sam.Records. Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If the iterator
	// reaches the end of its range, Scan() returns false. If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil if no error
	// occurred. Reaching the end of the data is not an error.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}
