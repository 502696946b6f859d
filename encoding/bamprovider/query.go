package bamprovider

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pacbio/encoding/pbi"
)

// NewFilterQuery reads the records of paths accepted by filter, merged in
// opts.Order. The filter is applied to the index of each file in turn. On
// error, it returns an iterator that yields the error.
func NewFilterQuery(ctx context.Context, paths []string, filter pbi.Filter, opts ReaderOpts) Iterator {
	if len(paths) > 1 && opts.Index != "" {
		return NewErrorIterator(errors.E(errors.Invalid, "bamprovider: ReaderOpts.Index set for multiple files"))
	}
	iters := make([]Iterator, 0, len(paths))
	for _, path := range paths {
		r, err := NewIndexedReader(ctx, path, filter, opts)
		if err != nil {
			for _, iter := range iters {
				iter.Close() // nolint: errcheck
			}
			return NewErrorIterator(err)
		}
		iters = append(iters, r)
	}
	return NewCompositeReader(iters, opts.Order)
}

// NewEntireFileQuery reads every record of paths.
func NewEntireFileQuery(ctx context.Context, paths []string, opts ReaderOpts) Iterator {
	return NewFilterQuery(ctx, paths, nil, opts)
}

// NewZmwQuery reads the records of the given hole numbers.
func NewZmwQuery(ctx context.Context, paths []string, zmws []int32, opts ReaderOpts) Iterator {
	return NewFilterQuery(ctx, paths, pbi.NewZmwListFilter(zmws, pbi.Equal), opts)
}

// GenomicIntervalFilter accepts the records aligned to refName that overlap
// the half-open, zero-based range [start, end).
func GenomicIntervalFilter(refName string, start, end int) (pbi.Filter, error) {
	if start < 0 || start >= end {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bamprovider: invalid interval %s:%d-%d", refName, start, end))
	}
	return pbi.Intersection{
		pbi.NewReferenceNameFilter(refName, pbi.Equal),
		pbi.NewReferenceStartFilter(uint32(end), pbi.LessThan),
		pbi.NewReferenceEndFilter(uint32(start), pbi.GreaterThan),
	}, nil
}

// NewGenomicIntervalQuery reads the records aligned to refName that overlap
// the half-open, zero-based range [start, end).
func NewGenomicIntervalQuery(ctx context.Context, paths []string, refName string, start, end int, opts ReaderOpts) Iterator {
	filter, err := GenomicIntervalFilter(refName, start, end)
	if err != nil {
		return NewErrorIterator(err)
	}
	return NewFilterQuery(ctx, paths, filter, opts)
}
