package bamprovider

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	gbam "github.com/grailbio/pacbio/encoding/bam"
	"github.com/grailbio/pacbio/encoding/pbi"
	"v.io/x/lib/vlog"
)

type readerState int

const (
	// No blocks left. Terminal.
	stateDone readerState = iota
	// The next record is the first of blocks[0]; seek before reading it.
	stateBlockHead
	// Reading blocks[0] sequentially.
	stateInBlock
)

// IndexedReader reads the records of a BAM file selected by a pbi.Filter.
// Rows are coalesced into blocks of consecutive records: the reader seeks
// to the start of each block and reads its records sequentially. Records
// are yielded in file order. Thread compatible.
type IndexedReader struct {
	ctx    context.Context
	path   string
	in     file.File
	reader *bam.Reader
	index  *pbi.RawIndex

	blocks []pbi.IndexResultBlock
	state  readerState
	// Number of records of blocks[0] read so far.
	nRead int
	rec   *sam.Record
	err   error
}

// loadIndex returns the index of bamPath, first building it if
// opts.AutoBuild is set and the index is missing or stale.
func loadIndex(ctx context.Context, bamPath string, opts ReaderOpts) (*pbi.RawIndex, error) {
	path := opts.indexPath(bamPath)
	if opts.AutoBuild {
		stale, err := pbi.IndexIsStale(ctx, bamPath, path)
		if err != nil {
			return nil, err
		}
		if stale {
			vlog.VI(1).Infof("%s: building index %s", bamPath, path)
			if err := pbi.BuildFromBAM(ctx, bamPath, path, opts.Builder); err != nil {
				return nil, err
			}
		}
	}
	return pbi.Load(ctx, path)
}

// NewIndexedReader opens bamPath and selects the records accepted by filter.
// A nil filter selects every record.
func NewIndexedReader(ctx context.Context, bamPath string, filter pbi.Filter, opts ReaderOpts) (*IndexedReader, error) {
	idx, err := loadIndex(ctx, bamPath, opts)
	if err != nil {
		return nil, err
	}
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return nil, errors.E(err, "bamprovider: open", bamPath)
	}
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(errors.Invalid, err, "bamprovider: read header", bamPath)
	}
	idx.Header = reader.Header()
	blocks, err := pbi.NewStore(idx).Blocks(filter)
	if err != nil {
		reader.Close() // nolint: errcheck
		in.Close(ctx)  // nolint: errcheck
		return nil, errors.E(err, bamPath)
	}
	r := &IndexedReader{
		ctx:    ctx,
		path:   bamPath,
		in:     in,
		reader: reader,
		index:  idx,
		blocks: blocks,
	}
	if len(blocks) > 0 {
		r.state = stateBlockHead
	}
	vlog.VI(1).Infof("%s: filter %v selected %d blocks", bamPath, filter, len(blocks))
	return r, nil
}

// Header returns the header of the BAM file.
func (r *IndexedReader) Header() *sam.Header { return r.index.Header }

// Index returns the index of the BAM file.
func (r *IndexedReader) Index() *pbi.RawIndex { return r.index }

// Blocks returns the blocks not fully read yet. The first one may be
// partially read.
func (r *IndexedReader) Blocks() []pbi.IndexResultBlock {
	return append([]pbi.IndexResultBlock(nil), r.blocks...)
}

// Scan implements Iterator.
func (r *IndexedReader) Scan() bool {
	for r.err == nil {
		switch r.state {
		case stateDone:
			return false
		case stateBlockHead:
			off := gbam.OffsetFromVirtual(r.blocks[0].VirtualOffset)
			if err := r.reader.Seek(off); err != nil {
				r.err = errors.E(err, fmt.Sprintf("bamprovider: seek %s to %+v", r.path, off))
				return false
			}
			r.nRead = 0
			r.state = stateInBlock
		case stateInBlock:
			if r.nRead == r.blocks[0].NumReads {
				r.blocks = r.blocks[1:]
				if len(r.blocks) == 0 {
					r.state = stateDone
				} else {
					r.state = stateBlockHead
				}
				continue
			}
			rec, err := r.reader.Read()
			if err == io.EOF {
				err = errors.E(errors.Integrity, fmt.Sprintf("bamprovider: %s ends inside block %+v, index is out of date", r.path, r.blocks[0]))
			}
			if err != nil {
				r.err = err
				return false
			}
			r.nRead++
			r.rec = rec
			return true
		}
	}
	return false
}

// Record implements Iterator.
func (r *IndexedReader) Record() *sam.Record { return r.rec }

// Err implements Iterator.
func (r *IndexedReader) Err() error { return r.err }

// Close implements Iterator.
func (r *IndexedReader) Close() error {
	if r.reader != nil {
		if err := r.reader.Close(); err != nil && r.err == nil {
			r.err = err
		}
		r.reader = nil
	}
	if r.in != nil {
		if err := r.in.Close(r.ctx); err != nil && r.err == nil {
			r.err = err
		}
		r.in = nil
	}
	return r.err
}
