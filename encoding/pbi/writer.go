// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/pacbio/encoding/bam"
	gbgzf "github.com/grailbio/pacbio/encoding/bgzf"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// WriterOpts configures a Writer.
type WriterOpts struct {
	// Level is the gzip level of the BAM file. Zero means
	// DefaultCompressionLevel.
	Level int
	// Builder configures the index builder. NumReferences defaults to the
	// number of references in the header.
	Builder BuilderOpts
}

// Writer writes a BAM file and its .pbi index in one pass. BGZF compression
// of the BAM runs on a background goroutine; the index records the
// uncompressed position of each record and converts it to a virtual
// offset once Close has joined the compressor. Neither file is valid until
// Close returns nil.
type Writer struct {
	ctx     context.Context
	path    string
	out     file.File
	bgzf    *gbgzf.Writer
	builder *Builder
	buf     []byte
	err     errors.Once
}

// NewWriter creates bamPath and PathFor(bamPath).
func NewWriter(ctx context.Context, bamPath string, header *sam.Header, opts WriterOpts) (*Writer, error) {
	if opts.Level == 0 {
		opts.Level = DefaultCompressionLevel
	}
	if opts.Builder.NumReferences == 0 {
		opts.Builder.NumReferences = len(header.Refs())
	}
	out, err := file.Create(ctx, bamPath)
	if err != nil {
		return nil, errors.E(err, "pbi: create", bamPath)
	}
	bg, err := gbgzf.NewWriterOpts(out.Writer(ctx), gbgzf.Opts{Level: opts.Level, Background: true})
	if err != nil {
		out.Discard(ctx)
		return nil, err
	}
	w := &Writer{
		ctx:     ctx,
		path:    bamPath,
		out:     out,
		bgzf:    bg,
		builder: NewBuilder(opts.Builder),
	}
	hdr, err := gbam.MarshalHeader(header)
	if err == nil {
		_, err = w.bgzf.Write(hdr)
	}
	if err != nil {
		w.err.Set(err)
		w.Close() // nolint: errcheck
		return nil, errors.E(err, "pbi: write header", bamPath)
	}
	return w, nil
}

// Write appends a record to the BAM file and its row to the index.
func (w *Writer) Write(r *sam.Record) error {
	if err := w.Err(); err != nil {
		return err
	}
	pos := w.bgzf.UncompressedOffset()
	var err error
	if w.buf, err = gbam.AppendRecord(w.buf[:0], r); err != nil {
		w.err.Set(err)
		return err
	}
	if _, err := w.bgzf.Write(w.buf); err != nil {
		w.err.Set(err)
		return err
	}
	if err := w.builder.Add(r, int64(pos)); err != nil {
		w.err.Set(err)
		return err
	}
	return nil
}

// Err returns the first error seen by the writer or its background
// compressor.
func (w *Writer) Err() error {
	if err := w.err.Err(); err != nil {
		return err
	}
	return w.bgzf.Err()
}

// Close flushes the BAM file, waits for the compressor, and writes the
// index. On error neither file is left behind.
func (w *Writer) Close() error {
	w.err.Set(w.bgzf.Close())
	published := false
	if w.err.Err() != nil {
		w.out.Discard(w.ctx)
	} else if err := w.out.Close(w.ctx); err != nil {
		w.err.Set(err)
	} else {
		published = true
		blocks := w.bgzf.Blocks()
		w.err.Set(w.builder.WriteIndex(w.ctx, PathFor(w.path), func(pos int64) int64 {
			return int64(blocks.VirtualOffset(uint64(pos)))
		}))
	}
	w.err.Set(w.builder.Close())
	err := w.err.Err()
	if err == nil {
		return nil
	}
	if published {
		for _, path := range []string{w.path, PathFor(w.path)} {
			if rmErr := file.Remove(w.ctx, path); rmErr != nil && !errors.Is(errors.NotExist, rmErr) {
				log.Error.Printf("pbi: remove %s: %v", path, rmErr)
			}
		}
	}
	return errors.E(err, "pbi: write", w.path)
}

// BuildFromBAM reads the BAM file at bamPath and writes its index to
// pbiPath.
func BuildFromBAM(ctx context.Context, bamPath, pbiPath string, opts BuilderOpts) (err error) {
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return errors.E(err, "pbi: open", bamPath)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return errors.E(err, "pbi: read bam header", bamPath)
	}
	defer r.Close() // nolint: errcheck
	if opts.NumReferences == 0 {
		opts.NumReferences = len(r.Header().Refs())
	}
	b := NewBuilder(opts)
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.E(err, "pbi: read", bamPath)
		}
		if err := b.Add(rec, gbam.VirtualFromOffset(r.LastChunk().Begin)); err != nil {
			return errors.E(err, "pbi: index", bamPath)
		}
	}
	log.Debug.Printf("pbi: indexed %d records of %s, sections %v", b.NumReads(), bamPath, b.Sections())
	return b.WriteIndex(ctx, pbiPath, nil)
}
