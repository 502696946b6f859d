// Package bgzf writes block-gzipped streams, the container format shared
// by .bam and .pbi files. A stream is a run of independent gzip members,
// each holding at most 64KiB of payload and tagged with a "BC" extra
// subfield carrying the member's compressed size. An empty member marks
// the end of the stream.
//
// Besides the usual foreground mode, where VOffset reports the virtual
// offset of the next byte, the Writer can compress on a background
// goroutine. In that mode callers remember payload positions
// (UncompressedOffset) and translate them after Close:
//
//	w, err := NewWriterOpts(out, Opts{Level: 1, Background: true})
//	pos := w.UncompressedOffset()
//	_, err = w.Write(record)
//	err = w.Close()
//	voff := w.Blocks().VirtualOffset(pos)
package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
	"v.io/x/lib/vlog"
)

const (
	// DefaultUncompressedBlockSize leaves room for the gzip framing of an
	// incompressible block within the 64KiB member limit.
	DefaultUncompressedBlockSize = 0xff00

	// MaxUncompressedBlockSize is the largest payload a member may carry.
	MaxUncompressedBlockSize = 1 << 16

	maxMemberSize = 1 << 16

	// Offset of the BSIZE field: 10 byte gzip header, 2 byte XLEN, then
	// the 4 byte subfield header.
	bsizeOffset = 16

	backgroundQueueLen = 16
)

// extraField is the "BC" subfield with a BSIZE placeholder.
var extraField = []byte{'B', 'C', 2, 0, 0, 0}

// eofMember is the empty member that terminates every stream.
var eofMember = []byte{
	0x1f, 0x8b, 8, 4, 0, 0, 0, 0, 0, 0xff, 6, 0, 'B', 'C', 2, 0, 0x1b, 0,
	3, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Opts configures a Writer.
type Opts struct {
	// Level is the gzip compression level.
	Level int
	// UncompressedBlockSize bounds the payload of one member. Zero selects
	// DefaultUncompressedBlockSize.
	UncompressedBlockSize int
	// Background compresses on a separate goroutine. VOffset is unavailable
	// in this mode.
	Background bool
}

// Writer produces a bgzf stream and remembers where every member starts.
type Writer struct {
	out       io.Writer
	blockSize int
	pending   []byte
	flushed   uint64 // payload bytes handed to the compressor

	c *compressor

	background bool
	queue      chan []byte
	done       chan struct{}
	closed     bool
}

// compressor turns payload blocks into members. It runs either on the
// caller's goroutine or on the background goroutine, never both.
type compressor struct {
	gz      *gzip.Writer
	level   int
	out     io.Writer
	member  bytes.Buffer
	fileOff uint64
	payload uint64
	blocks  BlockIndex
	err     errors.Once
}

// NewWriter returns a foreground writer at the given compression level.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterOpts(w, Opts{Level: level})
}

// NewWriterOpts returns a writer configured by opts.
func NewWriterOpts(w io.Writer, opts Opts) (*Writer, error) {
	size := opts.UncompressedBlockSize
	if size == 0 {
		size = DefaultUncompressedBlockSize
	}
	if size < 0 || size > MaxUncompressedBlockSize {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bgzf: block size %d not in (0, %d]", size, MaxUncompressedBlockSize))
	}
	bw := &Writer{
		out:        w,
		blockSize:  size,
		pending:    make([]byte, 0, size),
		background: opts.Background,
		c:          &compressor{level: opts.Level, out: w},
	}
	if bw.background {
		bw.queue = make(chan []byte, backgroundQueueLen)
		bw.done = make(chan struct{})
		go bw.drain()
	}
	return bw, nil
}

func (w *Writer) drain() {
	defer close(w.done)
	for block := range w.queue {
		if w.c.err.Err() == nil {
			w.c.err.Set(w.c.sealBlock(block))
		}
	}
}

// Write appends p to the payload, emitting a member each time a block
// fills up.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.E(errors.Invalid, "bgzf: write after close")
	}
	if err := w.c.err.Err(); err != nil {
		return 0, err
	}
	written := 0
	for len(p) > 0 {
		n := w.blockSize - len(w.pending)
		if n > len(p) {
			n = len(p)
		}
		w.pending = append(w.pending, p[:n]...)
		p = p[n:]
		written += n
		if len(w.pending) == w.blockSize {
			if err := w.emit(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// emit hands the pending block to the compressor.
func (w *Writer) emit() error {
	block := w.pending
	w.flushed += uint64(len(block))
	if w.background {
		w.queue <- block
		w.pending = make([]byte, 0, w.blockSize)
		return w.c.err.Err()
	}
	w.pending = w.pending[:0]
	if err := w.c.sealBlock(block); err != nil {
		w.c.err.Set(err)
		return err
	}
	return nil
}

// sealBlock compresses data into one member, patches its BSIZE and
// writes it out.
func (c *compressor) sealBlock(data []byte) error {
	c.member.Reset()
	if c.gz == nil {
		gz, err := gzip.NewWriterLevel(&c.member, c.level)
		if err != nil {
			return err
		}
		c.gz = gz
	} else {
		c.gz.Reset(&c.member)
	}
	c.gz.Header.Extra = append([]byte(nil), extraField...)
	c.gz.Header.OS = 0xff
	if _, err := c.gz.Write(data); err != nil {
		return err
	}
	if err := c.gz.Close(); err != nil {
		return err
	}
	b := c.member.Bytes()
	if len(b) > maxMemberSize {
		return errors.E(errors.Invalid, fmt.Sprintf("bgzf: member of %d bytes exceeds %d", len(b), maxMemberSize))
	}
	if !bytes.Equal(b[bsizeOffset-4:bsizeOffset], extraField[:4]) {
		vlog.Fatalf("bgzf: BC subfield missing from gzip header")
	}
	binary.LittleEndian.PutUint16(b[bsizeOffset:], uint16(len(b)-1))

	c.blocks = append(c.blocks, Block{UncompressedStart: c.payload, CompressedStart: c.fileOff})
	if _, err := c.out.Write(b); err != nil {
		return err
	}
	c.fileOff += uint64(len(b))
	c.payload += uint64(len(data))
	return nil
}

// Close flushes the last partial block, waits for the background
// compressor if any, and appends the end-of-stream member.
func (w *Writer) Close() error {
	if w.closed {
		return w.c.err.Err()
	}
	w.closed = true
	var err error
	if len(w.pending) > 0 {
		err = w.emit()
	}
	if w.background {
		close(w.queue)
		<-w.done
	}
	if err == nil {
		err = w.c.err.Err()
	}
	if err != nil {
		return err
	}
	if _, err := w.out.Write(eofMember); err != nil {
		w.c.err.Set(err)
		return err
	}
	return nil
}

// Err returns the first compression or write error. In background mode it
// can report a failure before Write does.
func (w *Writer) Err() error {
	return w.c.err.Err()
}

// VOffset returns the virtual offset of the next payload byte. It panics
// on a background writer.
func (w *Writer) VOffset() uint64 {
	if w.background {
		vlog.Panicf("bgzf: VOffset called on a background writer")
	}
	return w.c.fileOff<<16 | uint64(len(w.pending))
}

// UncompressedOffset returns the payload position of the next byte.
func (w *Writer) UncompressedOffset() uint64 {
	return w.flushed + uint64(len(w.pending))
}

// Blocks returns the members written so far. A background writer's list
// is complete only after Close.
func (w *Writer) Blocks() BlockIndex {
	return w.c.blocks
}
