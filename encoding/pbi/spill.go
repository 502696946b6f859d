// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
)

// columnBuffer accumulates the values of one column. With spillRows > 0,
// every spillRows values are encoded, snappy-compressed and appended as a
// frame to a temp file, so only the newest values stay in memory.
type columnBuffer[T Scalar] struct {
	name      string
	spillRows int
	tmpDir    string
	err       *errors.Once

	buf   []T
	n     int
	spill *os.File
	// compressBuf is reused across frames.
	compressBuf []byte
}

func newColumnBuffer[T Scalar](name string, opts *BuilderOpts, err *errors.Once) *columnBuffer[T] {
	return &columnBuffer[T]{name: name, spillRows: opts.SpillRows, tmpDir: opts.TmpDir, err: err}
}

func (c *columnBuffer[T]) append(v T) {
	c.buf = append(c.buf, v)
	c.n++
	if c.spillRows > 0 && len(c.buf) >= c.spillRows {
		c.flush()
	}
}

func (c *columnBuffer[T]) len() int { return c.n }

// flush moves the in-memory values to the spill file.
func (c *columnBuffer[T]) flush() {
	if len(c.buf) == 0 || c.err.Err() != nil {
		return
	}
	if c.spill == nil {
		f, err := ioutil.TempFile(c.tmpDir, "pbi-"+c.name+"-")
		if err != nil {
			c.err.Set(errors.E(err, "pbi: create spill file for column", c.name))
			return
		}
		c.spill = f
	}
	raw := nativeCodec.appendColumn(nil, c.buf)
	c.compressBuf = snappy.Encode(c.compressBuf[:cap(c.compressBuf)], raw)
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(c.buf)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(c.compressBuf)))
	if _, err := c.spill.Write(hdr[:]); err != nil {
		c.err.Set(errors.E(err, "pbi: write spill file", c.spill.Name()))
		return
	}
	if _, err := c.spill.Write(c.compressBuf); err != nil {
		c.err.Set(errors.E(err, "pbi: write spill file", c.spill.Name()))
		return
	}
	c.buf = c.buf[:0]
}

// each calls fn with successive chunks of the column, spilled frames first.
// The chunk is only valid during the call.
func (c *columnBuffer[T]) each(fn func(chunk []T) error) error {
	if c.spill != nil {
		if _, err := c.spill.Seek(0, io.SeekStart); err != nil {
			return errors.E(err, "pbi: rewind spill file", c.spill.Name())
		}
		r := bufio.NewReader(c.spill)
		var (
			hdr        [8]byte
			compressed []byte
			raw        []byte
			chunk      []T
		)
		for {
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				if err == io.EOF {
					break
				}
				return errors.E(err, "pbi: read spill file", c.spill.Name())
			}
			rows := int(binary.LittleEndian.Uint32(hdr[0:]))
			size := int(binary.LittleEndian.Uint32(hdr[4:]))
			if cap(compressed) < size {
				compressed = make([]byte, size)
			}
			compressed = compressed[:size]
			if _, err := io.ReadFull(r, compressed); err != nil {
				return errors.E(err, "pbi: read spill file", c.spill.Name())
			}
			var err error
			if raw, err = snappy.Decode(raw[:cap(raw)], compressed); err != nil {
				return errors.E(errors.Integrity, err, "pbi: corrupt spill file", c.spill.Name())
			}
			if cap(chunk) < rows {
				chunk = make([]T, rows)
			}
			chunk = chunk[:rows]
			if err := nativeCodec.readInto(bytes.NewReader(raw), chunk); err != nil {
				return errors.E(err, "pbi: decode spill file", c.spill.Name())
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	if len(c.buf) > 0 {
		return fn(c.buf)
	}
	return nil
}

// writeTo writes the little-endian column to w, optionally mapping each
// value through fn first.
func (c *columnBuffer[T]) writeTo(w io.Writer, fn func(T) T) error {
	var mapped []T
	return c.each(func(chunk []T) error {
		if fn != nil {
			mapped = append(mapped[:0], chunk...)
			for i, v := range mapped {
				mapped[i] = fn(v)
			}
			chunk = mapped
		}
		return nativeCodec.writeColumn(w, chunk)
	})
}

// values returns the whole column in memory.
func (c *columnBuffer[T]) values() ([]T, error) {
	out := make([]T, 0, c.n)
	err := c.each(func(chunk []T) error {
		out = append(out, chunk...)
		return nil
	})
	return out, err
}

// close removes the spill file, if any.
func (c *columnBuffer[T]) close() error {
	if c.spill == nil {
		return nil
	}
	name := c.spill.Name()
	err := c.spill.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	c.spill = nil
	return err
}
