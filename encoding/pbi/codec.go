// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/grailbio/base/errors"
)

// Magic is the first four bytes of every .pbi file.
var Magic = [4]byte{'P', 'B', 'I', 0x01}

const (
	headerSize   = 32
	reservedSize = 18

	// readChunk bounds the number of elements allocated per step while
	// reading a column, so a header claiming more rows than the stream
	// holds fails as truncated instead of exhausting memory.
	readChunk = 1 << 20
)

// codec serializes columns. The file is always little-endian. On a
// little-endian host a column's memory is written and read as is; on a
// big-endian host each element is byte-swapped on the way in and out.
type codec struct {
	bigEndian bool
}

var hostBigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

var nativeCodec = codec{bigEndian: hostBigEndian}

func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// columnBytes returns the raw memory of a column and its element size.
func columnBytes(col interface{}) ([]byte, int) {
	switch c := col.(type) {
	case []int8:
		return asBytes(c), 1
	case []uint8:
		return asBytes(c), 1
	case []int16:
		return asBytes(c), 2
	case []int32:
		return asBytes(c), 4
	case []uint32:
		return asBytes(c), 4
	case []float32:
		return asBytes(c), 4
	case []int64:
		return asBytes(c), 8
	}
	panic(fmt.Sprintf("pbi: unsupported column type %T", col))
}

// swap reverses the byte order of each size-byte element of b in place.
func swap(b []byte, size int) {
	if size == 1 {
		return
	}
	for i := 0; i+size <= len(b); i += size {
		e := b[i : i+size]
		for l, r := 0, size-1; l < r; l, r = l+1, r-1 {
			e[l], e[r] = e[r], e[l]
		}
	}
}

// appendColumn appends the little-endian encoding of col to dst.
func (c codec) appendColumn(dst []byte, col interface{}) []byte {
	if !c.bigEndian && !hostBigEndian {
		raw, _ := columnBytes(col)
		return append(dst, raw...)
	}
	_, size := columnBytes(col)
	// Lay the column out the way a big-endian host holds it in memory, then
	// swap each element into file order.
	var host bytes.Buffer
	if err := binary.Write(&host, binary.BigEndian, col); err != nil {
		panic(err)
	}
	b := host.Bytes()
	swap(b, size)
	return append(dst, b...)
}

// writeColumn writes the little-endian encoding of col to w.
func (c codec) writeColumn(w io.Writer, col interface{}) error {
	if !c.bigEndian && !hostBigEndian {
		raw, _ := columnBytes(col)
		_, err := w.Write(raw)
		return err
	}
	_, err := w.Write(c.appendColumn(nil, col))
	return err
}

// readInto fills col from the little-endian encoding in r.
func (c codec) readInto(r io.Reader, col interface{}) error {
	raw, size := columnBytes(col)
	if len(raw) == 0 {
		return nil
	}
	if !c.bigEndian && !hostBigEndian {
		_, err := io.ReadFull(r, raw)
		return err
	}
	b := make([]byte, len(raw))
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	swap(b, size)
	return binary.Read(bytes.NewReader(b), binary.BigEndian, col)
}

// basicColumns lists the Basic section columns in file order.
func basicColumns(b *BasicData) []interface{} {
	return []interface{}{b.ReadGroupID, b.QueryStart, b.QueryEnd, b.HoleNumber, b.ReadQuality, b.ContextFlag, b.FileOffset}
}

func mappedColumns(m *MappedData) []interface{} {
	return []interface{}{m.RefID, m.RefStart, m.RefEnd, m.AlignedStart, m.AlignedEnd,
		m.ReverseStrand, m.NumMatches, m.NumMismatches, m.MapQuality}
}

func barcodeColumns(b *BarcodeData) []interface{} {
	return []interface{}{b.Forward, b.Reverse, b.Quality}
}

var (
	basicColumnNames   = []string{"rgId", "qStart", "qEnd", "holeNumber", "readQual", "ctxtFlag", "fileOffset"}
	mappedColumnNames  = []string{"tId", "tStart", "tEnd", "aStart", "aEnd", "revStrand", "nM", "nMM", "mapQV"}
	barcodeColumnNames = []string{"bcForward", "bcReverse", "bcQual"}
)

// Column is one column of a RawIndex.
type Column struct {
	// Name is the column's name in the PacBio index documentation, e.g.
	// "holeNumber".
	Name string
	// Data is the column slice, e.g. a []int32.
	Data interface{}
}

// Bytes returns the column as stored in the file, little-endian.
func (c Column) Bytes() []byte {
	return nativeCodec.appendColumn(nil, c.Data)
}

// Columns returns the columns of the sections present in idx, in file
// order. The Reference section is not columnar and is not included.
func (idx *RawIndex) Columns() []Column {
	var cols []Column
	add := func(names []string, data []interface{}) {
		for i, name := range names {
			cols = append(cols, Column{Name: name, Data: data[i]})
		}
	}
	add(basicColumnNames, basicColumns(&idx.Basic))
	if idx.Has(SectionMapped) {
		add(mappedColumnNames, mappedColumns(&idx.Mapped))
	}
	if idx.Has(SectionBarcode) {
		add(barcodeColumnNames, barcodeColumns(&idx.Barcode))
	}
	return cols
}

// readColumns reads n elements into each column pointer in dsts.
func (c codec) readColumns(r io.Reader, n int, dsts ...interface{}) error {
	for _, dst := range dsts {
		var err error
		switch d := dst.(type) {
		case *[]int8:
			*d, err = readColumn[int8](c, r, n)
		case *[]uint8:
			*d, err = readColumn[uint8](c, r, n)
		case *[]int16:
			*d, err = readColumn[int16](c, r, n)
		case *[]int32:
			*d, err = readColumn[int32](c, r, n)
		case *[]uint32:
			*d, err = readColumn[uint32](c, r, n)
		case *[]float32:
			*d, err = readColumn[float32](c, r, n)
		case *[]int64:
			*d, err = readColumn[int64](c, r, n)
		default:
			panic(fmt.Sprintf("pbi: unsupported column type %T", dst))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readColumn reads a column of n elements, at most readChunk at a time.
func readColumn[T any](c codec, r io.Reader, n int) ([]T, error) {
	k := n
	if k > readChunk {
		k = readChunk
	}
	col := make([]T, 0, k)
	chunk := make([]T, k)
	for len(col) < n {
		m := n - len(col)
		if m > len(chunk) {
			m = len(chunk)
		}
		if err := c.readInto(r, chunk[:m]); err != nil {
			return nil, err
		}
		col = append(col, chunk[:m]...)
	}
	return col, nil
}

// encodeHeader returns the 32 byte file header.
func encodeHeader(version Version, sections Sections, numReads uint32) []byte {
	h := make([]byte, headerSize)
	copy(h, Magic[:])
	binary.LittleEndian.PutUint32(h[4:], uint32(version))
	binary.LittleEndian.PutUint16(h[8:], uint16(sections))
	binary.LittleEndian.PutUint32(h[10:], numReads)
	return h
}

// encodeReferences returns the Reference section.
func encodeReferences(ref *ReferenceData) []byte {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(ref.Entries)))
	buf.Write(n[:])
	if err := binary.Write(&buf, binary.LittleEndian, ref.Entries); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// readReferences reads the Reference section, growing the entry list as
// entries arrive rather than trusting the stored count up front.
func readReferences(r io.Reader) ([]ReferenceEntry, error) {
	var nb [4]byte
	if _, err := io.ReadFull(r, nb[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(nb[:]))
	k := n
	if k > readChunk {
		k = readChunk
	}
	entries := make([]ReferenceEntry, 0, k)
	chunk := make([]ReferenceEntry, k)
	for len(entries) < n {
		m := n - len(entries)
		if m > len(chunk) {
			m = len(chunk)
		}
		if err := binary.Read(r, binary.LittleEndian, chunk[:m]); err != nil {
			return nil, err
		}
		entries = append(entries, chunk[:m]...)
	}
	return entries, nil
}

// Write serializes idx, uncompressed, to w.
func Write(w io.Writer, idx *RawIndex) error {
	return nativeCodec.write(w, idx)
}

func (c codec) write(w io.Writer, idx *RawIndex) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	version := idx.Version
	if version == 0 {
		version = CurrentVersion
	}
	if _, err := w.Write(encodeHeader(version, idx.Sections, idx.NumReads)); err != nil {
		return err
	}
	var cols []interface{}
	cols = append(cols, basicColumns(&idx.Basic)...)
	if idx.Has(SectionMapped) {
		cols = append(cols, mappedColumns(&idx.Mapped)...)
	}
	for _, col := range cols {
		if err := c.writeColumn(w, col); err != nil {
			return err
		}
	}
	if idx.Has(SectionReference) {
		if _, err := w.Write(encodeReferences(&idx.Reference)); err != nil {
			return err
		}
	}
	if idx.Has(SectionBarcode) {
		for _, col := range barcodeColumns(&idx.Barcode) {
			if err := c.writeColumn(w, col); err != nil {
				return err
			}
		}
	}
	return nil
}

// Read parses an uncompressed .pbi stream.
func Read(r io.Reader) (*RawIndex, error) {
	return nativeCodec.read(r)
}

func truncated(section string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.E(errors.Invalid, fmt.Sprintf("pbi: truncated %s section", section), err)
	}
	return errors.E(err, fmt.Sprintf("pbi: reading %s section", section))
}

func (c codec) read(r io.Reader) (*RawIndex, error) {
	var h [headerSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, truncated("header", err)
	}
	if !bytes.Equal(h[:4], Magic[:]) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: bad magic %q, expect %q", h[:4], Magic[:]))
	}
	idx := &RawIndex{
		Version:  Version(binary.LittleEndian.Uint32(h[4:])),
		Sections: Sections(binary.LittleEndian.Uint16(h[8:])),
		NumReads: binary.LittleEndian.Uint32(h[10:]),
	}
	if !idx.Version.Supported() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: unsupported version %v, expect %v or %v",
			idx.Version, Version3_0_0, Version3_0_1))
	}
	if idx.Sections&^allSections != 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pbi: unknown section flags %#x", uint16(idx.Sections)))
	}
	n := int(idx.NumReads)
	b := &idx.Basic
	if err := c.readColumns(r, n, &b.ReadGroupID, &b.QueryStart, &b.QueryEnd,
		&b.HoleNumber, &b.ReadQuality, &b.ContextFlag, &b.FileOffset); err != nil {
		return nil, truncated("basic", err)
	}
	if idx.Has(SectionMapped) {
		m := &idx.Mapped
		if err := c.readColumns(r, n, &m.RefID, &m.RefStart, &m.RefEnd, &m.AlignedStart,
			&m.AlignedEnd, &m.ReverseStrand, &m.NumMatches, &m.NumMismatches, &m.MapQuality); err != nil {
			return nil, truncated("mapped", err)
		}
	}
	if idx.Has(SectionReference) {
		entries, err := readReferences(r)
		if err != nil {
			return nil, truncated("reference", err)
		}
		idx.Reference.Entries = entries
	}
	if idx.Has(SectionBarcode) {
		bc := &idx.Barcode
		if err := c.readColumns(r, n, &bc.Forward, &bc.Reverse, &bc.Quality); err != nil {
			return nil, truncated("barcode", err)
		}
	}
	if err := idx.Validate(); err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	return idx, nil
}
