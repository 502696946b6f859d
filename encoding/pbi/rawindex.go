// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// Version is the .pbi format version, encoded as 0x00MMmmpp.
type Version uint32

const (
	// Version3_0_0 is the oldest version this package reads.
	Version3_0_0 Version = 0x030000
	// Version3_0_1 is the version this package writes.
	Version3_0_1 Version = 0x030001
	// CurrentVersion is the version written by Save and the Builder.
	CurrentVersion = Version3_0_1
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", (v>>16)&0xff, (v>>8)&0xff, v&0xff)
}

// Supported reports whether v can be read.
func (v Version) Supported() bool {
	return v == Version3_0_0 || v == Version3_0_1
}

// Sections is the bitmask of optional sections present in an index. The
// Basic section is always present.
type Sections uint16

const (
	SectionBasic     Sections = 0x0000
	SectionMapped    Sections = 0x0001
	SectionReference Sections = 0x0002
	SectionBarcode   Sections = 0x0004

	allSections = SectionMapped | SectionReference | SectionBarcode
)

func (s Sections) String() string {
	str := "basic"
	if s&SectionMapped != 0 {
		str += "|mapped"
	}
	if s&SectionReference != 0 {
		str += "|reference"
	}
	if s&SectionBarcode != 0 {
		str += "|barcode"
	}
	return str
}

const (
	// UnmappedID is the reference id of unmapped rows, and of the Reference
	// section entry that covers them.
	UnmappedID int32 = -1
	// UnmappedPosition fills the position columns of unmapped rows.
	UnmappedPosition uint32 = 0xffffffff
	// UnmappedMapQV fills the map quality column of unmapped rows.
	UnmappedMapQV uint8 = 255
	// NullRow marks a Reference entry with no rows.
	NullRow uint32 = 0xffffffff
	// NoBarcode fills the barcode columns of rows without barcode data.
	NoBarcode = -1
)

// BasicData holds the columns present for every row.
type BasicData struct {
	ReadGroupID []int32
	QueryStart  []int32
	QueryEnd    []int32
	HoleNumber  []int32
	ReadQuality []float32
	ContextFlag []uint8
	// FileOffset is the BGZF virtual offset of the record in the BAM file.
	FileOffset []int64
}

// MappedData holds alignment columns. Rows of unmapped records carry the
// Unmapped* placeholders.
type MappedData struct {
	RefID         []int32
	RefStart      []uint32
	RefEnd        []uint32
	AlignedStart  []uint32
	AlignedEnd    []uint32
	ReverseStrand []uint8
	NumMatches    []uint32
	NumMismatches []uint32
	MapQuality    []uint8
}

// NumInsertedBases returns the number of inserted bases of the given row.
func (m *MappedData) NumInsertedBases(row int) uint32 {
	return m.AlignedEnd[row] - m.AlignedStart[row] - m.NumMatches[row] - m.NumMismatches[row]
}

// NumDeletedBases returns the number of deleted bases of the given row.
func (m *MappedData) NumDeletedBases(row int) uint32 {
	return m.RefEnd[row] - m.RefStart[row] - m.NumMatches[row] - m.NumMismatches[row]
}

// IsMapped reports whether the given row is an aligned record.
func (m *MappedData) IsMapped(row int) bool {
	return m.RefID[row] >= 0
}

// BarcodeData holds barcode columns. A row without complete barcode data has
// NoBarcode in all three columns.
type BarcodeData struct {
	Forward []int16
	Reverse []int16
	Quality []int8
}

// ReferenceEntry is the row range [BeginRow, EndRow) of one reference in a
// coordinate-sorted file. Both rows are NullRow if the reference has no
// records.
type ReferenceEntry struct {
	RefID    int32
	BeginRow uint32
	EndRow   uint32
}

// ReferenceData lists reference entries by ascending RefID, with the
// UnmappedID entry last.
type ReferenceData struct {
	Entries []ReferenceEntry
}

// RawIndex is the in-memory image of a .pbi file. Every column of every
// present section has NumReads elements, and row i of each column describes
// the i'th record of the BAM file.
type RawIndex struct {
	Version  Version
	Sections Sections
	NumReads uint32

	Basic     BasicData
	Mapped    MappedData
	Reference ReferenceData
	Barcode   BarcodeData

	// Path is the file the index was loaded from, if any. It is not
	// serialized.
	Path string
	// Header is the header of the indexed BAM file, if known. Filters on
	// reference, movie or query names need it. It is not serialized.
	Header *sam.Header
}

// Has reports whether all the sections in s are present.
func (idx *RawIndex) Has(s Sections) bool {
	return idx.Sections&s == s
}

// Validate checks that every present column has NumReads elements.
func (idx *RawIndex) Validate() error {
	n := int(idx.NumReads)
	check := func(name string, l int) error {
		if l != n {
			return fmt.Errorf("pbi: column %s has %d rows, expect %d", name, l, n)
		}
		return nil
	}
	b := &idx.Basic
	for _, c := range []struct {
		name string
		l    int
	}{
		{"rgId", len(b.ReadGroupID)}, {"qStart", len(b.QueryStart)}, {"qEnd", len(b.QueryEnd)},
		{"holeNumber", len(b.HoleNumber)}, {"readQual", len(b.ReadQuality)},
		{"ctxtFlag", len(b.ContextFlag)}, {"fileOffset", len(b.FileOffset)},
	} {
		if err := check(c.name, c.l); err != nil {
			return err
		}
	}
	if idx.Has(SectionMapped) {
		m := &idx.Mapped
		for _, c := range []struct {
			name string
			l    int
		}{
			{"tId", len(m.RefID)}, {"tStart", len(m.RefStart)}, {"tEnd", len(m.RefEnd)},
			{"aStart", len(m.AlignedStart)}, {"aEnd", len(m.AlignedEnd)},
			{"revStrand", len(m.ReverseStrand)}, {"nM", len(m.NumMatches)},
			{"nMM", len(m.NumMismatches)}, {"mapQV", len(m.MapQuality)},
		} {
			if err := check(c.name, c.l); err != nil {
				return err
			}
		}
	}
	if idx.Has(SectionBarcode) {
		bc := &idx.Barcode
		for _, c := range []struct {
			name string
			l    int
		}{
			{"bcForward", len(bc.Forward)}, {"bcReverse", len(bc.Reverse)}, {"bcQual", len(bc.Quality)},
		} {
			if err := check(c.name, c.l); err != nil {
				return err
			}
		}
	}
	if idx.Has(SectionReference) {
		for _, e := range idx.Reference.Entries {
			if e.BeginRow == NullRow && e.EndRow == NullRow {
				continue
			}
			if e.BeginRow > e.EndRow || e.EndRow > idx.NumReads {
				return fmt.Errorf("pbi: reference %d has bad row range [%d,%d)", e.RefID, e.BeginRow, e.EndRow)
			}
		}
	}
	return nil
}

// Identity returns 1 - (mismatches+insertions+deletions)/alignedLength for
// a mapped row, and 0 for an unmapped row or an empty alignment.
func (idx *RawIndex) Identity(row int) float32 {
	m := &idx.Mapped
	if !m.IsMapped(row) {
		return 0
	}
	length := m.AlignedEnd[row] - m.AlignedStart[row]
	if length == 0 {
		return 0
	}
	errs := m.NumMismatches[row] + m.NumInsertedBases(row) + m.NumDeletedBases(row)
	return 1 - float32(errs)/float32(length)
}
