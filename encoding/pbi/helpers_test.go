// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/assert"
)

// mappedRow returns a mapped row at the given reference and position.
func mappedRow(zmw, refID int32, pos uint32) Row {
	return Row{
		ReadGroupID:   0x1234,
		QueryStart:    0,
		QueryEnd:      100,
		HoleNumber:    zmw,
		ReadQuality:   0.9,
		Mapped:        true,
		RefID:         refID,
		RefStart:      pos,
		RefEnd:        pos + 100,
		AlignedStart:  0,
		AlignedEnd:    100,
		NumMatches:    95,
		NumMismatches: 3,
		MapQuality:    60,
	}
}

func unmappedRow(zmw int32) Row {
	return Row{ReadGroupID: 0x1234, QueryStart: 0, QueryEnd: 50, HoleNumber: zmw, ReadQuality: 0.8}
}

// buildIndex builds a RawIndex from rows, giving row i the file offset
// 1000*(i+1).
func buildIndex(t testing.TB, opts BuilderOpts, rows ...Row) *RawIndex {
	b := NewBuilder(opts)
	defer func() { assert.NoError(t, b.Close()) }()
	for i, r := range rows {
		r.FileOffset = int64(1000 * (i + 1))
		assert.NoError(t, b.AddRow(r))
	}
	idx, err := b.Index()
	assert.NoError(t, err)
	return idx
}

// randomRows returns n rows with a mix of mapped, unmapped and barcoded
// records, sorted by reference and position.
func randomRows(r *rand.Rand, n int) []Row {
	rows := make([]Row, 0, n)
	var pos uint32
	refID := int32(0)
	nUnmapped := n / 5
	for i := 0; i < n-nUnmapped; i++ {
		if r.Intn(20) == 0 {
			refID++
			pos = 0
		}
		pos += uint32(r.Intn(50))
		row := mappedRow(int32(r.Intn(30)), refID, pos)
		row.ReadGroupID = int32(r.Intn(4))
		row.QueryStart = int32(r.Intn(1000))
		row.QueryEnd = row.QueryStart + int32(r.Intn(1000))
		row.ReadQuality = float32(r.Intn(100)) / 100
		row.ContextFlag = uint8(r.Intn(64))
		row.RefEnd = row.RefStart + uint32(r.Intn(500))
		row.AlignedStart = uint32(r.Intn(100))
		row.AlignedEnd = row.AlignedStart + uint32(r.Intn(500))
		row.NumMatches = uint32(r.Intn(100))
		row.NumMismatches = uint32(r.Intn(10))
		row.MapQuality = uint8(r.Intn(61))
		row.Reverse = r.Intn(2) == 0
		if r.Intn(3) > 0 {
			row.HasBarcodes = true
			row.BarcodeForward = int16(r.Intn(5))
			row.BarcodeReverse = int16(r.Intn(5))
			row.BarcodeQuality = int8(r.Intn(100))
		}
		rows = append(rows, row)
	}
	for i := 0; i < nUnmapped; i++ {
		rows = append(rows, unmappedRow(int32(r.Intn(30))))
	}
	return rows
}
