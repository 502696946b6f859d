// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	gbam "github.com/grailbio/pacbio/encoding/bam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// testRecords returns n coordinate-sorted subread records over header's
// references, followed by a few unmapped ones. Sequences are long enough
// that the BAM spans several BGZF blocks.
func testRecords(t testing.TB, header *sam.Header, n int) []*sam.Record {
	refs := header.Refs()
	seq := []byte(strings.Repeat("ACGT", 250))
	var recs []*sam.Record
	for i := 0; i < n; i++ {
		movie := "movieA"
		if i%3 == 0 {
			movie = "movieB"
		}
		ref := refs[i*len(refs)/n]
		cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarEqual, 990), sam.NewCigarOp(sam.CigarMismatch, 10)}
		aux := []sam.Aux{
			newTestAux(t, "RG", gbam.MakeReadGroupID(movie, "SUBREAD")),
			newTestAux(t, "zm", int32(i/2)),
			newTestAux(t, "qs", int32(0)),
			newTestAux(t, "qe", int32(len(seq))),
			newTestAux(t, "rq", float32(0.99)),
			newTestAux(t, "cx", uint8(gbam.AdapterBefore)),
		}
		name := fmt.Sprintf("%s/%d/0_%d", movie, i/2, len(seq))
		rec, err := sam.NewRecord(name, ref, nil, 10*i, -1, 0, 60, cigar, seq, nil, aux)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	for i := 0; i < 3; i++ {
		aux := []sam.Aux{
			newTestAux(t, "RG", gbam.MakeReadGroupID("movieA", "SUBREAD")),
			newTestAux(t, "zm", int32(1000+i)),
		}
		rec, err := sam.NewRecord(fmt.Sprintf("movieA/%d/0_1000", 1000+i), nil, nil, -1, -1, 0, 0, nil, seq, nil, aux)
		require.NoError(t, err)
		rec.Flags = sam.Unmapped
		recs = append(recs, rec)
	}
	return recs
}

func newTestAux(t testing.TB, tag string, v interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(tag), v)
	require.NoError(t, err)
	return aux
}

func writeTestBAM(t testing.TB, path string, header *sam.Header, recs []*sam.Record) {
	ctx := vcontext.Background()
	w, err := NewWriter(ctx, path, header, WriterOpts{})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func TestWriterOffsets(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header := testHeader(t)
	recs := testRecords(t, header, 300)
	bamPath := filepath.Join(tmpDir, "test.bam")
	writeTestBAM(t, bamPath, header, recs)

	idx, err := Load(ctx, PathFor(bamPath))
	require.NoError(t, err)
	assert.EQ(t, int(idx.NumReads), len(recs))
	assert.EQ(t, idx.Sections, SectionMapped|SectionReference)
	expect.EQ(t, idx.Reference.Entries, []ReferenceEntry{
		{0, 0, 100}, {1, 100, 200}, {2, 200, 300}, {UnmappedID, 300, 303},
	})

	in, err := os.Open(bamPath)
	require.NoError(t, err)
	defer in.Close() // nolint: errcheck
	r, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	defer r.Close() // nolint: errcheck

	// The first record directly follows the header and the last one is
	// likely in a later block: check them all, out of order.
	for i := len(recs) - 1; i >= 0; i -= 7 {
		require.NoError(t, r.Seek(gbam.OffsetFromVirtual(idx.Basic.FileOffset[i])))
		rec, err := r.Read()
		require.NoError(t, err)
		expect.EQ(t, rec.Name, recs[i].Name, "row %d", i)
		expect.EQ(t, rec.Pos, recs[i].Pos, "row %d", i)
	}
	require.NoError(t, r.Seek(gbam.OffsetFromVirtual(idx.Basic.FileOffset[0])))
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	expect.EQ(t, n, len(recs))

	expect.EQ(t, idx.Mapped.NumMatches[0], uint32(990))
	expect.EQ(t, idx.Mapped.NumMismatches[0], uint32(10))
	expect.EQ(t, idx.Basic.ContextFlag[0], uint8(gbam.AdapterBefore))
	expect.EQ(t, idx.Basic.ReadGroupID[0], rgID(t, "movieB"))
	expect.EQ(t, idx.Basic.ReadGroupID[1], rgID(t, "movieA"))
	expect.True(t, idx.Mapped.IsMapped(299))
	expect.False(t, idx.Mapped.IsMapped(300))
}

func TestBuildFromBAM(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header := testHeader(t)
	bamPath := filepath.Join(tmpDir, "test.bam")
	writeTestBAM(t, bamPath, header, testRecords(t, header, 100))

	want, err := Load(ctx, PathFor(bamPath))
	require.NoError(t, err)
	rebuilt := filepath.Join(tmpDir, "rebuilt.pbi")
	require.NoError(t, BuildFromBAM(ctx, bamPath, rebuilt, BuilderOpts{SpillRows: 16, TmpDir: tmpDir}))
	got, err := Load(ctx, rebuilt)
	require.NoError(t, err)
	got.Path = want.Path
	expect.EQ(t, got, want)

	err = BuildFromBAM(ctx, bamPath, filepath.Join(tmpDir, "rebuilt.idx"), BuilderOpts{})
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(tmpDir, "rebuilt.idx"))
	expect.True(t, os.IsNotExist(err))
}

func TestWriterRemovesFilesOnError(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header := testHeader(t)
	bamPath := filepath.Join(tmpDir, "bad.bam")

	w, err := NewWriter(ctx, bamPath, header, WriterOpts{})
	require.NoError(t, err)
	rec, err := sam.NewRecord("noname", nil, nil, -1, -1, 0, 0, nil, []byte("ACGT"), nil, nil)
	require.NoError(t, err)
	rec.Flags = sam.Unmapped
	require.Error(t, w.Write(rec))
	require.Error(t, w.Write(rec))
	require.Error(t, w.Close())

	for _, path := range []string{bamPath, PathFor(bamPath)} {
		_, err := os.Stat(path)
		expect.True(t, os.IsNotExist(err), path)
	}
	// No temporary file survives either.
	entries, err := ioutil.ReadDir(tmpDir)
	require.NoError(t, err)
	expect.EQ(t, len(entries), 0)
}

func TestIndexIsStale(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header := testHeader(t)
	bamPath := filepath.Join(tmpDir, "test.bam")
	writeTestBAM(t, bamPath, header, testRecords(t, header, 10))
	pbiPath := PathFor(bamPath)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(bamPath, past, past))
	stale, err := IndexIsStale(ctx, bamPath, pbiPath)
	require.NoError(t, err)
	expect.False(t, stale)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(bamPath, future, future))
	stale, err = IndexIsStale(ctx, bamPath, pbiPath)
	require.NoError(t, err)
	expect.True(t, stale)

	require.NoError(t, file.Remove(ctx, pbiPath))
	stale, err = IndexIsStale(ctx, bamPath, pbiPath)
	require.NoError(t, err)
	expect.True(t, stale)

	_, err = IndexIsStale(ctx, filepath.Join(tmpDir, "missing.bam"), pbiPath)
	require.Error(t, err)
}
