package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	gbam "github.com/grailbio/pacbio/encoding/bam"
	"github.com/grailbio/pacbio/encoding/pbi"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) *sam.Header {
	h, err := sam.NewHeader([]byte("@HD\tVN:1.5\tSO:coordinate\n"+
		"@SQ\tSN:chr1\tLN:10000\n"+
		"@SQ\tSN:chr2\tLN:10000\n"+
		"@RG\tID:"+gbam.MakeReadGroupID("movieA", "SUBREAD")+"\tPL:PACBIO\tDS:READTYPE=SUBREAD\tPU:movieA\n"), nil)
	require.NoError(t, err)
	return h
}

// testRecords returns 20 mapped subreads, two per ZMW, sorted by position,
// followed by two unmapped ones.
func testRecords(t *testing.T, h *sam.Header) []*sam.Record {
	newAux := func(tag string, v interface{}) sam.Aux {
		aux, err := sam.NewAux(sam.NewTag(tag), v)
		require.NoError(t, err)
		return aux
	}
	var recs []*sam.Record
	for i := 0; i < 22; i++ {
		zmw := int32(i / 2)
		aux := []sam.Aux{
			newAux("RG", gbam.MakeReadGroupID("movieA", "SUBREAD")),
			newAux("zm", zmw),
			newAux("qs", int32(100*(i%2))),
			newAux("qe", int32(100*(i%2)+50)),
			newAux("rq", float32(0.8)),
		}
		name := fmt.Sprintf("movieA/%d/%d_%d", zmw, 100*(i%2), 100*(i%2)+50)
		seq := []byte(strings.Repeat("A", 50))
		var (
			ref   *sam.Reference
			pos   = -1
			cigar []sam.CigarOp
		)
		if i < 20 {
			ref, pos = h.Refs()[i/10], 100*i
			cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarEqual, 50)}
		}
		r, err := sam.NewRecord(name, ref, nil, pos, -1, 0, 60, cigar, seq, nil, aux)
		require.NoError(t, err)
		if ref == nil {
			r.Flags = sam.Unmapped
		}
		recs = append(recs, r)
	}
	return recs
}

// writePlainBAM writes a BAM file without an index.
func writePlainBAM(t *testing.T, path string, h *sam.Header, recs []*sam.Record) {
	out, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(out, h, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
}

func viewLines(t *testing.T, paths []string, opts viewOpts) []string {
	if opts.order == "" {
		opts.order = "none"
	}
	var out bytes.Buffer
	require.NoError(t, view(&out, paths, opts))
	return strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
}

func TestIndexViewChecksum(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := testHeader(t)
	recs := testRecords(t, h)

	plain := filepath.Join(tmpDir, "plain.bam")
	writePlainBAM(t, plain, h, recs)
	require.NoError(t, index([]string{plain}, indexOpts{parallelism: 4, builder: pbi.BuilderOpts{SpillRows: 3}}))
	// Up to date: a second run is a no-op.
	require.NoError(t, index([]string{plain}, indexOpts{parallelism: 4}))

	indexed := filepath.Join(tmpDir, "indexed.bam")
	w, err := pbi.NewWriter(vcontext.Background(), indexed, h, pbi.WriterOpts{})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	lines := viewLines(t, []string{plain}, viewOpts{filter: "zm == [3,7] && qs == 100"})
	require.Equal(t, 2, len(lines))
	expect.True(t, strings.HasPrefix(lines[0], "movieA/3/100_150\t"))
	expect.True(t, strings.HasPrefix(lines[1], "movieA/7/100_150\t"))

	lines = viewLines(t, []string{plain}, viewOpts{region: "chr2:1201-1301"})
	require.Equal(t, 2, len(lines))
	expect.True(t, strings.HasPrefix(lines[0], "movieA/6/0_50\t"), lines[0])
	expect.True(t, strings.HasPrefix(lines[1], "movieA/6/100_150\t"), lines[1])

	lines = viewLines(t, []string{plain, indexed}, viewOpts{filter: "zm == 10", order: "qname", byZmw: true})
	expect.EQ(t, len(lines), 5)
	expect.EQ(t, lines[0], "# movieA/10\t4")

	lines = viewLines(t, []string{plain}, viewOpts{withHeader: true, filter: "zm == 0"})
	expect.True(t, strings.HasPrefix(lines[0], "@HD"))
	expect.EQ(t, len(lines), 4+2)

	var out bytes.Buffer
	expect.NotNil(t, view(&out, []string{plain}, viewOpts{order: "sideways"}))
	expect.NotNil(t, view(&out, []string{plain}, viewOpts{order: "none", filter: "zm =="}))

	// Rebuilding the index from the BAM file gives the same checksum as the
	// index written along with it.
	var written, rebuilt bytes.Buffer
	require.NoError(t, checksum(&written, pbi.PathFor(indexed)))
	require.NoError(t, index([]string{indexed}, indexOpts{force: true}))
	require.NoError(t, checksum(&rebuilt, pbi.PathFor(indexed)))
	assert.Equal(t, written.String(), rebuilt.String())
	assert.Contains(t, written.String(), `"holeNumber"`)
}

func TestStats(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := testHeader(t)
	path := filepath.Join(tmpDir, "a.bam")
	writePlainBAM(t, path, h, testRecords(t, h))
	require.NoError(t, index([]string{path}, indexOpts{}))

	var out bytes.Buffer
	require.NoError(t, stats(&out, pbi.PathFor(path)))
	s := out.String()
	for _, want := range []string{"reads:", "22", "zmws:", "11", "mapped:", "20 (0 reverse)", "basic|mapped|reference"} {
		assert.Contains(t, s, want)
	}
	assert.NotContains(t, s, "barcoded")

	idx, err := pbi.Load(vcontext.Background(), pbi.PathFor(path))
	require.NoError(t, err)
	cs := computeStats(idx)
	expect.EQ(t, cs.zmws, 11)
	expect.EQ(t, cs.mapped, 20)

	require.Error(t, stats(&out, filepath.Join(tmpDir, "missing.pbi")))
}
