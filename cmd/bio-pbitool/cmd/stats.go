package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pacbio/encoding/pbi"
)

type indexStats struct {
	zmws       int
	mapped     int
	reverse    int
	barcoded   int
	meanAccuracy float64
}

func computeStats(idx *pbi.RawIndex) indexStats {
	var s indexStats
	type zmw struct{ rg, hole int32 }
	zmws := map[zmw]bool{}
	for row := 0; row < int(idx.NumReads); row++ {
		zmws[zmw{idx.Basic.ReadGroupID[row], idx.Basic.HoleNumber[row]}] = true
		s.meanAccuracy += float64(idx.Basic.ReadQuality[row])
		if idx.Has(pbi.SectionMapped) && idx.Mapped.IsMapped(row) {
			s.mapped++
			if idx.Mapped.ReverseStrand[row] != 0 {
				s.reverse++
			}
		}
		if idx.Has(pbi.SectionBarcode) && idx.Barcode.Forward[row] >= 0 {
			s.barcoded++
		}
	}
	s.zmws = len(zmws)
	if idx.NumReads > 0 {
		s.meanAccuracy /= float64(idx.NumReads)
	}
	return s
}

func formatRow(row uint32) string {
	if row == pbi.NullRow {
		return "-"
	}
	return fmt.Sprint(row)
}

func stats(out io.Writer, path string) error {
	idx, err := pbi.Load(vcontext.Background(), path)
	if err != nil {
		return err
	}
	s := computeStats(idx)
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "version:\t%v\n", idx.Version)
	fmt.Fprintf(w, "sections:\t%v\n", idx.Sections)
	fmt.Fprintf(w, "reads:\t%d\n", idx.NumReads)
	fmt.Fprintf(w, "zmws:\t%d\n", s.zmws)
	fmt.Fprintf(w, "mean read accuracy:\t%.4f\n", s.meanAccuracy)
	if idx.Has(pbi.SectionMapped) {
		fmt.Fprintf(w, "mapped:\t%d (%d reverse)\n", s.mapped, s.reverse)
	}
	if idx.Has(pbi.SectionBarcode) {
		fmt.Fprintf(w, "barcoded:\t%d\n", s.barcoded)
	}
	if idx.Has(pbi.SectionReference) {
		fmt.Fprintf(w, "references:\n")
		for _, e := range idx.Reference.Entries {
			fmt.Fprintf(w, "  %d\t[%s,\t%s)\n", e.RefID, formatRow(e.BeginRow), formatRow(e.EndRow))
		}
	}
	return w.Flush()
}
