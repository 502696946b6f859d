package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pacbio/encoding/bamprovider"
	"github.com/grailbio/pacbio/encoding/pbi"
)

type viewOpts struct {
	filter     string
	region     string
	order      string
	index      string
	autoBuild  bool
	withHeader bool
	byZmw      bool
}

// viewFilter combines the -filter and -region flags. With neither it
// accepts every record.
func viewFilter(opts viewOpts) (pbi.Filter, error) {
	var filters pbi.Intersection
	if opts.filter != "" {
		f, err := pbi.ParseFilter(opts.filter)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if opts.region != "" {
		refName, start, end, err := bamprovider.ParseRegion(opts.region)
		if err != nil {
			return nil, err
		}
		f, err := bamprovider.GenomicIntervalFilter(refName, start, end)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return filters, nil
}

func readHeader(ctx context.Context, path string) (header *sam.Header, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, err
	}
	header = r.Header()
	return header, r.Close()
}

func writeRecord(w *bufio.Writer, r *sam.Record) error {
	text, err := r.MarshalText()
	if err != nil {
		return err
	}
	w.Write(text) // nolint: errcheck
	return w.WriteByte('\n')
}

func view(out io.Writer, paths []string, opts viewOpts) (err error) {
	ctx := vcontext.Background()
	order, err := bamprovider.ParseOrder(opts.order)
	if err != nil {
		return err
	}
	filter, err := viewFilter(opts)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}()
	if opts.withHeader {
		header, err := readHeader(ctx, paths[0])
		if err != nil {
			return err
		}
		text, err := header.MarshalText()
		if err != nil {
			return err
		}
		w.Write(text) // nolint: errcheck
	}
	iter := bamprovider.NewFilterQuery(ctx, paths, filter, bamprovider.ReaderOpts{
		Index:     opts.index,
		AutoBuild: opts.autoBuild,
		Order:     order,
	})
	if !opts.byZmw {
		for iter.Scan() {
			if err := writeRecord(w, iter.Record()); err != nil {
				iter.Close() // nolint: errcheck
				return err
			}
		}
		return iter.Close()
	}
	q := bamprovider.NewZmwGroupQuery(iter)
	for q.Scan() {
		key, group := q.Key(), q.Group()
		fmt.Fprintf(w, "# %s/%d\t%d\n", key.Movie, key.HoleNumber, len(group))
		for _, r := range group {
			if err := writeRecord(w, r); err != nil {
				q.Close() // nolint: errcheck
				return err
			}
		}
	}
	return q.Close()
}
