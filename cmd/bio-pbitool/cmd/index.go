package cmd

import (
	"context"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pacbio/encoding/pbi"
)

type indexOpts struct {
	// parallelism is the max number of files indexed at once.
	parallelism int
	// force causes up-to-date indexes to be rebuilt.
	force   bool
	builder pbi.BuilderOpts
}

func indexFile(ctx context.Context, path string, opts indexOpts) error {
	pbiPath := pbi.PathFor(path)
	if !opts.force {
		stale, err := pbi.IndexIsStale(ctx, path, pbiPath)
		if err != nil {
			return err
		}
		if !stale {
			log.Printf("%s: up to date", pbiPath)
			return nil
		}
	}
	start := time.Now()
	if err := pbi.BuildFromBAM(ctx, path, pbiPath, opts.builder); err != nil {
		return err
	}
	log.Printf("%s: built in %v", pbiPath, time.Since(start))
	return nil
}

// index builds the index of every path. Job i handles paths i,
// i+parallelism, i+2*parallelism, and so on.
func index(paths []string, opts indexOpts) error {
	ctx := vcontext.Background()
	parallelism := opts.parallelism
	if parallelism <= 0 || parallelism > len(paths) {
		parallelism = len(paths)
	}
	return traverse.Each(parallelism, func(job int) error {
		for i := job; i < len(paths); i += parallelism {
			if err := indexFile(ctx, paths[i], opts); err != nil {
				return err
			}
		}
		return nil
	})
}
