// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bgzf"
	gbgzf "github.com/grailbio/pacbio/encoding/bgzf"
)

// Extension is the required suffix of .pbi file names.
const Extension = ".pbi"

// DefaultCompressionLevel is the gzip level used for .pbi files.
const DefaultCompressionLevel = 1

// PathFor returns the conventional index path of a BAM file.
func PathFor(bamPath string) string {
	return bamPath + Extension
}

func checkExtension(path string) error {
	if filepath.Ext(path) != Extension {
		return errors.E(errors.Invalid, path, fmt.Sprintf("pbi: file name must end with %q", Extension))
	}
	return nil
}

// Load reads the .pbi file at path.
func Load(ctx context.Context, path string) (idx *RawIndex, err error) {
	if err = checkExtension(path); err != nil {
		return nil, err
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "pbi: open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := bgzf.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "pbi: not a bgzf file:", path)
	}
	if idx, err = Read(r); err != nil {
		return nil, errors.E(err, path)
	}
	idx.Path = path
	log.Debug.Printf("pbi: loaded %s: version %v, %d reads, sections %v", path, idx.Version, idx.NumReads, idx.Sections)
	return idx, nil
}

// Save writes idx to path. The file becomes visible only once it is
// complete; on error path is left as it was.
func Save(ctx context.Context, idx *RawIndex, path string) error {
	return saveWith(ctx, nativeCodec, idx, path)
}

func saveWith(ctx context.Context, c codec, idx *RawIndex, path string) error {
	return writeFile(ctx, path, func(w *gbgzf.Writer) error {
		return c.write(w, idx)
	})
}

// writeFile creates path, runs fn on a bgzf stream into it and closes the
// stream. If any step fails the output is discarded before it reaches path.
func writeFile(ctx context.Context, path string, fn func(w *gbgzf.Writer) error) error {
	if err := checkExtension(path); err != nil {
		return err
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "pbi: create", path)
	}
	w, err := gbgzf.NewWriter(out.Writer(ctx), DefaultCompressionLevel)
	if err != nil {
		out.Discard(ctx)
		return err
	}
	if err := fn(w); err != nil {
		out.Discard(ctx)
		return errors.E(err, "pbi: write", path)
	}
	if err := w.Close(); err != nil {
		out.Discard(ctx)
		return errors.E(err, "pbi: write", path)
	}
	if err := out.Close(ctx); err != nil {
		return errors.E(err, "pbi: close", path)
	}
	return nil
}

// IndexIsStale reports whether the index at pbiPath is missing or older
// than the BAM file at bamPath.
func IndexIsStale(ctx context.Context, bamPath, pbiPath string) (bool, error) {
	bamInfo, err := file.Stat(ctx, bamPath)
	if err != nil {
		return false, errors.E(err, "pbi: stat", bamPath)
	}
	pbiInfo, err := file.Stat(ctx, pbiPath)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return true, nil
		}
		return false, errors.E(err, "pbi: stat", pbiPath)
	}
	return pbiInfo.ModTime().Before(bamInfo.ModTime()), nil
}
