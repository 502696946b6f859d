// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	gbgzf "github.com/grailbio/pacbio/encoding/bgzf"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	idx := buildIndex(t, BuilderOpts{NumReferences: 10}, randomRows(rand.New(rand.NewSource(0)), 1000)...)
	assert.EQ(t, idx.Sections, SectionMapped|SectionReference|SectionBarcode)

	path := filepath.Join(tmpDir, "test.bam.pbi")
	assert.NoError(t, Save(ctx, idx, path))
	got, err := Load(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, got.Path, path)
	got.Path = ""
	expect.EQ(t, got, idx)
}

func TestSaveLoadBasicOnly(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1), unmappedRow(2))
	assert.EQ(t, idx.Sections, SectionBasic)
	path := filepath.Join(tmpDir, "basic.pbi")
	assert.NoError(t, Save(ctx, idx, path))
	got, err := Load(ctx, path)
	assert.NoError(t, err)
	got.Path = ""
	expect.EQ(t, got, idx)
	expect.EQ(t, len(got.Mapped.RefID), 0)
}

func TestBigEndianCodec(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{NumReferences: 3}, randomRows(rand.New(rand.NewSource(1)), 300)...)
	bigEndian := codec{bigEndian: true}

	var native, swapped bytes.Buffer
	require.NoError(t, nativeCodec.write(&native, idx))
	require.NoError(t, bigEndian.write(&swapped, idx))
	// The file format is little-endian whichever path produced it.
	require.Equal(t, native.Bytes(), swapped.Bytes())

	fromNative, err := bigEndian.read(bytes.NewReader(native.Bytes()))
	require.NoError(t, err)
	require.Equal(t, idx, fromNative)
	fromSwapped, err := nativeCodec.read(bytes.NewReader(swapped.Bytes()))
	require.NoError(t, err)
	require.Equal(t, idx, fromSwapped)
}

func TestHeaderLayout(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, mappedRow(1, 0, 10))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, idx))
	b := buf.Bytes()
	expect.EQ(t, b[:4], []byte("PBI\x01"))
	expect.EQ(t, b[4:8], []byte{0x01, 0x00, 0x03, 0x00})
	expect.EQ(t, b[8:10], []byte{0x03, 0x00}) // mapped|reference
	expect.EQ(t, b[10:14], []byte{0x01, 0x00, 0x00, 0x00})
	expect.EQ(t, b[14:32], make([]byte, 18))
	// Basic: 4*4 + 4 + 1 + 8 bytes; mapped: 4*7 + 1 + 1 bytes;
	// reference: 4 + 12 bytes.
	expect.EQ(t, len(b), 32+29+30+16)
}

func TestReadErrors(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, mappedRow(1, 0, 10), mappedRow(2, 0, 20))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, idx))
	good := buf.Bytes()
	require.True(t, idx.Has(SectionReference))
	require.False(t, idx.Has(SectionBarcode))
	refsAt := len(good) - len(encodeReferences(&idx.Reference))

	mutate := func(fn func(b []byte) []byte) []byte {
		return fn(append([]byte(nil), good...))
	}
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), "bad magic"},
		{"version", mutate(func(b []byte) []byte { b[6] = 4; return b }), "unsupported version"},
		{"flags", mutate(func(b []byte) []byte { b[8] = 0x10; return b }), "unknown section flags"},
		{"header", good[:20], "truncated header"},
		{"basic", good[:40], "truncated basic"},
		{"mapped", good[:len(good)-20], "truncated mapped"},
		// A header claiming far more rows than follow must fail cleanly.
		{"huge-reads", func() []byte {
			b := append([]byte(nil), good[:headerSize]...)
			binary.LittleEndian.PutUint32(b[10:], 0x7fffffff)
			return b
		}(), "truncated basic"},
		{"huge-refs", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[refsAt:], 0xffffffff)
			return b
		}), "truncated reference"},
	}
	for _, test := range tests {
		_, err := Read(bytes.NewReader(test.data))
		require.Error(t, err, test.name)
		expect.HasSubstr(t, err.Error(), test.want, test.name)
		expect.True(t, errors.Is(errors.Invalid, err), test.name)
	}

	// Version 3.0.0 is still accepted.
	old := mutate(func(b []byte) []byte { b[4] = 0; return b })
	got, err := Read(bytes.NewReader(old))
	require.NoError(t, err)
	expect.EQ(t, got.Version, Version3_0_0)
}

func TestLoadChecks(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1))
	err := Save(ctx, idx, filepath.Join(tmpDir, "x.bai"))
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), ".pbi")

	_, err = Load(ctx, filepath.Join(tmpDir, "x.bam"))
	require.Error(t, err)

	// A plain (not bgzf) file is rejected.
	plain := filepath.Join(tmpDir, "plain.pbi")
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, idx))
	require.NoError(t, ioutil.WriteFile(plain, buf.Bytes(), 0644))
	_, err = Load(ctx, plain)
	require.Error(t, err)
}

func TestFailedSaveKeepsExistingIndex(t *testing.T) {
	ctx := vcontext.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "x.pbi")

	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1), unmappedRow(2))
	require.NoError(t, Save(ctx, idx, path))

	failing := func(w *gbgzf.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.E(errors.Invalid, "out of rows")
	}
	err := writeFile(ctx, path, failing)
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), "out of rows")

	got, err := Load(ctx, path)
	require.NoError(t, err)
	expect.EQ(t, got.NumReads, idx.NumReads)
	entries, err := ioutil.ReadDir(tmpDir)
	require.NoError(t, err)
	expect.EQ(t, len(entries), 1)

	// A failed first write leaves nothing behind.
	fresh := filepath.Join(tmpDir, "y.pbi")
	require.Error(t, writeFile(ctx, fresh, failing))
	_, err = Load(ctx, fresh)
	expect.True(t, errors.Is(errors.NotExist, err))
	entries, err = ioutil.ReadDir(tmpDir)
	require.NoError(t, err)
	expect.EQ(t, len(entries), 1)
}

func TestColumns(t *testing.T) {
	idx := buildIndex(t, BuilderOpts{}, unmappedRow(1), unmappedRow(2))
	cols := idx.Columns()
	assert.EQ(t, len(cols), 7)
	expect.EQ(t, cols[3].Name, "holeNumber")
	expect.EQ(t, cols[3].Bytes(), []byte{1, 0, 0, 0, 2, 0, 0, 0})

	idx = buildIndex(t, BuilderOpts{NumReferences: 10}, randomRows(rand.New(rand.NewSource(1)), 100)...)
	cols = idx.Columns()
	assert.EQ(t, len(cols), 19)
	expect.EQ(t, cols[7].Name, "tId")
	expect.EQ(t, cols[18].Name, "bcQual")
	var buf bytes.Buffer
	assert.NoError(t, Write(&buf, idx))
	// The columns appear verbatim in the file.
	for _, c := range cols {
		expect.True(t, bytes.Contains(buf.Bytes(), c.Bytes()), c.Name)
	}
}
