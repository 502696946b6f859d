package cmd

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pacbio/encoding/pbi"
)

// columnChecksum is the digest of one index column.
type columnChecksum struct {
	Name    string
	Seahash string
}

// indexChecksum is the checksum of a .pbi file. Two indexes of the same
// records have the same checksum however they were built.
type indexChecksum struct {
	Version    string
	Sections   string
	NumReads   uint32
	Columns    []columnChecksum
	References string `json:",omitempty"`
}

func checksumIndex(idx *pbi.RawIndex) indexChecksum {
	csum := indexChecksum{
		Version:  idx.Version.String(),
		Sections: idx.Sections.String(),
		NumReads: idx.NumReads,
	}
	for _, c := range idx.Columns() {
		csum.Columns = append(csum.Columns, columnChecksum{
			Name:    c.Name,
			Seahash: fmt.Sprintf("%016x", seahash.Sum64(c.Bytes())),
		})
	}
	if idx.Has(pbi.SectionReference) {
		h := seahash.New()
		if err := binary.Write(h, binary.LittleEndian, idx.Reference.Entries); err != nil {
			log.Panic(err)
		}
		csum.References = fmt.Sprintf("%016x", h.Sum64())
	}
	return csum
}

func checksum(out io.Writer, path string) error {
	idx, err := pbi.Load(vcontext.Background(), path)
	if err != nil {
		return err
	}
	js, err := json.MarshalIndent(checksumIndex(idx), "", "  ")
	if err != nil {
		log.Panic(err)
	}
	_, err = fmt.Fprintln(out, string(js))
	return err
}
