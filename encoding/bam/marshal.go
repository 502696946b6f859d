package bam

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// recordFixedSize is the size of the fixed-length part of a BAM record,
// including the leading block_size field.
const recordFixedSize = 36

// AppendRecord appends the BAM encoding of r, starting with its block_size
// field, to dst.
func AppendRecord(dst []byte, r *sam.Record) ([]byte, error) {
	if len(r.Name) == 0 || len(r.Name) > 254 {
		return dst, errors.E(errors.Invalid, fmt.Sprintf("bam: record name %q is empty or longer than 254 bytes", r.Name))
	}
	if r.Qual != nil && len(r.Qual) != r.Seq.Length {
		return dst, errors.E(errors.Invalid, fmt.Sprintf("bam: record %s: %d quality values for %d bases", r.Name, len(r.Qual), r.Seq.Length))
	}
	le := binary.LittleEndian
	start := len(dst)
	for i := 0; i < recordFixedSize; i++ {
		dst = append(dst, 0)
	}
	fixed := dst[start:]
	le.PutUint32(fixed[4:], uint32(int32(r.Ref.ID())))
	le.PutUint32(fixed[8:], uint32(int32(r.Pos)))
	fixed[12] = byte(len(r.Name) + 1)
	fixed[13] = r.MapQ
	le.PutUint16(fixed[14:], uint16(r.Bin()))
	le.PutUint16(fixed[16:], uint16(len(r.Cigar)))
	le.PutUint16(fixed[18:], uint16(r.Flags))
	le.PutUint32(fixed[20:], uint32(r.Seq.Length))
	le.PutUint32(fixed[24:], uint32(int32(r.MateRef.ID())))
	le.PutUint32(fixed[28:], uint32(int32(r.MatePos)))
	le.PutUint32(fixed[32:], uint32(int32(r.TempLen)))

	dst = append(dst, r.Name...)
	dst = append(dst, 0)
	for _, op := range r.Cigar {
		dst = le.AppendUint32(dst, uint32(op))
	}
	dst = append(dst, UnsafeDoubletsToBytes(r.Seq.Seq)...)
	if r.Qual != nil {
		dst = append(dst, r.Qual...)
	} else {
		for i := 0; i < r.Seq.Length; i++ {
			dst = append(dst, 0xff)
		}
	}
	for _, aux := range r.AuxFields {
		dst = append(dst, aux...)
		// String values are stored without their terminator.
		if t := aux.Type(); t == 'Z' || t == 'H' {
			dst = append(dst, 0)
		}
	}
	le.PutUint32(dst[start:], uint32(len(dst)-start-4))
	return dst, nil
}

// MarshalHeader encodes header in BAM binary form: magic, SAM text and
// reference list.
func MarshalHeader(header *sam.Header) ([]byte, error) {
	var buf bytes.Buffer
	if err := header.EncodeBinary(&buf); err != nil {
		return nil, errors.E(errors.Invalid, err, "bam: encode header")
	}
	return buf.Bytes(), nil
}
