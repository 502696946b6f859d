package bam

import (
	"strings"

	"github.com/grailbio/hts/sam"
)

// Tags used by PacBio BAM files.
var (
	TagHoleNumber     = sam.NewTag("zm")
	TagQueryStart     = sam.NewTag("qs")
	TagQueryEnd       = sam.NewTag("qe")
	TagReadAccuracy   = sam.NewTag("rq")
	TagLocalContext   = sam.NewTag("cx")
	TagBarcodes       = sam.NewTag("bc")
	TagBarcodeQuality = sam.NewTag("bq")
	TagReadGroup      = sam.NewTag("RG")
)

// LocalContextFlags describe the adapter/barcode context of a subread.
type LocalContextFlags uint8

const (
	NoLocalContext LocalContextFlags = 0
	AdapterBefore  LocalContextFlags = 1
	AdapterAfter   LocalContextFlags = 2
	BarcodeBefore  LocalContextFlags = 4
	BarcodeAfter   LocalContextFlags = 8
	ForwardPass    LocalContextFlags = 16
	ReversePass    LocalContextFlags = 32
)

var localContextNames = []struct {
	name string
	flag LocalContextFlags
}{
	{"NO_LOCAL_CONTEXT", NoLocalContext},
	{"ADAPTER_BEFORE", AdapterBefore},
	{"ADAPTER_AFTER", AdapterAfter},
	{"BARCODE_BEFORE", BarcodeBefore},
	{"BARCODE_AFTER", BarcodeAfter},
	{"FORWARD_PASS", ForwardPass},
	{"REVERSE_PASS", ReversePass},
}

// ParseLocalContextFlag returns the flag with the given name, e.g.
// "ADAPTER_BEFORE".
func ParseLocalContextFlag(name string) (LocalContextFlags, bool) {
	name = strings.TrimSpace(name)
	for _, e := range localContextNames {
		if e.name == name {
			return e.flag, true
		}
	}
	return 0, false
}

// auxInt converts an integer-typed aux value to int64.
func auxInt(aux sam.Aux) (int64, bool) {
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// auxInts converts an integer-array aux value to []int64.
func auxInts(aux sam.Aux) ([]int64, bool) {
	if aux == nil {
		return nil, false
	}
	var out []int64
	switch v := aux.Value().(type) {
	case []int8:
		for _, x := range v {
			out = append(out, int64(x))
		}
	case []uint8:
		for _, x := range v {
			out = append(out, int64(x))
		}
	case []int16:
		for _, x := range v {
			out = append(out, int64(x))
		}
	case []uint16:
		for _, x := range v {
			out = append(out, int64(x))
		}
	case []int32:
		for _, x := range v {
			out = append(out, int64(x))
		}
	case []uint32:
		for _, x := range v {
			out = append(out, int64(x))
		}
	default:
		return nil, false
	}
	return out, true
}

// HoleNumber returns the value of the "zm" tag. If the tag is absent, it
// parses the second component of a PacBio query name ("movie/zmw/...").
// Returns -1 if neither is available.
func HoleNumber(r *sam.Record) int32 {
	if v, ok := auxInt(r.AuxFields.Get(TagHoleNumber)); ok {
		return int32(v)
	}
	if _, zmw, ok := splitQueryName(r.Name); ok {
		return zmw
	}
	return -1
}

// QueryStart returns the "qs" tag, or 0 if absent.
func QueryStart(r *sam.Record) int32 {
	if v, ok := auxInt(r.AuxFields.Get(TagQueryStart)); ok {
		return int32(v)
	}
	return 0
}

// QueryEnd returns the "qe" tag. If absent, it returns QueryStart + the
// sequence length.
func QueryEnd(r *sam.Record) int32 {
	if v, ok := auxInt(r.AuxFields.Get(TagQueryEnd)); ok {
		return int32(v)
	}
	return QueryStart(r) + int32(r.Seq.Length)
}

// ReadAccuracy returns the "rq" tag, or 0 if absent.
func ReadAccuracy(r *sam.Record) float32 {
	aux := r.AuxFields.Get(TagReadAccuracy)
	if aux == nil {
		return 0
	}
	switch v := aux.Value().(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	if v, ok := auxInt(aux); ok {
		return float32(v)
	}
	return 0
}

// LocalContext returns the "cx" tag, or NoLocalContext if absent.
func LocalContext(r *sam.Record) LocalContextFlags {
	if v, ok := auxInt(r.AuxFields.Get(TagLocalContext)); ok {
		return LocalContextFlags(v)
	}
	return NoLocalContext
}

// Barcodes returns the forward and reverse barcode ids and the barcode
// quality. ok is true only if all three values are present and non-negative;
// otherwise all three values are -1.
func Barcodes(r *sam.Record) (forward, reverse int16, quality int8, ok bool) {
	ids, found := auxInts(r.AuxFields.Get(TagBarcodes))
	if !found || len(ids) != 2 {
		return -1, -1, -1, false
	}
	q, found := auxInt(r.AuxFields.Get(TagBarcodeQuality))
	if !found {
		return -1, -1, -1, false
	}
	if ids[0] < 0 || ids[1] < 0 || q < 0 {
		return -1, -1, -1, false
	}
	return int16(ids[0]), int16(ids[1]), int8(q), true
}

// IsMapped returns true if the record is aligned to a reference.
func IsMapped(r *sam.Record) bool {
	return r.Flags&sam.Unmapped == 0 && r.Ref != nil
}

// IsReverse returns true if the record is aligned to the reverse strand.
func IsReverse(r *sam.Record) bool {
	return r.Flags&sam.Reverse != 0
}

// MatchesAndMismatches counts the '=' and 'X' bases in the CIGAR. 'M'
// operations cannot distinguish the two and are counted as matches.
func MatchesAndMismatches(r *sam.Record) (matches, mismatches uint32) {
	for _, op := range r.Cigar {
		switch op.Type() {
		case sam.CigarEqual, sam.CigarMatch:
			matches += uint32(op.Len())
		case sam.CigarMismatch:
			mismatches += uint32(op.Len())
		}
	}
	return
}

// clipLengths returns the number of clipped query bases at the left and
// right ends of the CIGAR, in alignment (reference) orientation.
func clipLengths(cigar sam.Cigar) (left, right int32) {
	for _, op := range cigar {
		t := op.Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		left += int32(op.Len())
	}
	for i := len(cigar) - 1; i >= 0; i-- {
		t := cigar[i].Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		right += int32(cigar[i].Len())
	}
	return
}

// AlignedQuerySpan returns the [start, end) range of the query (in native
// query coordinates) covered by the alignment. For unmapped records it
// returns (-1, -1).
func AlignedQuerySpan(r *sam.Record) (start, end int32) {
	if !IsMapped(r) {
		return -1, -1
	}
	left, right := clipLengths(r.Cigar)
	if IsReverse(r) {
		left, right = right, left
	}
	return QueryStart(r) + left, QueryEnd(r) - right
}

// ReferenceSpan returns the [start, end) reference interval of a mapped
// record.
func ReferenceSpan(r *sam.Record) (start, end int32) {
	return int32(r.Pos), int32(r.End())
}

// MovieName returns the movie name embedded in a PacBio query name.
func MovieName(r *sam.Record) string {
	movie, _, _ := splitQueryName(r.Name)
	return movie
}

// ReadType guesses the PacBio read type from the query name: "CCS" for
// "movie/zmw/ccs" names, "SUBREAD" otherwise.
func ReadType(r *sam.Record) string {
	if strings.HasSuffix(r.Name, "/ccs") {
		return "CCS"
	}
	return "SUBREAD"
}
