package bam

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/hts/sam"
)

// MakeReadGroupID returns the printable read group id PacBio tools assign to
// the given movie and read type, e.g. MakeReadGroupID("m1", "SUBREAD").
func MakeReadGroupID(movieName, readType string) string {
	sum := md5.Sum([]byte(movieName + "//" + readType))
	return hex.EncodeToString(sum[:])[:8]
}

// ReadGroupIDToInt converts a printable read group id to the numeric id
// stored in the PBI. Any "/..." barcode suffix is ignored.
func ReadGroupIDToInt(id string) (int32, error) {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[:i]
	}
	v, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("readgroup id %q: %v", id, err)
	}
	return int32(uint32(v)), nil
}

// ReadGroupNumericID computes the numeric read group id of a record. It
// parses the "RG" tag if present. Otherwise it synthesizes the id from the
// movie name and read type of the query name, the same way
// MakeReadGroupID names read groups in headers.
func ReadGroupNumericID(r *sam.Record) (int32, error) {
	if aux := r.AuxFields.Get(TagReadGroup); aux != nil {
		if s, ok := aux.Value().(string); ok && s != "" {
			return ReadGroupIDToInt(s)
		}
	}
	movie := MovieName(r)
	if movie == "" {
		return 0, fmt.Errorf("record %q: no read group and no movie name", r.Name)
	}
	return ReadGroupIDToInt(MakeReadGroupID(movie, ReadType(r)))
}

var (
	tagPU = sam.NewTag("PU")
	tagDS = sam.NewTag("DS")
)

// ReadGroupMovieName returns the movie name (PU field) of a header read group.
func ReadGroupMovieName(rg *sam.ReadGroup) string {
	return rg.Get(tagPU)
}

// ReadGroupReadType returns the READTYPE value from the DS field of a header
// read group, or "" if absent.
func ReadGroupReadType(rg *sam.ReadGroup) string {
	for _, kv := range strings.Split(rg.Get(tagDS), ";") {
		if strings.HasPrefix(kv, "READTYPE=") {
			return strings.TrimPrefix(kv, "READTYPE=")
		}
	}
	return ""
}

// QueryName is a parsed PacBio query name, "movie/zmw/qs_qe" or
// "movie/zmw/ccs".
type QueryName struct {
	Movie      string
	HoleNumber int32
	// CCS is true for "movie/zmw/ccs" names; QueryStart and QueryEnd are
	// meaningful only if CCS is false.
	CCS        bool
	QueryStart int32
	QueryEnd   int32
}

func splitQueryName(name string) (movie string, zmw int32, ok bool) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) < 2 {
		return "", -1, false
	}
	v, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return "", -1, false
	}
	return parts[0], int32(v), true
}

// ParseQueryName parses a PacBio query name.
func ParseQueryName(name string) (QueryName, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return QueryName{}, fmt.Errorf("query name %q: expect movie/zmw/qs_qe or movie/zmw/ccs", name)
	}
	qn := QueryName{Movie: parts[0]}
	zmw, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return QueryName{}, fmt.Errorf("query name %q: bad hole number: %v", name, err)
	}
	qn.HoleNumber = int32(zmw)
	if parts[2] == "ccs" {
		qn.CCS = true
		return qn, nil
	}
	span := strings.Split(parts[2], "_")
	if len(span) != 2 {
		return QueryName{}, fmt.Errorf("query name %q: bad query span", name)
	}
	qs, err := strconv.ParseInt(span[0], 10, 32)
	if err != nil {
		return QueryName{}, fmt.Errorf("query name %q: bad query start: %v", name, err)
	}
	qe, err := strconv.ParseInt(span[1], 10, 32)
	if err != nil {
		return QueryName{}, fmt.Errorf("query name %q: bad query end: %v", name, err)
	}
	qn.QueryStart, qn.QueryEnd = int32(qs), int32(qe)
	return qn, nil
}
