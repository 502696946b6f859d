// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

// Declarative filters: a filter is described as OR-ed groups of AND-ed
// (name, operator, value) properties, the way PacBio dataset XML files
// describe them. ParseFilter reads the same structure from a single line of
// text.

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/pacbio/encoding/bam"
	"github.com/pkg/errors"
)

// PropertyHelp describes the filter text syntax.
const PropertyHelp = `A filter is a list of groups separated by "||". A group is a list of
properties separated by "&&". A row passes if every property of some group
accepts it. Each property is "name op value".

EXAMPLES:
   zm == 3 && rq >= 0.9
   rname == chr1 && pos < 10000 || movie == m54006_160504_020705
   zm == [1,2,3]
   cx & ADAPTER_BEFORE|ADAPTER_AFTER

OPERATORS:
   == != < <= > >= (also eq ne lt lte gt gte, &lt; &lt;= &gt; &gt;=)
   & ~ (also contains, not_contains) for bit flags

A value in brackets, [a,b,...], is a list: the property accepts a row whose
value equals any element. Lists always compare with ==.

PROPERTIES:
   ae aligned_end              aligned query end
   as aligned_start            aligned query start
   length alignedlength        aligned end - aligned start
   strand                      + or -
   bc barcode                  [fwd,rev] pair, or an id matching either end
   bcf bc_forward              forward barcode id
   bcr bc_reverse              reverse barcode id
   bcq bc_quality              barcode quality
   accuracy identity           alignment identity
   cx                          local context flags, names joined by |
   mapqv mapq                  mapping quality
   movie                       movie name
   ndel nins nm nmm            deletions, insertions, matches, mismatches
   qe qend qs qstart           query end, query start
   qlen                        query end - query start
   qname                       query name, movie/zmw/qs_qe or movie/zmw/ccs
   rq                          read accuracy
   rg                          read group id, e.g. 3f8a9b10 or 3f8a9b10/0--1
   rname                       reference name
   tid refid                   reference id
   rstart tstart pos           reference start
   rend tend                   reference end
   zm zmw                      ZMW hole number
`

// Property is one (name, operator, value) triple.
type Property struct {
	Name  string
	Op    string
	Value string
}

// PropertyGroup is a list of properties that must all accept a row.
type PropertyGroup []Property

// Properties is a list of groups, any of which may accept a row.
type Properties []PropertyGroup

type propertyHandler func(value string, cmp Compare) (Filter, error)

var propertyHandlers = map[string]propertyHandler{}

func registerProperty(h propertyHandler, names ...string) {
	for _, n := range names {
		propertyHandlers[n] = h
	}
}

func init() {
	registerProperty(uint32Property(NewAlignedEndFilter), "ae", "aligned_end")
	registerProperty(uint32Property(NewAlignedStartFilter), "as", "aligned_start")
	registerProperty(uint32Property(NewAlignedLengthFilter), "length", "alignedlength")
	registerProperty(strandProperty, "strand")
	registerProperty(barcodeProperty, "bc", "barcode")
	registerProperty(int16ListProperty(NewBarcodeForwardFilter, NewBarcodeForwardListFilter), "bcf", "bc_forward")
	registerProperty(int16ListProperty(NewBarcodeReverseFilter, NewBarcodeReverseListFilter), "bcr", "bc_reverse")
	registerProperty(func(v string, cmp Compare) (Filter, error) {
		q, err := strconv.ParseInt(v, 10, 8)
		if err != nil {
			return nil, err
		}
		return NewBarcodeQualityFilter(int8(q), cmp), nil
	}, "bcq", "bc_quality")
	registerProperty(float32Property(NewIdentityFilter), "accuracy", "identity")
	registerProperty(contextProperty, "cx")
	registerProperty(func(v string, cmp Compare) (Filter, error) {
		q, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, err
		}
		return NewMapQualityFilter(uint8(q), cmp), nil
	}, "mapqv", "mapq")
	registerProperty(stringList(NewMovieNameListFilter), "movie")
	registerProperty(uint32Property(NewNumDeletedBasesFilter), "ndel")
	registerProperty(uint32Property(NewNumInsertedBasesFilter), "nins")
	registerProperty(uint32Property(NewNumMatchesFilter), "nm")
	registerProperty(uint32Property(NewNumMismatchesFilter), "nmm")
	registerProperty(int32Property(NewQueryEndFilter), "qe", "qend")
	registerProperty(int32Property(NewQueryStartFilter), "qs", "qstart")
	registerProperty(int32Property(NewQueryLengthFilter), "qlen")
	registerProperty(stringList(NewQueryNameListFilter), "qname")
	registerProperty(float32Property(NewReadAccuracyFilter), "rq")
	registerProperty(func(v string, cmp Compare) (Filter, error) {
		if isList(v) {
			names, err := parseList(v)
			if err != nil {
				return nil, err
			}
			return NewReadGroupNameListFilter(names, cmp)
		}
		return NewReadGroupNameFilter(v, cmp)
	}, "rg")
	registerProperty(stringList(NewReferenceNameListFilter), "rname")
	registerProperty(func(v string, cmp Compare) (Filter, error) {
		if isList(v) {
			ids, err := parseInt32s(v)
			if err != nil {
				return nil, err
			}
			return NewReferenceIDListFilter(ids, cmp), nil
		}
		id, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, err
		}
		return NewReferenceIDFilter(int32(id), cmp), nil
	}, "tid", "refid")
	registerProperty(uint32Property(NewReferenceStartFilter), "rstart", "tstart", "pos")
	registerProperty(uint32Property(NewReferenceEndFilter), "rend", "tend")
	registerProperty(func(v string, cmp Compare) (Filter, error) {
		if isList(v) {
			zmws, err := parseInt32s(v)
			if err != nil {
				return nil, err
			}
			return NewZmwListFilter(zmws, cmp), nil
		}
		zmw, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, err
		}
		return NewZmwFilter(int32(zmw), cmp), nil
	}, "zm", "zmw")
}

func isList(v string) bool {
	return strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")
}

// parseList splits "[a, b]" into {"a", "b"}. A value without brackets is
// a list of one. A list with no elements is an error.
func parseList(v string) ([]string, error) {
	if !isList(v) {
		return []string{v}, nil
	}
	var out []string
	for _, s := range strings.Split(v[1:len(v)-1], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.Errorf("empty list %q", v)
	}
	return out, nil
}

// stringList adapts a list-of-names filter constructor to a property.
func stringList[F Filter](newFilter func([]string, Compare) F) propertyHandler {
	return func(v string, cmp Compare) (Filter, error) {
		names, err := parseList(v)
		if err != nil {
			return nil, err
		}
		return newFilter(names, cmp), nil
	}
}

func parseInt32s(v string) ([]int32, error) {
	vals, err := parseList(v)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(vals))
	for i, s := range vals {
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, err
		}
		out[i] = int32(v)
	}
	return out, nil
}

func int32Property[F Filter](newFilter func(int32, Compare) F) propertyHandler {
	return func(v string, cmp Compare) (Filter, error) {
		x, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, err
		}
		return newFilter(int32(x), cmp), nil
	}
}

func uint32Property[F Filter](newFilter func(uint32, Compare) F) propertyHandler {
	return func(v string, cmp Compare) (Filter, error) {
		x, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, err
		}
		return newFilter(uint32(x), cmp), nil
	}
}

func float32Property[F Filter](newFilter func(float32, Compare) F) propertyHandler {
	return func(v string, cmp Compare) (Filter, error) {
		x, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, err
		}
		return newFilter(float32(x), cmp), nil
	}
}

func int16ListProperty[F Filter](one func(int16, Compare) F, list func([]int16, Compare) Filter) propertyHandler {
	return func(v string, cmp Compare) (Filter, error) {
		vals, err := parseList(v)
		if err != nil {
			return nil, err
		}
		ids := make([]int16, len(vals))
		for i, s := range vals {
			x, err := strconv.ParseInt(s, 10, 16)
			if err != nil {
				return nil, err
			}
			ids[i] = int16(x)
		}
		if isList(v) {
			return list(ids, cmp), nil
		}
		return one(ids[0], cmp), nil
	}
}

func strandProperty(v string, cmp Compare) (Filter, error) {
	switch v {
	case "+", "0":
		return NewAlignedStrandFilter(ForwardStrand, cmp), nil
	case "-", "1":
		return NewAlignedStrandFilter(ReverseStrand, cmp), nil
	}
	return nil, errors.Errorf("strand %q: expect + or -", v)
}

func barcodeProperty(v string, cmp Compare) (Filter, error) {
	vals, err := parseList(v)
	if err != nil {
		return nil, err
	}
	ids := make([]int16, len(vals))
	for i, s := range vals {
		x, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, err
		}
		ids[i] = int16(x)
	}
	switch {
	case isList(v) && len(ids) == 2:
		return NewBarcodesFilter(ids[0], ids[1], cmp), nil
	case !isList(v) && len(ids) == 1:
		return NewBarcodeFilter(ids[0], cmp), nil
	}
	return nil, errors.Errorf("barcode %q: expect an id or a [fwd,rev] pair", v)
}

func contextProperty(v string, cmp Compare) (Filter, error) {
	if x, err := strconv.ParseUint(v, 10, 8); err == nil {
		return NewLocalContextFilter(bam.LocalContextFlags(x), cmp), nil
	}
	var flags bam.LocalContextFlags
	for _, name := range strings.Split(v, "|") {
		f, ok := bam.ParseLocalContextFlag(name)
		if !ok {
			return nil, errors.Errorf("local context flag %q unknown", name)
		}
		flags |= f
	}
	return NewLocalContextFilter(flags, cmp), nil
}

// NewPropertyFilter builds the filter for one property.
func NewPropertyFilter(p Property) (Filter, error) {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	h, ok := propertyHandlers[name]
	if !ok {
		return nil, errors.Errorf("pbi: unknown filter property %q", p.Name)
	}
	cmp, err := ParseCompare(p.Op)
	if err != nil {
		return nil, errors.Wrapf(err, "pbi: property %q", p.Name)
	}
	f, err := h(strings.TrimSpace(p.Value), cmp)
	if err != nil {
		return nil, errors.Wrapf(err, "pbi: property %q, value %q", p.Name, p.Value)
	}
	return f, nil
}

// FromProperties builds the Union of the Intersections of each group. No
// groups means no filtering.
func FromProperties(props Properties) (Filter, error) {
	if len(props) == 0 {
		return Intersection{}, nil
	}
	u := make(Union, 0, len(props))
	for _, group := range props {
		and := make(Intersection, 0, len(group))
		for _, p := range group {
			f, err := NewPropertyFilter(p)
			if err != nil {
				return nil, err
			}
			and = append(and, f)
		}
		u = append(u, and)
	}
	if len(u) == 1 {
		return u[0], nil
	}
	return u, nil
}

var propertyRE = regexp.MustCompile(
	`^\s*([A-Za-z_]+)(?:\s*(==|!=|<=|>=|&lt;=|&gt;=|&lt;|&gt;|&amp;|<|>|=|&|~)\s*|\s+(eq|ne|lte|lt|gte|gt|and|contains|not_contains|not)\s+)(.*?)\s*$`)

// ParseProperties parses the filter text syntax described in PropertyHelp.
func ParseProperties(expr string) (Properties, error) {
	var props Properties
	if strings.TrimSpace(expr) == "" {
		return props, nil
	}
	for _, groupText := range strings.Split(expr, "||") {
		var group PropertyGroup
		for _, propText := range strings.Split(groupText, "&&") {
			m := propertyRE.FindStringSubmatch(propText)
			if m == nil || m[4] == "" {
				return nil, errors.Errorf("pbi: cannot parse filter property %q, expect \"name op value\"", strings.TrimSpace(propText))
			}
			op := m[2]
			if op == "" {
				op = m[3]
			}
			group = append(group, Property{Name: m[1], Op: op, Value: m[4]})
		}
		props = append(props, group)
	}
	return props, nil
}

// ParseFilter parses the filter text syntax and builds the filter.
func ParseFilter(expr string) (Filter, error) {
	props, err := ParseProperties(expr)
	if err != nil {
		return nil, err
	}
	return FromProperties(props)
}
