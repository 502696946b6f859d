// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pbi

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Compare is the comparison a leaf filter applies between a column value and
// its operand.
type Compare int

const (
	Equal Compare = iota
	NotEqual
	LessThan
	LessThanEqual
	GreaterThan
	GreaterThanEqual
	// Contains and NotContains test bitmask columns: the value contains the
	// operand if value&operand != 0.
	Contains
	NotContains
)

var compareNames = [...]string{
	Equal:            "==",
	NotEqual:         "!=",
	LessThan:         "<",
	LessThanEqual:    "<=",
	GreaterThan:      ">",
	GreaterThanEqual: ">=",
	Contains:         "&",
	NotContains:      "~",
}

// String returns the symbolic form of c, e.g. "<=".
func (c Compare) String() string {
	if c < 0 || int(c) >= len(compareNames) {
		return fmt.Sprintf("Compare(%d)", int(c))
	}
	return compareNames[c]
}

var compareAliases = map[string]Compare{
	"==": Equal, "=": Equal, "eq": Equal,
	"!=": NotEqual, "ne": NotEqual,
	"<": LessThan, "lt": LessThan, "&lt;": LessThan,
	"<=": LessThanEqual, "lte": LessThanEqual, "&lt;=": LessThanEqual,
	">": GreaterThan, "gt": GreaterThan, "&gt;": GreaterThan,
	">=": GreaterThanEqual, "gte": GreaterThanEqual, "&gt;=": GreaterThanEqual,
	"&": Contains, "and": Contains, "contains": Contains, "&amp;": Contains,
	"~": NotContains, "not": NotContains, "not_contains": NotContains,
}

// ParseCompare parses an operator in symbolic ("<="), word ("lte") or
// XML-escaped ("&lt;=") form.
func ParseCompare(op string) (Compare, error) {
	if c, ok := compareAliases[strings.ToLower(strings.TrimSpace(op))]; ok {
		return c, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("pbi: unknown comparison operator %q", op))
}

// Scalar is the set of column element types.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~int32 | ~uint32 | ~int64 | ~float32
}

// Check reports whether "value c operand" holds.
func Check[T Scalar](c Compare, value, operand T) bool {
	switch c {
	case Equal:
		return value == operand
	case NotEqual:
		return value != operand
	case LessThan:
		return value < operand
	case LessThanEqual:
		return value <= operand
	case GreaterThan:
		return value > operand
	case GreaterThanEqual:
		return value >= operand
	case Contains:
		return uint64(value)&uint64(operand) != 0
	case NotContains:
		return uint64(value)&uint64(operand) == 0
	}
	return false
}
