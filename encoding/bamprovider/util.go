package bamprovider

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// ParseRegion parses a samtools-style region, "ref", "ref:start" or
// "ref:start-end", where start and end are one-based and inclusive. It
// returns the zero-based, half-open range. A missing end extends the range
// to the end of the reference.
func ParseRegion(region string) (refName string, start, end int, err error) {
	invalid := func() (string, int, int, error) {
		return "", 0, 0, errors.E(errors.Invalid, fmt.Sprintf("bamprovider: invalid region %q", region))
	}
	colon := strings.LastIndexByte(region, ':')
	if colon < 0 {
		if region == "" {
			return invalid()
		}
		return region, 0, math.MaxInt32, nil
	}
	refName, rng := region[:colon], strings.Replace(region[colon+1:], ",", "", -1)
	if refName == "" {
		return invalid()
	}
	startStr, endStr := rng, ""
	if dash := strings.IndexByte(rng, '-'); dash >= 0 {
		startStr, endStr = rng[:dash], rng[dash+1:]
	}
	if start, err = strconv.Atoi(startStr); err != nil || start < 1 {
		return invalid()
	}
	end = math.MaxInt32
	if endStr != "" {
		if end, err = strconv.Atoi(endStr); err != nil || end < start {
			return invalid()
		}
	}
	return refName, start - 1, end, nil
}
