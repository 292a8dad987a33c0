// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// ParseRegionString parses a region string of one of the forms
//   [contig]:[1-based first pos]-[last pos]
//   [contig]:[1-based first pos]+
//   [contig]:[1-based pos]
//   [contig]
// Positions may contain thousands separators, as in "chr1:1,000-2,000".
// The contig must be in dict. The "+" form and the bare contig form extend
// to the end of the contig.
func ParseRegionString(dict *Dictionary, region string) (Loc, error) {
	if len(region) == 0 {
		return Loc{}, errors.E(errors.Invalid, "interval.ParseRegionString: empty region string")
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		i, ok := dict.Index(region)
		if !ok {
			return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: contig %s not found", region))
		}
		return dict.Whole(i), nil
	}
	if colonPos == 0 {
		return Loc{}, errors.E(errors.Invalid, "interval.ParseRegionString: empty contig ID")
	}
	contig := region[:colonPos]
	i, ok := dict.Index(contig)
	if !ok {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: contig %s not found", contig))
	}
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	parse := func(s string) (int64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			return 0, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position %q in %s out of range", s, region))
		}
		return v, nil
	}
	var start, stop int64
	var err error
	switch dashPos := strings.IndexByte(rangeStr, '-'); {
	case strings.HasSuffix(rangeStr, "+"):
		if start, err = parse(rangeStr[:len(rangeStr)-1]); err != nil {
			return Loc{}, err
		}
		stop = dict.Contig(i).Length
	case dashPos == -1:
		if start, err = parse(rangeStr); err != nil {
			return Loc{}, err
		}
		stop = start
	default:
		if start, err = parse(rangeStr[:dashPos]); err != nil {
			return Loc{}, err
		}
		if stop, err = parse(rangeStr[dashPos+1:]); err != nil {
			return Loc{}, err
		}
	}
	return dict.NewLocByIndex(i, start, stop)
}

// ParseRegions parses each string with ParseRegionString and builds a Set.
func ParseRegions(dict *Dictionary, regions []string, policy MergePolicy) (*Set, error) {
	locs := make([]Loc, 0, len(regions))
	for _, r := range regions {
		l, err := ParseRegionString(dict, r)
		if err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return NewSet(locs, policy), nil
}
