// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// GetTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved. Any (group of) characters <= ' ' is
// treated as a delimiter.
func GetTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// IsBEDHeader reports whether a BED line carries no interval: a comment, or
// a "track" or "browser" directive.
func IsBEDHeader(line []byte) bool {
	return len(line) > 0 && line[0] == '#' ||
		bytes.HasPrefix(line, []byte("track")) ||
		bytes.HasPrefix(line, []byte("browser"))
}

// ReadBED reads the first three columns of each line of a BED stream and
// converts the 0-based half-open intervals into Locs. Empty intervals are
// dropped. The input need not be sorted.
func ReadBED(r io.Reader, dict *Dictionary) ([]Loc, error) {
	scanner := bufio.NewScanner(r)
	var (
		tokens  [3][]byte
		locs    []Loc
		lineIdx int
		lastChr string
		lastIdx int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if IsBEDHeader(curLine) {
			continue
		}
		nToken := GetTokens(tokens[:], curLine)
		if nToken != 3 {
			if nToken == 0 {
				continue
			}
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d has fewer tokens than expected", lineIdx))
		}
		if gunsafe.BytesToString(tokens[0]) != lastChr {
			lastChr = string(tokens[0])
			var ok bool
			if lastIdx, ok = dict.Index(lastChr); !ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d: contig %s not in sequence dictionary", lineIdx, lastChr))
			}
		}
		start0, err := strconv.ParseInt(gunsafe.BytesToString(tokens[1]), 10, 64)
		if err != nil || start0 < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: invalid start coordinate %q on line %d", tokens[1], lineIdx))
		}
		end, err := strconv.ParseInt(gunsafe.BytesToString(tokens[2]), 10, 64)
		if err != nil || end < start0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: invalid coordinate pair on line %d", lineIdx))
		}
		if end == start0 {
			continue
		}
		loc, err := dict.NewLocByIndex(lastIdx, start0+1, end)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("interval.ReadBED: line %d", lineIdx))
		}
		locs = append(locs, loc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.Invalid, err, "interval.ReadBED")
	}
	return locs, nil
}

// OpenMaybeGzip opens path for reading, transparently decompressing it when
// the name ends in .gz. The returned closer must be called when done.
func OpenMaybeGzip(ctx context.Context, path string) (r io.Reader, closer func() error, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, nil, err
	}
	closer = func() error { return infile.Close(ctx) }
	r = infile.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(r); err != nil {
			infile.Close(ctx) // nolint: errcheck
			return nil, nil, errors.E(errors.Invalid, err, path)
		}
		r = gz
	}
	return r, closer, nil
}

// NewSetFromBED loads a BED file (optionally gzipped) into a Set.
func NewSetFromBED(ctx context.Context, path string, dict *Dictionary, policy MergePolicy) (s *Set, err error) {
	r, closer, err := OpenMaybeGzip(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	locs, err := ReadBED(r, dict)
	if err != nil {
		return nil, errors.E(err, path)
	}
	s = NewSet(locs, policy)
	log.Printf("BED %s loaded, %d interval(s), %d base(s) covered", path, s.Len(), s.Size())
	return s, nil
}
