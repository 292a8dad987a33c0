// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/locuswalk/interval"
)

// maxBEDColumns is the column count of BED12.
const maxBEDColumns = 12

type bedTrack struct {
	name string
	path string
	dict *interval.Dictionary
}

// NewBEDTrack creates a track over a BED file, optionally gzipped. Contig
// names are resolved against dict. BED files declare no dictionary of their
// own.
func NewBEDTrack(name, path string, dict *interval.Dictionary) Track {
	return &bedTrack{name: name, path: path, dict: dict}
}

func (t *bedTrack) Name() string                     { return t.name }
func (t *bedTrack) Type() string                     { return TypeBED }
func (t *bedTrack) Dictionary() *interval.Dictionary { return nil }

func (t *bedTrack) Open(ctx context.Context) (RecordIterator, error) {
	r, closer, err := interval.OpenMaybeGzip(ctx, t.path)
	if err != nil {
		return nil, errors.E(err, "open track", t.name)
	}
	return &bedIterator{
		path:    t.path,
		dict:    t.dict,
		scanner: bufio.NewScanner(r),
		closer:  closer,
	}, nil
}

type bedIterator struct {
	path    string
	dict    *interval.Dictionary
	scanner *bufio.Scanner
	closer  func() error
	tokens  [maxBEDColumns][]byte
	lineIdx int
	lastChr string
	lastIdx int
	rec     *Feature
	err     error
}

func (it *bedIterator) Scan() bool {
	if it.err != nil {
		return false
	}
	for it.scanner.Scan() {
		it.lineIdx++
		line := it.scanner.Bytes()
		if interval.IsBEDHeader(line) {
			continue
		}
		n := interval.GetTokens(it.tokens[:], line)
		if n == 0 {
			continue
		}
		if n < 3 {
			it.err = it.errorf("has fewer tokens than expected")
			return false
		}
		if gunsafe.BytesToString(it.tokens[0]) != it.lastChr {
			it.lastChr = string(it.tokens[0])
			var ok bool
			if it.lastIdx, ok = it.dict.Index(it.lastChr); !ok {
				it.err = it.errorf("contig %s not in sequence dictionary", it.lastChr)
				return false
			}
		}
		start0, err := strconv.ParseInt(gunsafe.BytesToString(it.tokens[1]), 10, 64)
		if err != nil || start0 < 0 {
			it.err = it.errorf("invalid start coordinate %q", it.tokens[1])
			return false
		}
		end, err := strconv.ParseInt(gunsafe.BytesToString(it.tokens[2]), 10, 64)
		if err != nil || end <= start0 {
			it.err = it.errorf("invalid coordinate pair")
			return false
		}
		loc, err := it.dict.NewLocByIndex(it.lastIdx, start0+1, end)
		if err != nil {
			it.err = errors.E(err, fmt.Sprintf("%s: line %d", it.path, it.lineIdx))
			return false
		}
		f := &Feature{Location: loc}
		if n > 3 {
			f.Name = string(it.tokens[3])
		}
		for i := 4; i < n; i++ {
			f.Fields = append(f.Fields, string(it.tokens[i]))
		}
		it.rec = f
		return true
	}
	if err := it.scanner.Err(); err != nil {
		it.err = errors.E(errors.Invalid, err, it.path)
	}
	return false
}

func (it *bedIterator) errorf(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("%s: line %d: ", it.path, it.lineIdx)+fmt.Sprintf(format, args...))
}

func (it *bedIterator) Record() Record { return it.rec }
func (it *bedIterator) Err() error     { return it.err }

func (it *bedIterator) Close() error {
	err := it.closer()
	if it.err != nil {
		return it.err
	}
	return err
}
